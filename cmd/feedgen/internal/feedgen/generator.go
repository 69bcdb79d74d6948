package feedgen

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/pkg/models"
)

const (
	priceFloor = 1.0
	maxStep    = 5.0
)

// TickGenerator publishes a bounded random-walk price tick stream to
// Kafka, one symbol per message, keyed by symbol so partition order
// matches tick order. Sequence numbers are monotonic per symbol; the
// consumer uses them to discard stale redeliveries.
type TickGenerator struct {
	logger   *zap.Logger
	writer   KafkaWriter
	tickers  []string
	interval time.Duration
	rand     Rand
	clock    Clock

	prices      map[string]float64
	seqCounters map[string]int64
}

func NewTickGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	tickers []string,
	interval time.Duration,
	rnd Rand,
	clock Clock,
) *TickGenerator {
	g := &TickGenerator{
		logger:      logger,
		writer:      writer,
		tickers:     tickers,
		interval:    interval,
		rand:        rnd,
		clock:       clock,
		prices:      make(map[string]float64, len(tickers)),
		seqCounters: make(map[string]int64),
	}
	for _, t := range tickers {
		g.prices[t] = round2(100 + rnd.Float64()*3000)
	}
	return g
}

func (g *TickGenerator) Run(ctx context.Context) {
	g.logger.Info("Generator Started", zap.Strings("tickers", g.tickers))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.tickers) == 0 {
				g.clock.Sleep(time.Second)
				continue
			}

			symbol := g.tickers[g.rand.Intn(len(g.tickers))]
			g.prices[symbol] = g.step(g.prices[symbol])
			g.seqCounters[symbol]++

			tick := models.PriceTick{
				Symbol:    symbol,
				Price:     g.prices[symbol],
				Timestamp: g.clock.Now().UnixMicro(),
				SeqID:     g.seqCounters[symbol],
			}

			payload, _ := json.Marshal(tick) // Error ignored for simplicity in loop

			err := g.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(symbol),
				Value: payload,
			})

			if err != nil {
				g.logger.Error("Kafka Write Error", zap.Error(err))
			}

			g.clock.Sleep(g.interval)
		}
	}
}

// step advances one price by a bounded move, clamped at the floor and
// rounded to cents, matching the server's local walk.
func (g *TickGenerator) step(price float64) float64 {
	delta := (g.rand.Float64() - 0.5) * 2 * maxStep
	return round2(math.Max(priceFloor, price+delta))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
