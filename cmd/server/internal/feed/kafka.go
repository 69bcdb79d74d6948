package feed

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/prices"
	"github.com/tickerhub/tickerhub/pkg/models"
)

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer applies externally produced price ticks to the price
// table. Messages are sharded to workers by symbol so that ticks for
// one symbol are applied in order, and stale sequence numbers are
// skipped.
type Consumer struct {
	table      *prices.Table
	reader     KafkaReader
	logger     *zap.Logger
	numWorkers int
}

func NewConsumer(table *prices.Table, reader KafkaReader, logger *zap.Logger, numWorkers int) *Consumer {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Consumer{
		table:      table,
		reader:     reader,
		logger:     logger,
		numWorkers: numWorkers,
	}
}

// Run consumes until the context is canceled, then drains the
// workers before returning.
func (c *Consumer) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, c.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < c.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go c.worker(i, workerChans[i], &wg)
	}

	c.logger.Info("Feed consumer started", zap.Int("workers", c.numWorkers))

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			c.logger.Error("Kafka Read Error", zap.Error(err))
			continue
		}

		// Deterministic Sharding: Same symbol always goes to same worker
		workerID := getWorkerID(m.Key, c.numWorkers)

		select {
		case workerChans[workerID] <- m.Value:
		case <-ctx.Done():
		default:
			// If the worker is behind we drop the packet; a newer
			// tick for the symbol is already on the way.
			c.logger.Warn("Dropping slow packet",
				zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
		}

		if ctx.Err() != nil {
			break
		}
	}

	for _, ch := range workerChans {
		close(ch)
	}
	c.logger.Info("Waiting for feed workers to drain...")
	wg.Wait()

	return nil
}

func (c *Consumer) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var tick models.PriceTick
		if err := json.Unmarshal(payload, &tick); err != nil {
			c.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		if tick.SeqID <= lastSeq[tick.Symbol] {
			c.logger.Debug("Skipping duplicate tick",
				zap.String("symbol", tick.Symbol), zap.Int64("seq_id", tick.SeqID))
			continue
		}

		if !c.table.Set(tick.Symbol, tick.Price) {
			c.logger.Warn("Rejected feed tick",
				zap.String("symbol", tick.Symbol), zap.Float64("price", tick.Price))
			continue
		}

		lastSeq[tick.Symbol] = tick.SeqID
		c.logger.Debug("Applied tick",
			zap.String("symbol", tick.Symbol), zap.Int("worker_id", id),
			zap.Float64("price", tick.Price))
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
