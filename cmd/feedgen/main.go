package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/feedgen/internal/feedgen"
	"github.com/tickerhub/tickerhub/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.App.Env, cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	clock := feedgen.RealClock{}
	rnd := feedgen.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

	// Ensure the topic exists before the first write
	creator := feedgen.NewTopicCreator(logger, &feedgen.RealKafkaDialer{Dialer: kafka.DefaultDialer}, clock)
	creator.Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Batch writes to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	gen := feedgen.NewTickGenerator(logger, writer,
		cfg.Server.Tickers, cfg.Server.TickInterval, rnd, clock)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go gen.Run(ctx)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush the async writer buffer before exiting
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
