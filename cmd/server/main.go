package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/account"
	"github.com/tickerhub/tickerhub/cmd/server/internal/feed"
	"github.com/tickerhub/tickerhub/cmd/server/internal/gateway"
	"github.com/tickerhub/tickerhub/cmd/server/internal/hub"
	"github.com/tickerhub/tickerhub/cmd/server/internal/metrics"
	"github.com/tickerhub/tickerhub/cmd/server/internal/prices"
	"github.com/tickerhub/tickerhub/cmd/server/internal/ratelimit"
	"github.com/tickerhub/tickerhub/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.App.Env, cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	m := metrics.New()
	table := prices.NewTable(cfg.Server.Tickers, nil)
	registry := account.NewRegistry(cfg.Server.LogCapacity)
	wsHub := hub.NewHub(registry, table, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Price source: local random walk by default, external Kafka feed
	// when configured. Either way the broadcaster pushes the latest
	// table state on a fixed interval.
	advance := table.Tick
	var reader *kafka.Reader
	if cfg.Server.FeedMode == config.FeedModeKafka {
		advance = nil
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
		consumer := feed.NewConsumer(table, reader, logger, cfg.Kafka.NumWorkers)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Feed consumer stopped", zap.Error(err))
			}
		}()
	}

	broadcaster := hub.NewBroadcaster(registry, table, advance, cfg.Server.TickInterval, logger, m)
	go broadcaster.Run(ctx)

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	var rdb *redis.Client
	if cfg.RateLimit.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if cfg.App.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.App.StaticDir)))
	}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		allowed, err := limiter.Allow(r.Context(), ip)
		if err != nil {
			logger.Error("Rate limiter error", zap.Error(err))
			// Fail open: limiter trouble should not take down logins
			allowed = true
		}
		if !allowed {
			m.UpgradesRejected.Inc()
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger, m)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port),
			zap.Strings("tickers", cfg.Server.Tickers),
			zap.String("feed_mode", cfg.Server.FeedMode))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")
	cancel()

	if reader != nil {
		logger.Info("Closing Kafka Reader...")
		if err := reader.Close(); err != nil {
			logger.Error("Error closing reader", zap.Error(err))
		}
	}
	if rdb != nil {
		rdb.Close()
	}

	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}
