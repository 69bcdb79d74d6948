package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/account"
	"github.com/tickerhub/tickerhub/cmd/server/internal/metrics"
	"github.com/tickerhub/tickerhub/cmd/server/internal/prices"
	"github.com/tickerhub/tickerhub/cmd/server/internal/protocol"
)

// Broadcaster pushes periodic price updates. Each cycle advances the
// price source and sends every connected, subscribed account exactly
// the subset of prices it is subscribed to. The advance step is
// pluggable: the local random walk in local feed mode, a no-op when
// prices arrive from an external feed.
type Broadcaster struct {
	registry *account.Registry
	table    *prices.Table
	advance  func()
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewBroadcaster(
	registry *account.Registry,
	table *prices.Table,
	advance func(),
	interval time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		table:    table,
		advance:  advance,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// Run drives tick cycles until the context is canceled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("Broadcaster started", zap.Duration("interval", b.interval))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Broadcaster stopped")
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick runs one cycle. Accounts with no connections or no
// subscriptions are skipped before any payload is built. Payloads are
// marshaled once per account; delivery is non-blocking, so one stuck
// connection cannot hold up the cycle.
func (b *Broadcaster) Tick() {
	if b.advance != nil {
		b.advance()
	}
	b.metrics.TicksTotal.Inc()

	b.registry.ForEach(func(a *account.Account) {
		subs, ok := a.TickState()
		if !ok {
			return
		}
		a.Send(marshal(protocol.NewPriceUpdate(b.table.Snapshot(subs))))
		b.metrics.BroadcastsTotal.Inc()
	})
}
