package hub_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/account"
	"github.com/tickerhub/tickerhub/cmd/server/internal/hub"
	"github.com/tickerhub/tickerhub/cmd/server/internal/metrics"
	"github.com/tickerhub/tickerhub/cmd/server/internal/prices"
	"github.com/tickerhub/tickerhub/cmd/server/internal/protocol"
	"github.com/tickerhub/tickerhub/cmd/server/internal/testutils"
)

func setupBroadcaster() (*hub.Hub, *hub.Broadcaster, *prices.Table) {
	registry := account.NewRegistry(100)
	table := prices.NewTable(universe, testutils.FixedRand{Val: 0.5})
	m := metrics.New()
	h := hub.NewHub(registry, table, zap.NewNop(), m)
	b := hub.NewBroadcaster(registry, table, table.Tick, 10*time.Millisecond, zap.NewNop(), m)
	return h, b, table
}

func TestBroadcaster_RestrictsToSubscriptions(t *testing.T) {
	h, b, _ := setupBroadcaster()
	c := testutils.NewMockConn("c1")
	h.Login(c, "a@x.com")
	h.Subscribe(c, "GOOG")
	base := c.Count()

	b.Tick()

	if c.Count() != base+1 {
		t.Fatalf("Expected one tick message, got %d", c.Count()-base)
	}
	msg := c.Message(base)
	if msg["type"] != protocol.TypePriceUpdate {
		t.Fatalf("Expected price-update, got %v", msg["type"])
	}
	p := msg["prices"].(map[string]interface{})
	if len(p) != 1 {
		t.Fatalf("Tick payload should contain exactly GOOG, got %v", p)
	}
	if _, ok := p["GOOG"]; !ok {
		t.Errorf("Tick payload missing GOOG: %v", p)
	}
}

func TestBroadcaster_SkipsUnsubscribedAccounts(t *testing.T) {
	h, b, _ := setupBroadcaster()
	c := testutils.NewMockConn("c1")
	h.Login(c, "a@x.com")
	base := c.Count()

	b.Tick()

	if c.Count() != base {
		t.Error("Account without subscriptions must receive no tick message")
	}
}

func TestBroadcaster_SkipsDisconnectedAccounts(t *testing.T) {
	h, b, _ := setupBroadcaster()
	c := testutils.NewMockConn("c1")
	h.Login(c, "a@x.com")
	h.Subscribe(c, "GOOG")
	h.Unregister(c)
	base := c.Count()

	b.Tick()

	// The account keeps its subscription but has no live connections
	if c.Count() != base {
		t.Error("Tick must skip accounts with zero connections")
	}
}

func TestBroadcaster_FansOutToAllConnections(t *testing.T) {
	h, b, _ := setupBroadcaster()
	c1 := testutils.NewMockConn("c1")
	c2 := testutils.NewMockConn("c2")
	h.Login(c1, "a@x.com")
	h.Login(c2, "a@x.com")
	h.Subscribe(c1, "TSLA")
	b1, b2 := c1.Count(), c2.Count()

	b.Tick()

	if c1.Count() != b1+1 || c2.Count() != b2+1 {
		t.Error("Every connection of a subscribed account should get the tick")
	}
}

func TestBroadcaster_AdvancesPrices(t *testing.T) {
	registry := account.NewRegistry(100)
	// 1.0 forces the maximum upward step each tick
	table := prices.NewTable(universe, testutils.FixedRand{Val: 1.0})
	b := hub.NewBroadcaster(registry, table, table.Tick, time.Millisecond, zap.NewNop(), metrics.New())

	before, _ := table.Get("GOOG")
	b.Tick()
	after, _ := table.Get("GOOG")

	if after != before+5 {
		t.Errorf("Expected price to advance by the walk step, %f -> %f", before, after)
	}
}

func TestBroadcaster_RunStopsOnCancel(t *testing.T) {
	_, b, _ := setupBroadcaster()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcaster did not stop after cancel")
	}
}
