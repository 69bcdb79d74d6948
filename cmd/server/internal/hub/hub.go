package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/account"
	"github.com/tickerhub/tickerhub/cmd/server/internal/metrics"
	"github.com/tickerhub/tickerhub/cmd/server/internal/prices"
	"github.com/tickerhub/tickerhub/cmd/server/internal/protocol"
)

// Hub binds connections to accounts and applies subscription commands.
// A connection is anonymous until its first login, belongs to exactly
// one account afterwards, and every broadcast for an account reaches
// all of its live connections.
type Hub struct {
	registry *account.Registry
	table    *prices.Table
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	bound map[account.Conn]*account.Account
}

func NewHub(registry *account.Registry, table *prices.Table, logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		registry: registry,
		table:    table,
		logger:   logger,
		metrics:  m,
		bound:    make(map[account.Conn]*account.Account),
	}
}

// HandleMessage routes one parsed client message. Anything invalid is
// dropped without a reply; the drop reasons are counted.
func (h *Hub) HandleMessage(c account.Conn, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeLogin:
		h.Login(c, msg.Email)
	case protocol.TypeSubscribe:
		h.Subscribe(c, msg.Ticker)
	case protocol.TypeUnsubscribe:
		h.Unsubscribe(c, msg.Ticker)
	default:
		h.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonUnknownType).Inc()
	}
}

// Login binds the connection to the account for the given identifier,
// creating the account on first sight, and pushes the full state
// snapshot to this connection only. A second login on an already
// bound connection is ignored; rebinding is not supported.
func (h *Hub) Login(c account.Conn, identifier string) {
	id := account.Normalize(identifier)
	if id == "" {
		h.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonEmptyField).Inc()
		return
	}

	h.mu.Lock()
	if prev, ok := h.bound[c]; ok {
		h.mu.Unlock()
		h.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonRebind).Inc()
		h.logger.Warn("Ignoring second login on bound connection",
			zap.String("conn", c.ID()), zap.String("account", prev.ID()))
		return
	}
	acct := h.registry.Ensure(id)
	h.bound[c] = acct
	h.mu.Unlock()

	n := acct.Attach(c)

	// Snapshot push: subscriptions, then activity log, then the
	// prices for the subscribed subset.
	subs := acct.Subscriptions()
	c.SendBytes(marshal(protocol.NewSyncSubscriptions(subs)))
	c.SendBytes(marshal(protocol.NewActivityLog(acct.Logs())))
	c.SendBytes(marshal(protocol.NewPriceUpdate(h.table.Snapshot(subs))))

	h.logger.Info("Client connected",
		zap.String("account", acct.ID()), zap.Int("connections", n))
}

// Subscribe adds a symbol to the connection's account. On success all
// of the account's connections receive, in order: the subscription
// list, the price of the new symbol, and the activity log.
// Re-subscribing and invalid symbols change nothing and send nothing.
func (h *Hub) Subscribe(c account.Conn, ticker string) {
	acct, sym, ok := h.resolve(c, ticker)
	if !ok {
		return
	}

	price, known := h.table.Get(sym)
	if !known {
		h.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonInvalidSymbol).Inc()
		return
	}

	if !acct.Subscribe(sym) {
		return
	}

	acct.Send(
		marshal(protocol.NewSyncSubscriptions(acct.Subscriptions())),
		marshal(protocol.NewPriceUpdate(map[string]float64{sym: price})),
		marshal(protocol.NewActivityLog(acct.Logs())),
	)
	h.metrics.BroadcastsTotal.Inc()

	h.logger.Info("Subscribed",
		zap.String("account", acct.ID()), zap.String("ticker", sym))
}

// Unsubscribe removes a symbol from the connection's account. On
// success all of the account's connections receive the subscription
// list and the activity log; there is no price to report for a
// dropped symbol. Unsubscribing an absent symbol changes nothing.
func (h *Hub) Unsubscribe(c account.Conn, ticker string) {
	acct, sym, ok := h.resolve(c, ticker)
	if !ok {
		return
	}

	if !acct.Unsubscribe(sym) {
		return
	}

	acct.Send(
		marshal(protocol.NewSyncSubscriptions(acct.Subscriptions())),
		marshal(protocol.NewActivityLog(acct.Logs())),
	)
	h.metrics.BroadcastsTotal.Inc()

	h.logger.Info("Unsubscribed",
		zap.String("account", acct.ID()), zap.String("ticker", sym))
}

// Unregister detaches a closing connection from its account and
// closes it. Safe to call for connections that never logged in.
func (h *Hub) Unregister(c account.Conn) {
	h.mu.Lock()
	acct := h.bound[c]
	delete(h.bound, c)
	h.mu.Unlock()

	if acct != nil {
		n := acct.Detach(c)
		h.logger.Info("Client disconnected",
			zap.String("account", acct.ID()), zap.Int("connections", n))
	}
	c.Close()
}

// resolve maps a connection to its account and cleans up the ticker
// field, counting the drop reason when either fails.
func (h *Hub) resolve(c account.Conn, ticker string) (*account.Account, string, bool) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if sym == "" {
		h.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonEmptyField).Inc()
		return nil, "", false
	}

	h.mu.Lock()
	acct := h.bound[c]
	h.mu.Unlock()
	if acct == nil {
		h.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonPreLogin).Inc()
		return nil, "", false
	}
	return acct, sym, true
}

func marshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
