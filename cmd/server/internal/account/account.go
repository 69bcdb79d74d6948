package account

import (
	"sync"
)

// Conn is one live client attachment. Implementations must make
// SendBytes non-blocking: a slow connection drops its own messages
// instead of stalling the account's other connections.
type Conn interface {
	ID() string
	SendBytes(b []byte)
	Close()
}

// Account is the unit of subscription and log state, shared by every
// connection that logged in with the same identifier. All fields are
// guarded by mu; an account's operations are serialized against each
// other and against the tick broadcaster.
type Account struct {
	id string

	mu     sync.Mutex
	subs   []string // insertion order, no duplicates
	logs   []string // most recent first, capped at logCap
	conns  map[Conn]bool
	logCap int
}

func newAccount(id string, logCap int) *Account {
	return &Account{
		id:     id,
		conns:  make(map[Conn]bool),
		logCap: logCap,
	}
}

func (a *Account) ID() string { return a.id }

// Attach registers a connection. Idempotent.
func (a *Account) Attach(c Conn) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns[c] = true
	return len(a.conns)
}

// Detach removes a connection and returns how many remain. The
// account itself lives on with its subscriptions and log.
func (a *Account) Detach(c Conn) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, c)
	return len(a.conns)
}

// Subscribe adds the symbol and records a log entry. Returns false
// without touching any state if the symbol is already subscribed.
func (a *Account) Subscribe(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.subs {
		if s == symbol {
			return false
		}
	}
	a.subs = append(a.subs, symbol)
	a.prependLog("Subscribed to " + symbol)
	return true
}

// Unsubscribe removes the symbol and records a log entry. Returns
// false without touching any state if the symbol is not subscribed.
func (a *Account) Unsubscribe(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.subs {
		if s == symbol {
			a.subs = append(a.subs[:i], a.subs[i+1:]...)
			a.prependLog("Unsubscribed from " + symbol)
			return true
		}
	}
	return false
}

// Subscriptions returns a copy of the subscription list in insertion
// order.
func (a *Account) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.subs))
	copy(out, a.subs)
	return out
}

// Logs returns a copy of the activity log, most recent first.
func (a *Account) Logs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	copy(out, a.logs)
	return out
}

// Send delivers the payloads, in order, to every currently attached
// connection. Delivery happens under the account lock: SendBytes is
// non-blocking, and holding the lock means a connection cannot be
// detached and closed while a delivery to it is in flight.
func (a *Account) Send(payloads ...[]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for c := range a.conns {
		for _, p := range payloads {
			c.SendBytes(p)
		}
	}
}

// TickState returns the subscription list and whether the account
// qualifies for a tick broadcast (at least one connection and one
// subscription), in a single lock hold.
func (a *Account) TickState() ([]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.conns) == 0 || len(a.subs) == 0 {
		return nil, false
	}
	out := make([]string, len(a.subs))
	copy(out, a.subs)
	return out, true
}

func (a *Account) prependLog(entry string) {
	a.logs = append([]string{entry}, a.logs...)
	if a.logCap > 0 && len(a.logs) > a.logCap {
		a.logs = a.logs[:a.logCap]
	}
}
