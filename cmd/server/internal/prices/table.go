package prices

import (
	"math"
	"math/rand"
	"sync"
)

const (
	// priceFloor keeps the random walk from driving a price to zero
	// or below.
	priceFloor = 1.0
	// maxStep bounds a single walk step to [-maxStep, +maxStep).
	maxStep = 5.0
)

// Rand is the source of randomness for price movement, extracted
// for deterministic testing.
type Rand interface {
	Float64() float64
}

// Table is the process-wide price store for a fixed symbol universe.
// Every universe symbol has a price from construction onward; Tick
// advances all of them by a bounded random walk. Readers always see a
// fully applied tick, never a partial one.
type Table struct {
	mu     sync.RWMutex
	prices map[string]float64
	order  []string
	rand   Rand
}

// NewTable seeds every symbol with a starting price in [100, 3100),
// rounded to cents.
func NewTable(symbols []string, rnd Rand) *Table {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}

	t := &Table{
		prices: make(map[string]float64, len(symbols)),
		rand:   rnd,
	}
	for _, s := range symbols {
		if _, ok := t.prices[s]; ok {
			continue
		}
		t.prices[s] = round2(100 + rnd.Float64()*3000)
		t.order = append(t.order, s)
	}
	return t
}

// Has reports whether the symbol is part of the universe.
func (t *Table) Has(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.prices[symbol]
	return ok
}

// Get returns the current price. The second result is false only for
// symbols outside the universe.
func (t *Table) Get(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[symbol]
	return p, ok
}

// Symbols returns the universe in seed order.
func (t *Table) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Snapshot returns a copy of the table restricted to the given
// symbols. Unknown symbols are omitted so a payload never leaks
// prices the caller did not ask for.
func (t *Table) Snapshot(symbols []string) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := t.prices[s]; ok {
			out[s] = p
		}
	}
	return out
}

// Tick moves every price by one bounded random step, clamped at the
// floor and rounded to cents. All symbols move under one lock hold.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.order {
		delta := (t.rand.Float64() - 0.5) * 2 * maxStep
		t.prices[s] = round2(math.Max(priceFloor, t.prices[s]+delta))
	}
}

// Set applies an externally supplied price (kafka feed mode).
// Symbols outside the universe and non-positive prices are rejected.
func (t *Table) Set(symbol string, price float64) bool {
	if price <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.prices[symbol]; !ok {
		return false
	}
	t.prices[symbol] = round2(math.Max(priceFloor, price))
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
