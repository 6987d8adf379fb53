package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrExhausted is returned by [Run] when every chain entry failed or had an
// open breaker.
var ErrExhausted = errors.New("all chain entries failed")

type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds an ordered list of interchangeable providers, each guarded by
// its own breaker. Entries are tried in registration order; the first healthy
// success wins.
type Chain[T any] struct {
	mu      sync.RWMutex
	cfg     BreakerConfig
	entries []chainEntry[T]
}

// NewChain creates an empty chain whose per-entry breakers derive from cfg.
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends an entry. The first entry added is the primary.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.cfg
	cfg.Name = name
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, chainEntry[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of registered entries.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run tries fn against each entry in order and returns the result together
// with the name of the entry that produced it, so callers can disclose when a
// non-primary served the request. Open-breaker entries are skipped. A
// package-level function because methods cannot add type parameters.
func Run[T, R any](c *Chain[T], fn func(T) (R, error)) (R, string, error) {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for i := range entries {
		e := &entries[i]
		var out R
		err := e.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return out, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("chain entry skipped, breaker open", "entry", e.name)
		} else {
			slog.Warn("chain entry failed", "entry", e.name, "error", err)
		}
	}
	if lastErr == nil {
		return zero, "", ErrExhausted
	}
	return zero, "", fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
