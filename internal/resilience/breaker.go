// Package resilience provides the failover primitives the engine uses around
// model providers: a three-state circuit breaker and an ordered chain that
// reports which entry actually served a call.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not elapsed.
var ErrOpen = errors.New("breaker open")

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripThreshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	TripThreshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 20s.
	Cooldown time.Duration
}

// Breaker is a three-state circuit breaker: closed while healthy, open after
// TripThreshold consecutive failures, and half-open after the cooldown. Half
// open admits a single probe call; its outcome decides between closed and
// open.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration

	mu       sync.Mutex
	open     bool
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a breaker from cfg, filling in defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripThreshold <= 0 {
		cfg.TripThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 20 * time.Second
	}
	return &Breaker{name: cfg.Name, trip: cfg.TripThreshold, cooldown: cfg.Cooldown}
}

// Do runs fn unless the breaker is open. While open and cooling down it
// returns [ErrOpen] without calling fn; once the cooldown elapses exactly one
// probe call is admitted at a time.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.open {
		if time.Since(b.openedAt) < b.cooldown || b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
		slog.Info("breaker probing", "name", b.name)
	}
	probe := b.probing
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if err != nil {
		b.failures++
		if probe || b.failures >= b.trip {
			if !b.open {
				slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
			}
			b.open = true
			b.openedAt = time.Now()
		}
		return err
	}
	if b.open {
		slog.Info("breaker closed", "name", b.name)
	}
	b.open = false
	b.failures = 0
	return nil
}

// Healthy reports whether the breaker would currently admit a call.
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open || (time.Since(b.openedAt) >= b.cooldown && !b.probing)
}
