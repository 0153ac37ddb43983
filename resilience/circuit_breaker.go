// Package resilience provides restart backoff and circuit-breaking for a
// supervisor driving long-running peer retrieve workers.
package resilience

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is a circuit breaker's position in its closed/open/half-open
// cycle.
type BreakerState int32

const (
	// BreakerClosed lets retrieve runs start normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen blocks new retrieve runs for a peer that keeps failing.
	BreakerOpen
	// BreakerHalfOpen allows one probe run to test whether the peer recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// PeerBreaker gates retrieve restarts for a single peer: after
// MaxConsecutiveFailures runs fail in a row it opens and blocks further
// restarts until CooldownPeriod has elapsed, then allows ProbeCalls runs
// through to decide whether to close again or reopen.
type PeerBreaker struct {
	mu               sync.RWMutex
	lastFailureAt    time.Time
	lastOpenedAt     time.Time
	onTransition     func(from, to BreakerState)
	peerID           string
	cooldown         time.Duration
	totalRuns        int64
	totalFailures    int64
	totalSuccesses   int64
	state            int32
	consecutiveFails int32
	probeCalls       int32
	probesInFlight   int32
	probeSuccesses   int32
	maxConsecutive   int32
}

// BreakerConfig configures a PeerBreaker.
type BreakerConfig struct {
	// PeerID labels the breaker in logs and stats.
	PeerID string
	// MaxConsecutiveFailures is the number of back-to-back failed runs
	// that trips the breaker open.
	MaxConsecutiveFailures int32
	// CooldownPeriod is how long the breaker stays open before allowing a
	// probe run.
	CooldownPeriod time.Duration
	// ProbeCalls is how many successful probe runs in half-open state are
	// required to close the breaker again.
	ProbeCalls int32
	// OnTransition, if set, is invoked whenever the breaker changes state.
	OnTransition func(from, to BreakerState)
}

// NewPeerBreaker creates a breaker guarding restarts of one peer.
func NewPeerBreaker(cfg BreakerConfig) *PeerBreaker {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 60 * time.Second
	}
	if cfg.ProbeCalls <= 0 {
		cfg.ProbeCalls = 1
	}

	return &PeerBreaker{
		peerID:         cfg.PeerID,
		maxConsecutive: cfg.MaxConsecutiveFailures,
		cooldown:       cfg.CooldownPeriod,
		probeCalls:     cfg.ProbeCalls,
		onTransition:   cfg.OnTransition,
		state:          int32(BreakerClosed),
	}
}

// Run gates one retrieve attempt through the breaker, recording its outcome.
func (b *PeerBreaker) Run(attempt func() error) error {
	if !b.admit() {
		return fmt.Errorf("resilience: peer %s breaker is open", b.peerID)
	}

	atomic.AddInt64(&b.totalRuns, 1)
	err := attempt()

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return err
}

// admit reports whether a new run is allowed to start right now, tripping
// the open-to-half-open transition as a side effect once the cooldown has
// elapsed.
func (b *PeerBreaker) admit() bool {
	switch BreakerState(atomic.LoadInt32(&b.state)) {
	case BreakerClosed:
		return true

	case BreakerOpen:
		b.mu.RLock()
		cooledDown := time.Since(b.lastFailureAt) > b.cooldown
		b.mu.RUnlock()
		if !cooledDown {
			return false
		}
		b.transitionTo(BreakerHalfOpen)
		return true

	case BreakerHalfOpen:
		inFlight := atomic.AddInt32(&b.probesInFlight, 1)
		return inFlight <= b.probeCalls

	default:
		return false
	}
}

func (b *PeerBreaker) recordFailure() {
	atomic.AddInt64(&b.totalFailures, 1)
	fails := atomic.AddInt32(&b.consecutiveFails, 1)

	b.mu.Lock()
	b.lastFailureAt = time.Now()
	b.mu.Unlock()

	switch BreakerState(atomic.LoadInt32(&b.state)) {
	case BreakerClosed:
		if fails >= b.maxConsecutive {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		// A probe run failing reopens the breaker immediately.
		b.transitionTo(BreakerOpen)
	}
}

func (b *PeerBreaker) recordSuccess() {
	atomic.AddInt64(&b.totalSuccesses, 1)
	atomic.StoreInt32(&b.consecutiveFails, 0)

	switch BreakerState(atomic.LoadInt32(&b.state)) {
	case BreakerHalfOpen:
		successes := atomic.AddInt32(&b.probeSuccesses, 1)
		if successes >= b.probeCalls {
			b.transitionTo(BreakerClosed)
		}
	case BreakerClosed:
		atomic.StoreInt32(&b.consecutiveFails, 0)
	}
}

func (b *PeerBreaker) transitionTo(next BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := BreakerState(atomic.LoadInt32(&b.state))
	if prev == next {
		return
	}
	atomic.StoreInt32(&b.state, int32(next))

	switch next {
	case BreakerClosed, BreakerHalfOpen:
		atomic.StoreInt32(&b.consecutiveFails, 0)
		atomic.StoreInt32(&b.probeSuccesses, 0)
		atomic.StoreInt32(&b.probesInFlight, 0)
	case BreakerOpen:
		b.lastOpenedAt = time.Now()
		atomic.StoreInt32(&b.probeSuccesses, 0)
		atomic.StoreInt32(&b.probesInFlight, 0)
	}

	if b.onTransition != nil {
		b.onTransition(prev, next)
	}
}

// State returns the breaker's current position in the closed/open/half-open
// cycle.
func (b *PeerBreaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&b.state))
}

// Stats returns a snapshot of the breaker's counters, for operator tooling.
func (b *PeerBreaker) Stats() BreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BreakerStats{
		PeerID:              b.peerID,
		State:               BreakerState(atomic.LoadInt32(&b.state)),
		TotalRuns:           atomic.LoadInt64(&b.totalRuns),
		TotalFailures:       atomic.LoadInt64(&b.totalFailures),
		TotalSuccesses:      atomic.LoadInt64(&b.totalSuccesses),
		ConsecutiveFailures: atomic.LoadInt32(&b.consecutiveFails),
		LastFailureAt:       b.lastFailureAt,
		LastOpenedAt:        b.lastOpenedAt,
	}
}

// Reset forces the breaker back to closed, clearing the consecutive-failure
// and probe counters; the lifetime totals reported by Stats are kept.
// Exposed for operator intervention: Supervisor.Restart (behind
// "retrievectl restart") calls it to force a clean slate rather than wait
// out the cooldown.
func (b *PeerBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	atomic.StoreInt32(&b.state, int32(BreakerClosed))
	atomic.StoreInt32(&b.consecutiveFails, 0)
	atomic.StoreInt32(&b.probeSuccesses, 0)
	atomic.StoreInt32(&b.probesInFlight, 0)
}

// BreakerStats is a point-in-time snapshot of a PeerBreaker.
type BreakerStats struct {
	LastFailureAt       time.Time
	LastOpenedAt        time.Time
	PeerID              string
	TotalRuns           int64
	TotalFailures       int64
	TotalSuccesses      int64
	State               BreakerState
	ConsecutiveFailures int32
}

// FailureRate returns the fraction of runs that have failed, or 0 if none
// have run yet.
func (s *BreakerStats) FailureRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRuns)
}
