// Package supervisor owns the set of peers undergoing retrieve, spawning
// one retrieve.Worker goroutine per peer, restarting it on failure with
// backoff driven by the peer's retry counter, and exposing peer status for
// operational tooling (cmd/retrievectl).
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/vnodekit/retrievesync/internal/logger"
	"github.com/vnodekit/retrievesync/monitoring"
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/resilience"
	"github.com/vnodekit/retrievesync/retrieve"
	"github.com/vnodekit/retrievesync/vnode"
)

// Config configures a Supervisor.
type Config struct {
	LeaderFQDN   string
	LeaderPort   uint16
	DialTimeout  time.Duration
	RetryPolicy  *resilience.RetryPolicy
	BreakerMax   int32
	BreakerReset time.Duration
}

// Option configures a Supervisor.
type Option func(*Config)

// WithLeaderIdentity sets the FQDN/port advertised in the greeting packet.
func WithLeaderIdentity(fqdn string, port uint16) Option {
	return func(c *Config) {
		c.LeaderFQDN = fqdn
		c.LeaderPort = port
	}
}

// WithDialTimeout sets the per-run TCP dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// WithRetryPolicy overrides the restart backoff policy.
func WithRetryPolicy(p *resilience.RetryPolicy) Option {
	return func(c *Config) { c.RetryPolicy = p }
}

// WithBreaker overrides the per-peer circuit breaker thresholds that guard
// against hot-looping restarts of a persistently failing peer.
func WithBreaker(maxFailures int32, resetTimeout time.Duration) Option {
	return func(c *Config) {
		c.BreakerMax = maxFailures
		c.BreakerReset = resetTimeout
	}
}

func defaultConfig() *Config {
	return &Config{
		LeaderPort:   6030,
		DialTimeout:  5 * time.Second,
		RetryPolicy:  resilience.DefaultRetryPolicy(),
		BreakerMax:   8,
		BreakerReset: 30 * time.Second,
	}
}

// peerState bundles everything the supervisor tracks for one peer: its
// shared session, the breaker guarding its restart loop, the cancel switch
// that stops the restart loop when asked, and a one-slot channel an
// operator can signal to force an immediate restart.
type peerState struct {
	session *peer.Session
	breaker *resilience.PeerBreaker
	stop    chan struct{}
	restart chan struct{}
}

// Supervisor manages the lifecycle of retrieve workers across all peers of
// one vnode.
type Supervisor struct {
	cfg    *Config
	oracle vnode.VersionOracle

	mu    sync.Mutex
	peers map[string]*peerState
}

// New creates a Supervisor against the given oracle.
func New(oracle vnode.VersionOracle, opts ...Option) *Supervisor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Supervisor{
		cfg:    cfg,
		oracle: oracle,
		peers:  make(map[string]*peerState),
	}
}

// Start spawns a retrieve worker for peerID at addr and keeps restarting it
// (with backoff) until Stop is called or the caller's process exits. vgID
// identifies the replication group this peer belongs to.
func (s *Supervisor) Start(peerID, vgID, addr string) error {
	s.mu.Lock()
	if _, exists := s.peers[peerID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: peer %s already under retrieve", peerID)
	}

	session := peer.New(peerID, vgID)
	breaker := resilience.NewPeerBreaker(resilience.BreakerConfig{
		PeerID:                 peerID,
		MaxConsecutiveFailures: s.cfg.BreakerMax,
		CooldownPeriod:         s.cfg.BreakerReset,
		OnTransition: func(from, to resilience.BreakerState) {
			logger.Log.Warn("supervisor: peer {peerId} breaker {from} -> {to}", peerID, from, to)
			monitoring.UpdatePeerBreakerState(peerID, int(to))
		},
	})
	state := &peerState{
		session: session,
		breaker: breaker,
		stop:    make(chan struct{}),
		restart: make(chan struct{}, 1),
	}
	s.peers[peerID] = state
	s.mu.Unlock()

	monitoring.UpdateActivePeers(s.activeCount())

	go s.runLoop(state, addr)
	return nil
}

// Stop halts the restart loop for peerID; the in-flight run (if any) is
// left to finish or fail on its own, but no new run will be spawned.
func (s *Supervisor) Stop(peerID string) {
	s.mu.Lock()
	state, ok := s.peers[peerID]
	if ok {
		delete(s.peers, peerID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	close(state.stop)
	monitoring.UpdateActivePeers(s.activeCount())
}

// Restart forces an immediate restart of peerID's retrieve run: any
// in-flight connection is closed (failing the current run), the breaker is
// reset, and the restart loop skips its backoff wait for this one cycle.
// Returns an error if peerID is not currently under supervision.
func (s *Supervisor) Restart(peerID string) error {
	s.mu.Lock()
	state, ok := s.peers[peerID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: peer %s not under retrieve", peerID)
	}

	state.breaker.Reset()
	if conn := state.session.Conn(); conn != nil {
		conn.Close()
	}

	select {
	case state.restart <- struct{}{}:
	default:
		// a restart is already pending; no need to queue another
	}
	return nil
}

// Status returns a snapshot of every peer currently under supervision.
func (s *Supervisor) Status() []PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PeerStatus, 0, len(s.peers))
	for id, state := range s.peers {
		out = append(out, PeerStatus{
			PeerID:         id,
			VgID:           state.session.VgID,
			Sstatus:        state.session.Sstatus().String(),
			Sversion:       state.session.Sversion(),
			NumOfRetrieves: state.session.NumOfRetrieves(),
			BreakerState:   state.breaker.State().String(),
		})
	}
	return out
}

// PeerStatus is an operator-facing snapshot of one peer's retrieve state.
type PeerStatus struct {
	PeerID         string
	VgID           string
	Sstatus        string
	Sversion       uint64
	NumOfRetrieves uint32
	BreakerState   string
}

// NotifyFlowCtrl implements retrieve.FlowController.
func (s *Supervisor) NotifyFlowCtrl(vgID string, retries uint32) {
	monitoring.RecordFlowControlNotice(vgID, retries)
}

// SyncRestartConnection implements retrieve.RestartNotifier.
func (s *Supervisor) SyncRestartConnection(p *peer.Session) {
	monitoring.RecordRestart(p.VgID)
	logger.Log.Warn("supervisor: restart requested for peer {peerId}", p.PeerID)
}

func (s *Supervisor) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// runLoop repeatedly spawns a retrieve.Worker run for state.session, gated
// by the per-peer circuit breaker and backed off according to
// state.session.NumOfRetrieves(), until Stop closes state.stop or the peer
// reaches CACHE status (retrieve is done; live forwarding owns it from
// here).
func (s *Supervisor) runLoop(state *peerState, addr string) {
	session := state.session

	for {
		select {
		case <-state.stop:
			return
		default:
		}

		worker, err := retrieve.New(s.oracle,
			retrieve.WithAddr(addr),
			retrieve.WithDialTimeout(s.cfg.DialTimeout),
			retrieve.WithLeaderIdentity(s.cfg.LeaderFQDN, s.cfg.LeaderPort),
			retrieve.WithFlowController(s),
			retrieve.WithRestartNotifier(s),
		)
		if err != nil {
			logger.Log.Error("supervisor: failed to build worker for peer {peerId}: {error}", session.PeerID, err)
			return
		}

		session.Acquire()
		runErr := state.breaker.Run(func() error {
			return worker.Run(session)
		})

		if runErr == nil {
			monitoring.RecordHandoff(session.VgID)
			return
		}

		if session.Sstatus() == peer.StatusCache {
			return
		}

		monitoring.UpdatePeerRetries(session.PeerID, session.NumOfRetrieves())
		delay := s.cfg.RetryPolicy.Delay(int(session.NumOfRetrieves()))
		logger.Log.Info("supervisor: backing off {delay} before retrying peer {peerId} (retries={retries})",
			delay, session.PeerID, session.NumOfRetrieves())

		select {
		case <-state.stop:
			return
		case <-state.restart:
			logger.Log.Info("supervisor: forced restart for peer {peerId}", session.PeerID)
		case <-time.After(delay):
		}
	}
}
