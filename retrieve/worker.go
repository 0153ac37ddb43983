// Package retrieve implements the top-level leader-to-follower catch-up
// state machine: one worker per peer under retrieve, opening a dedicated
// TCP connection, running the file phase then the WAL phase, and handing
// off to live forwarding.
package retrieve

import (
	"fmt"
	"time"

	"github.com/vnodekit/retrievesync/filestream"
	"github.com/vnodekit/retrievesync/internal/logger"
	"github.com/vnodekit/retrievesync/monitoring"
	"github.com/vnodekit/retrievesync/mutation"
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode"
	"github.com/vnodekit/retrievesync/walstream"
	"github.com/vnodekit/retrievesync/wire"
)

// FlowController is notified of the peer's current retry count so the
// surrounding system can throttle how aggressively it schedules this peer.
// Implemented by the supervisor; optional (nil is fine).
type FlowController interface {
	NotifyFlowCtrl(vgID string, retries uint32)
}

// RestartNotifier is the supervisor callback invoked when a run fails and
// must be restarted from scratch.
type RestartNotifier interface {
	SyncRestartConnection(p *peer.Session)
}

// DialFunc opens the dedicated TCP connection to a peer's sync port.
type DialFunc func(addr string, timeout time.Duration) (*wire.FramedConn, error)

// Config configures a Worker.
type Config struct {
	Addr          string
	LeaderFQDN    string
	LeaderPort    uint16
	DialTimeout   time.Duration
	Dial          DialFunc
	FlowCtrl      FlowController
	RestartNotify RestartNotifier
}

// Option configures a Worker.
type Option func(*Config) error

// WithAddr sets the peer's sync-port address to dial.
func WithAddr(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return fmt.Errorf("retrieve: address must not be empty")
		}
		c.Addr = addr
		return nil
	}
}

// WithDialTimeout sets the timeout for the initial TCP dial.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("retrieve: dial timeout must be positive")
		}
		c.DialTimeout = d
		return nil
	}
}

// WithDialFunc overrides how the worker dials the peer, for tests.
func WithDialFunc(dial DialFunc) Option {
	return func(c *Config) error {
		c.Dial = dial
		return nil
	}
}

// WithFlowController sets the flow-control callback.
func WithFlowController(fc FlowController) Option {
	return func(c *Config) error {
		c.FlowCtrl = fc
		return nil
	}
}

// WithRestartNotifier sets the supervisor restart callback.
func WithRestartNotifier(rn RestartNotifier) Option {
	return func(c *Config) error {
		c.RestartNotify = rn
		return nil
	}
}

// WithLeaderIdentity sets the FQDN/port advertised in the greeting packet.
func WithLeaderIdentity(fqdn string, port uint16) Option {
	return func(c *Config) error {
		c.LeaderFQDN = fqdn
		c.LeaderPort = port
		return nil
	}
}

func defaultConfig() *Config {
	return &Config{
		DialTimeout: 5 * time.Second,
		Dial:        wire.Dial,
		LeaderPort:  6030,
	}
}

// Worker drives one retrieve run for one peer.
type Worker struct {
	cfg     *Config
	oracle  vnode.VersionOracle
	watcher *mutation.Watcher
	files   *filestream.Streamer
	wals    *walstream.Streamer
}

// New creates a Worker against the given oracle and peer address.
func New(oracle vnode.VersionOracle, opts ...Option) (*Worker, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("retrieve: invalid configuration: %w", err)
		}
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("retrieve: peer address is required")
	}

	watcher := mutation.New(oracle)
	return &Worker{
		cfg:     cfg,
		oracle:  oracle,
		watcher: watcher,
		files:   filestream.New(oracle, watcher),
		wals:    walstream.New(oracle, watcher),
	}, nil
}

// Run executes a single retrieve run for p to completion or failure. On
// failure it closes the connection and invokes the restart notifier; it
// never retries internally — restart is always the supervisor's job.
func (w *Worker) Run(p *peer.Session) error {
	start := time.Now()
	if err := w.runOnce(p); err != nil {
		monitoring.RecordRunDuration(p.VgID, "failed", time.Since(start).Seconds())
		w.fail(p, err)
		return err
	}
	monitoring.RecordRunDuration(p.VgID, "ok", time.Since(start).Seconds())
	w.succeed(p)
	return nil
}

func (w *Worker) runOnce(p *peer.Session) error {
	conn, err := w.cfg.Dial(w.cfg.Addr, w.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("retrieve: dial: %w", err)
	}
	p.SetConn(conn)

	if w.cfg.FlowCtrl != nil {
		w.cfg.FlowCtrl.NotifyFlowCtrl(p.VgID, p.NumOfRetrieves())
	}

	if err := w.greet(p); err != nil {
		return err
	}

	p.SetSstatus(peer.StatusFile)
	p.SetSversion(0)

	if err := w.files.Run(p); err != nil {
		return fmt.Errorf("retrieve: file phase: %w", err)
	}

	// Guarantee the WAL phase sees a forward-moving cursor even if no
	// files were shipped because the peer already had them all.
	if p.Sversion() == 0 {
		p.SetSversion(1)
	}

	if err := w.wals.Run(p); err != nil {
		return fmt.Errorf("retrieve: WAL phase: %w", err)
	}

	if err := walstream.WriteSentinel(p); err != nil {
		return fmt.Errorf("retrieve: end sentinel: %w", err)
	}

	return nil
}

func (w *Worker) greet(p *peer.Session) error {
	greeting := &wire.FirstPkt{MsgType: wire.MsgTypeSyncData, Port: w.cfg.LeaderPort}
	var fqdn [wire.FQDNLen]byte
	copy(fqdn[:], w.cfg.LeaderFQDN)
	greeting.FQDN = fqdn

	data, err := greeting.Marshal()
	if err != nil {
		return fmt.Errorf("retrieve: marshal greeting: %w", err)
	}
	if err := p.Conn().WriteExact(data); err != nil {
		return fmt.Errorf("retrieve: write greeting: %w", err)
	}

	rspBuf := make([]byte, (&wire.FirstPktRsp{}).Size())
	if err := p.Conn().ReadExact(rspBuf); err != nil {
		return fmt.Errorf("retrieve: read greeting response: %w", err)
	}
	if _, err := wire.UnmarshalFirstPktRsp(rspBuf); err != nil {
		return fmt.Errorf("retrieve: unmarshal greeting response: %w", err)
	}
	return nil
}

func (w *Worker) fail(p *peer.Session, cause error) {
	logger.Log.Warn("retrieve: run failed for peer {peerId}: {error}", p.PeerID, cause)
	if p.Conn() != nil {
		_ = p.Conn().Close()
		p.SetConn(nil)
	}
	if w.cfg.RestartNotify != nil {
		w.cfg.RestartNotify.SyncRestartConnection(p)
	}
	w.finish(p)
}

func (w *Worker) succeed(p *peer.Session) {
	logger.Log.Info("retrieve: run complete for peer {peerId} at version {sversion}", p.PeerID, p.Sversion())
	if p.Conn() != nil {
		_ = p.Conn().Close()
		p.SetConn(nil)
	}
	w.finish(p)
}

// finish applies the DONE/FAILED exit action common to both outcomes:
// bump the retry counter on a productive retry, or reset it and notify
// flow control on a clean idle run, then clear fileChanged and release the
// worker's reference on the peer.
func (w *Worker) finish(p *peer.Session) {
	if p.FileChanged() {
		p.IncNumOfRetrieves()
	} else {
		p.ResetNumOfRetrieves()
		if w.cfg.FlowCtrl != nil {
			w.cfg.FlowCtrl.NotifyFlowCtrl(p.VgID, 0)
		}
	}
	p.SetFileChanged(false)
	p.Release()
}
