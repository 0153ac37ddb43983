// Package walstream streams a vnode's rotated write-ahead-log files whole,
// then tails the currently-open WAL record-by-record until the peer has
// caught up to a latched target version, handing off to live forwarding at
// the moment the WAL is observed to quiesce.
package walstream

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vnodekit/retrievesync/internal/logger"
	"github.com/vnodekit/retrievesync/monitoring"
	"github.com/vnodekit/retrievesync/mutation"
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode"
	"github.com/vnodekit/retrievesync/wire"
)

// TailPollInterval is the sleep between live-WAL tail passes when a pass
// reads zero bytes and the WAL has not advanced — the only voluntary sleep
// in the whole run.
const TailPollInterval = 10 * time.Millisecond

// Streamer ships rotated WALs and tails the live WAL for one peer.
type Streamer struct {
	oracle  vnode.VersionOracle
	watcher *mutation.Watcher
	open    func(name string) (*os.File, error)
	sleep   func(time.Duration)
}

// New creates a Streamer against the given oracle.
func New(oracle vnode.VersionOracle, watcher *mutation.Watcher) *Streamer {
	return &Streamer{oracle: oracle, watcher: watcher, open: os.Open, sleep: time.Sleep}
}

// WithOpenFunc overrides how the streamer opens WAL files, for tests.
func (s *Streamer) WithOpenFunc(open func(name string) (*os.File, error)) *Streamer {
	s.open = open
	return s
}

// WithSleepFunc overrides the tail-poll sleep, for tests that want to
// observe the loop without real wall-clock delay.
func (s *Streamer) WithSleepFunc(sleep func(time.Duration)) *Streamer {
	s.sleep = sleep
	return s
}

// Run streams every rotated WAL whole (phase A), then tails the live WAL
// until the peer reaches the latched target version (phase B).
func (s *Streamer) Run(p *peer.Session) error {
	if err := s.runRotated(p); err != nil {
		return err
	}
	return s.runTail(p)
}

// runRotated is phase A: whole rotated WALs, shipped as opaque blobs. No
// per-record framing — rotated WALs are immutable, so the receiver re-parses
// record boundaries using its own internal WAL structure.
func (s *Streamer) runRotated(p *peer.Session) error {
	for {
		name, _, isLast, err := s.oracle.GetWalInfo(p.VgID)
		if err != nil {
			return fmt.Errorf("walstream: getWalInfo: %w", err)
		}
		if isLast {
			return nil
		}

		if err := s.sendWholeFile(p, name); err != nil {
			return err
		}

		if s.watcher.FilesModified(p) {
			logger.Log.Warn("walstream: file set changed during rotated-WAL phase for peer {peerId}", p.PeerID)
			return fmt.Errorf("walstream: file set modified during rotated-WAL phase")
		}
	}
}

func (s *Streamer) sendWholeFile(p *peer.Session, name string) error {
	f, err := s.open(name)
	if err != nil {
		return fmt.Errorf("walstream: open %s: %w", name, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("walstream: stat %s: %w", name, err)
	}

	if err := p.Conn().SendFileRange(f, stat.Size()); err != nil {
		return fmt.Errorf("walstream: send %s: %w", name, err)
	}
	monitoring.RecordBytesShipped(p.VgID, "rotated_wal", stat.Size())
	return nil
}

// runTail is phase B: tailing the currently-open WAL. fversion==0 is the
// "handoff has not yet happened" latch; it is set exactly once, the first
// time the WAL is observed stable across a pass (or after at least one pass
// has completed, whichever comes first — waiting for a guaranteed-stable
// WAL could stall forever under steady write traffic).
func (s *Streamer) runTail(p *peer.Session) error {
	name, _, _, err := s.oracle.GetWalInfo(p.VgID)
	if err != nil {
		return fmt.Errorf("walstream: getWalInfo (tail): %w", err)
	}

	var offset int64
	var fversion uint64
	var once bool

	for {
		passStart := time.Now()

		if s.watcher.FilesModified(p) {
			return fmt.Errorf("walstream: file set modified during tail")
		}
		if _, _, gerr := s.oracle.GetVersion(p.VgID); gerr == vnode.ErrBusy {
			return fmt.Errorf("walstream: %w", vnode.ErrBusy)
		}

		n, err := s.tailOnce(p, name, fversion, offset)
		if err != nil {
			return fmt.Errorf("walstream: tailOnce: %w", err)
		}

		walMod := s.watcher.WalModified(p)

		if !walMod || once {
			if fversion == 0 {
				p.SetSstatus(peer.StatusCache)
				fversion = s.oracle.CurrentNodeVersion(p.VgID)
				logger.Log.Info("walstream: handoff for peer {peerId} at target version {fversion}", p.PeerID, fversion)
			}
		}

		if p.Sversion() >= fversion && fversion > 0 {
			return nil
		}

		if n == 0 && !walMod {
			s.sleep(TailPollInterval)
		}

		monitoring.TailPasses.Observe(time.Since(passStart).Seconds())
		once = true
		offset += n
	}
}

// tailOnce opens name at offset and reads as many complete WalHead+body
// records as are available, writing each to the peer and advancing
// p.Sversion. A partial header or body at EOF is not an error: it returns
// the bytes consumed so far and the caller retries from the new offset
// after the WAL has had a chance to grow. A hard read error returns -1.
func (s *Streamer) tailOnce(p *peer.Session, name string, fversion uint64, offset int64) (int64, error) {
	f, err := s.open(name)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return -1, fmt.Errorf("seek %s: %w", name, err)
	}

	var bytesRead int64
	headBuf := make([]byte, (&wire.WalHead{}).Size())

	for {
		n, err := io.ReadFull(f, headBuf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return bytesRead, nil
		}
		if err != nil {
			return -1, fmt.Errorf("read WalHead: %w", err)
		}
		if n < len(headBuf) {
			return bytesRead, nil
		}

		head, err := wire.UnmarshalWalHead(headBuf)
		if err != nil {
			return -1, err
		}

		body := make([]byte, head.Len)
		if _, err := io.ReadFull(f, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return bytesRead, nil
			}
			return -1, fmt.Errorf("read WAL record body: %w", err)
		}

		if err := writeWalRecord(p, head, body); err != nil {
			return -1, err
		}
		monitoring.RecordWalRecordShipped(p.VgID)
		monitoring.RecordBytesShipped(p.VgID, "tail", int64(len(headBuf))+int64(len(body)))

		p.SetSversion(head.Version)
		bytesRead += int64(len(headBuf)) + int64(len(body))

		if head.Version >= fversion && fversion > 0 {
			return bytesRead, nil
		}
	}
}

func writeWalRecord(p *peer.Session, head *wire.WalHead, body []byte) error {
	data, err := head.Marshal()
	if err != nil {
		return fmt.Errorf("marshal WalHead: %w", err)
	}
	if err := p.Conn().WriteExact(data); err != nil {
		return fmt.Errorf("write WalHead: %w", err)
	}
	if len(body) > 0 {
		if err := p.Conn().WriteExact(body); err != nil {
			return fmt.Errorf("write WAL record body: %w", err)
		}
	}
	logger.Log.Debug("walstream: shipped record {version} to peer {peerId} (digest={digest})",
		head.Version, p.PeerID, wire.Digest(body))
	return nil
}

// WriteSentinel writes the zeroed end-of-stream WalHead. Called by the
// worker once the tail phase terminates cleanly.
func WriteSentinel(p *peer.Session) error {
	head := wire.SentinelWalHead()
	data, err := head.Marshal()
	if err != nil {
		return fmt.Errorf("walstream: marshal sentinel: %w", err)
	}
	if err := p.Conn().WriteExact(data); err != nil {
		return fmt.Errorf("walstream: write sentinel: %w", err)
	}
	return nil
}
