// Package peer holds the per-peer session state shared between a retrieve
// worker (the sole writer for the duration of one run) and the rest of the
// system — the supervisor and, after handoff, the live-forwarding path
// (both read-only). No compound critical section spans more than one field,
// so plain atomics suffice; no peer-wide lock is needed.
package peer

import (
	"sync/atomic"

	"github.com/vnodekit/retrievesync/wire"
)

// Status is the peer's catch-up phase as observed by the live-forwarding
// path. Transitions only ever move forward: Init -> File -> Cache.
type Status int32

const (
	// StatusInit is the peer's state before a retrieve run has started.
	StatusInit Status = iota
	// StatusFile means the retrieve worker is offering data files.
	StatusFile
	// StatusCache means the peer is ready to accept live-forwarded writes;
	// retrieve may still be finishing its final WAL tail.
	StatusCache
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusFile:
		return "FILE"
	case StatusCache:
		return "CACHE"
	default:
		return "UNKNOWN"
	}
}

// Session is the shared peer record. A retrieve worker holds one reference
// for the run's lifetime and releases it at exit (see Acquire/Release).
type Session struct {
	PeerID string
	VgID   string

	conn atomic.Pointer[wire.FramedConn]

	sversion       atomic.Uint64
	sstatus        atomic.Int32
	fileChanged    atomic.Bool
	numOfRetrieves atomic.Uint32
	refcount       atomic.Int32

	lastFver atomic.Uint64
	lastWver atomic.Uint64
}

// New creates a peer session in StatusInit with a single reference held by
// the caller (conventionally the supervisor, which keeps it and takes a
// further reference with Acquire for each retrieve run it spawns).
func New(peerID, vgID string) *Session {
	s := &Session{PeerID: peerID, VgID: vgID}
	s.sstatus.Store(int32(StatusInit))
	s.refcount.Store(1)
	return s
}

// SetConn attaches the connection owned by the current run. It is cleared
// by the worker on exit. Safe to call concurrently with Conn, so an
// operator-triggered restart can close out from under an in-flight run.
func (s *Session) SetConn(c *wire.FramedConn) { s.conn.Store(c) }

// Conn returns the connection owned by the current run, or nil between runs.
func (s *Session) Conn() *wire.FramedConn { return s.conn.Load() }

// Sversion returns the highest record version shipped to the peer so far.
func (s *Session) Sversion() uint64 { return s.sversion.Load() }

// SetSversion sets the shipped version. Callers must only ever increase it
// within a run; this is not enforced here so that tests can exercise the
// invariant as a property rather than a hard assertion.
func (s *Session) SetSversion(v uint64) { s.sversion.Store(v) }

// Sstatus returns the peer's current catch-up phase.
func (s *Session) Sstatus() Status { return Status(s.sstatus.Load()) }

// SetSstatus advances the peer's catch-up phase.
func (s *Session) SetSstatus(v Status) { s.sstatus.Store(int32(v)) }

// FileChanged reports whether any mutation was observed during this run.
func (s *Session) FileChanged() bool { return s.fileChanged.Load() }

// SetFileChanged latches the mutation-observed flag.
func (s *Session) SetFileChanged(v bool) { s.fileChanged.Store(v) }

// NumOfRetrieves returns the retry counter consumed by external
// flow-control.
func (s *Session) NumOfRetrieves() uint32 { return s.numOfRetrieves.Load() }

// IncNumOfRetrieves bumps the retry counter after a "productive" retry
// (files moved under us, progress was made, but a restart was still
// required).
func (s *Session) IncNumOfRetrieves() uint32 { return s.numOfRetrieves.Add(1) }

// ResetNumOfRetrieves zeroes the retry counter after an idle-retry success
// (no mutation observed during the run).
func (s *Session) ResetNumOfRetrieves() { s.numOfRetrieves.Store(0) }

// LastFver returns the fver snapshot used for file-mutation detection.
func (s *Session) LastFver() uint64 { return s.lastFver.Load() }

// SetLastFver updates the fver snapshot.
func (s *Session) SetLastFver(v uint64) { s.lastFver.Store(v) }

// LastWver returns the wver snapshot used for WAL-mutation detection.
func (s *Session) LastWver() uint64 { return s.lastWver.Load() }

// SetLastWver updates the wver snapshot.
func (s *Session) SetLastWver(v uint64) { s.lastWver.Store(v) }

// Acquire takes a reference on the session. The supervisor holds the
// long-lived reference; each retrieve run takes its own for the run's
// duration.
func (s *Session) Acquire() { s.refcount.Add(1) }

// Release drops a reference. When the count reaches zero the caller is
// responsible for removing the session from any registry; Release itself
// performs no cleanup beyond reporting whether it was the last reference.
func (s *Session) Release() (last bool) {
	return s.refcount.Add(-1) == 0
}
