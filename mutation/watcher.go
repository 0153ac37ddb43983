// Package mutation detects concurrent changes to a vnode's committed file
// set and live WAL while a retrieve run is in flight. File-set changes
// invalidate in-progress file-phase work and must trigger a restart; WAL
// advances during tailing are expected and drive continuation, not abort.
package mutation

import (
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode"
)

// Watcher probes a VersionOracle on behalf of one peer session.
type Watcher struct {
	oracle vnode.VersionOracle
}

// New creates a Watcher bound to the given oracle.
func New(oracle vnode.VersionOracle) *Watcher {
	return &Watcher{oracle: oracle}
}

// FilesModified snapshots (fver, wver) and reports whether the committed
// file set has changed since the last snapshot. Oracle busy also counts as
// "changed" and additionally latches peer.FileChanged, since the worker
// cannot assume anything stable about files mid-commit.
func (w *Watcher) FilesModified(p *peer.Session) bool {
	fver, _, err := w.oracle.GetVersion(p.VgID)
	if err != nil {
		p.SetFileChanged(true)
		return true
	}
	if fver != p.LastFver() {
		p.SetFileChanged(true)
		return true
	}
	p.SetLastFver(fver)
	return false
}

// WalModified snapshots (fver, wver) and reports whether the live WAL has
// advanced since the last snapshot. Unlike FilesModified, this does not set
// peer.FileChanged: WAL growth during tailing is the expected steady state.
func (w *Watcher) WalModified(p *peer.Session) bool {
	_, wver, err := w.oracle.GetVersion(p.VgID)
	if err != nil {
		return true
	}
	if wver != p.LastWver() {
		return true
	}
	p.SetLastWver(wver)
	return false
}
