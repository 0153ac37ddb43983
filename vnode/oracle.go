// Package vnode describes the contract a replicated time-series vnode must
// satisfy for a retrieve worker to catch a follower peer up to the leader.
// The vnode itself — its data files, its WAL, cluster membership, the
// secondary-index store — is an external collaborator; this package holds
// only the small capability interface the retrieve core calls against,
// consumer-defined so the vnode implementation stays decoupled from it.
package vnode

import (
	"errors"

	"github.com/vnodekit/retrievesync/wire"
)

// ErrBusy is returned by GetVersion while the vnode is mid-commit (flushing
// its WAL to closed data files). A worker observing ErrBusy must treat its
// view of (fver, wver) as unstable and not assume it is current.
var ErrBusy = errors.New("vnode: busy committing")

// VersionOracle is consumed, never owned, by the retrieve core. It reports
// the leader's current file/WAL versions and hands out the next file or WAL
// descriptor to offer a catching-up peer.
type VersionOracle interface {
	// GetVersion returns the highest record version durable in closed data
	// files (fver) and the highest record version present in the live WAL
	// (wver). Returns ErrBusy while a commit is in progress.
	GetVersion(vgID string) (fver, wver uint64, err error)

	// GetFileInfo returns the next data file to offer at the given 0-based
	// cursor. A FileInfo with IsSentinel()==true means no more files.
	GetFileInfo(vgID string, index uint32) (wire.FileInfo, error)

	// GetWalInfo returns the next WAL file to offer. isLast marks the
	// currently-open WAL, which must be tailed rather than shipped whole.
	GetWalInfo(vgID string) (name string, index uint64, isLast bool, err error)

	// CurrentNodeVersion returns the highest known record version at this
	// instant; it is the target high-water-mark latched at handoff.
	CurrentNodeVersion(vgID string) uint64
}
