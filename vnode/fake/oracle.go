// Package fake provides a scripted, in-memory vnode.VersionOracle double for
// exercising the retrieve packages without a real vnode. It tracks an
// ordered list of named, sized segments with an active/sealed split, the
// same way a real vnode tracks its own closed data files and rotating WAL.
package fake

import (
	"sync"

	"github.com/vnodekit/retrievesync/vnode"
	"github.com/vnodekit/retrievesync/wire"
)

// DataFile describes one closed, immutable data file a real vnode would
// report through GetFileInfo.
type DataFile struct {
	Name    string
	Size    int64
	FVer    uint64
	Deleted bool
}

// WalSegment describes one WAL file a real vnode would report through
// GetWalInfo. Sealed segments are shipped whole; the single non-sealed
// segment is the one tailed live.
type WalSegment struct {
	Name   string
	Sealed bool
}

// Oracle is a mutable, goroutine-safe fake vnode.VersionOracle. Tests drive
// it directly (AddFile, DeleteFile, AdvanceWal, SetWver, SetBusy) to script
// mutation mid-run without touching a filesystem.
type Oracle struct {
	mu sync.Mutex

	fver uint64
	wver uint64
	busy bool

	files     []DataFile
	wals      []WalSegment
	walCursor int
}

// New creates an empty Oracle: no files, a single open (unsealed) WAL named
// name, at version 0.
func New(walName string) *Oracle {
	return &Oracle{wals: []WalSegment{{Name: walName, Sealed: false}}}
}

var _ vnode.VersionOracle = (*Oracle)(nil)

// GetVersion implements vnode.VersionOracle.
func (o *Oracle) GetVersion(vgID string) (uint64, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return 0, 0, vnode.ErrBusy
	}
	return o.fver, o.wver, nil
}

// GetFileInfo implements vnode.VersionOracle, returning the sentinel once
// index runs past the last non-deleted file.
func (o *Oracle) GetFileInfo(vgID string, index uint32) (wire.FileInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	live := o.liveFilesLocked()
	if int(index) >= len(live) {
		return *wire.SentinelFileInfo(), nil
	}

	f := live[index]
	info := wire.FileInfo{Magic: 1, Size: f.Size, FVersion: f.FVer}
	info.SetName(f.Name)
	return info, nil
}

// GetWalInfo implements vnode.VersionOracle. There is no per-peer cursor
// argument on this call (mirroring the real oracle contract), so the fake
// advances its own internal cursor one sealed segment per call, the way a
// worker's sequential rotated-WAL loop expects: each call hands back the
// next not-yet-offered sealed segment with isLast false, and once the
// cursor reaches the currently open segment it keeps returning that one,
// with isLast true, on every subsequent call.
func (o *Oracle) GetWalInfo(vgID string) (string, uint64, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.walCursor >= len(o.wals)-1 {
		last := o.wals[len(o.wals)-1]
		return last.Name, uint64(len(o.wals) - 1), true, nil
	}
	seg := o.wals[o.walCursor]
	idx := o.walCursor
	o.walCursor++
	return seg.Name, uint64(idx), false, nil
}

// AdvanceWal seals the current open WAL and opens a new one under name,
// simulating rotation. It does not itself move the delivery cursor;
// GetWalInfo still advances through sealed segments one call at a time.
func (o *Oracle) AdvanceWal(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.wals {
		if !o.wals[i].Sealed {
			o.wals[i].Sealed = true
		}
	}
	o.wals = append(o.wals, WalSegment{Name: name, Sealed: false})
}

// CurrentNodeVersion implements vnode.VersionOracle.
func (o *Oracle) CurrentNodeVersion(vgID string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wver
}

// AddFile registers a new closed data file and bumps fver to its FVer.
func (o *Oracle) AddFile(name string, size int64, fver uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files = append(o.files, DataFile{Name: name, Size: size, FVer: fver})
	if fver > o.fver {
		o.fver = fver
	}
}

// DeleteFile marks a file as removed, so GetFileInfo no longer offers it.
// It leaves fver unchanged, so a mutation.Watcher does not report the
// deletion on its own; pair it with AddFile or SetBusy for that.
func (o *Oracle) DeleteFile(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.files {
		if o.files[i].Name == name {
			o.files[i].Deleted = true
		}
	}
}

// SetWver sets the live-WAL high-water-mark, as a commit advancing the WAL
// without closing a new data file would.
func (o *Oracle) SetWver(wver uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.wver = wver
}

// SetBusy toggles the ErrBusy state GetVersion reports while a commit is
// simulated to be in progress.
func (o *Oracle) SetBusy(busy bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = busy
}

func (o *Oracle) liveFilesLocked() []DataFile {
	live := make([]DataFile, 0, len(o.files))
	for _, f := range o.files {
		if !f.Deleted {
			live = append(live, f)
		}
	}
	return live
}
