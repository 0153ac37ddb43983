package mutation

import (
	"errors"
	"testing"

	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode"
	"github.com/vnodekit/retrievesync/vnode/fake"
)

func TestFilesModifiedNoChange(t *testing.T) {
	oracle := fake.New("vg.wal")
	oracle.AddFile("vg.data.0", 100, 1)

	w := New(oracle)
	p := peer.New("peer-1", "vg")
	p.SetLastFver(1)

	if w.FilesModified(p) {
		t.Fatal("FilesModified should report false when fver has not changed")
	}
}

func TestFilesModifiedOnAdd(t *testing.T) {
	oracle := fake.New("vg.wal")
	oracle.AddFile("vg.data.0", 100, 1)

	w := New(oracle)
	p := peer.New("peer-1", "vg")
	p.SetLastFver(1)

	oracle.AddFile("vg.data.1", 200, 2)

	if !w.FilesModified(p) {
		t.Fatal("FilesModified should report true after a new file is committed")
	}
	if !p.FileChanged() {
		t.Fatal("FilesModified must latch p.FileChanged() on a real change")
	}
}

func TestFilesModifiedOnBusy(t *testing.T) {
	oracle := fake.New("vg.wal")
	w := New(oracle)
	p := peer.New("peer-1", "vg")

	oracle.SetBusy(true)
	if !w.FilesModified(p) {
		t.Fatal("FilesModified should report true (conservatively) when the oracle is busy")
	}
	if !p.FileChanged() {
		t.Fatal("FilesModified must latch p.FileChanged() on ErrBusy")
	}
}

func TestWalModified(t *testing.T) {
	oracle := fake.New("vg.wal")
	w := New(oracle)
	p := peer.New("peer-1", "vg")
	p.SetLastWver(0)

	if w.WalModified(p) {
		t.Fatal("WalModified should report false when wver has not changed")
	}

	oracle.SetWver(5)
	if !w.WalModified(p) {
		t.Fatal("WalModified should report true after wver advances")
	}
}

type errOracle struct{ vnode.VersionOracle }

func (errOracle) GetVersion(string) (uint64, uint64, error) {
	return 0, 0, errors.New("boom")
}

func TestWalModifiedOnHardError(t *testing.T) {
	w := New(errOracle{})
	p := peer.New("peer-1", "vg")
	if !w.WalModified(p) {
		t.Fatal("WalModified should report true (conservatively) on a hard oracle error")
	}
}
