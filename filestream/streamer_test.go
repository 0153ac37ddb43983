package filestream

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/vnodekit/retrievesync/mutation"
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode/fake"
	"github.com/vnodekit/retrievesync/wire"
)

// harness wires a Streamer's leader side to an in-process peer simulator
// that drives the wire protocol from the follower's perspective.
type harness struct {
	t        *testing.T
	leader   *wire.FramedConn
	follower *wire.FramedConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, c := net.Pipe()
	return &harness{t: t, leader: wire.NewFramedConn(s), follower: wire.NewFramedConn(c)}
}

func ackEveryFile(t *testing.T, follower *wire.FramedConn, sync uint8, done chan<- struct{}) {
	t.Helper()
	go func() {
		defer close(done)
		for {
			buf := make([]byte, (&wire.FileInfo{}).Size())
			if err := follower.ReadExact(buf); err != nil {
				return
			}
			info, err := wire.UnmarshalFileInfo(buf)
			if err != nil {
				return
			}
			if info.IsSentinel() {
				return
			}
			ack := &wire.FileAck{Sync: sync}
			data, _ := ack.Marshal()
			if err := follower.WriteExact(data); err != nil {
				return
			}
			if sync == 1 {
				body := make([]byte, info.Size)
				if err := follower.ReadExact(body); err != nil {
					return
				}
			}
		}
	}()
}

func TestStreamerRunShipsAllFiles(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a.data", "b.data"}
	contents := [][]byte{[]byte("AAAA"), []byte("BBBBBB")}
	for i, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), contents[i], 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	oracle := fake.New("vg.wal")
	for i, n := range names {
		oracle.AddFile(filepath.Join(dir, n), int64(len(contents[i])), uint64(i+1))
	}

	watcher := mutation.New(oracle)
	s := New(oracle, watcher)

	h := newHarness(t)
	defer h.leader.Close()
	defer h.follower.Close()

	done := make(chan struct{})
	ackEveryFile(t, h.follower, 1, done)

	p := peer.New("peer-1", "vg")
	p.SetConn(h.leader)

	if err := s.Run(p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done

	if p.Sversion() != 2 {
		t.Fatalf("Sversion = %d, want 2", p.Sversion())
	}
}

func TestStreamerRunHonorsSkipAck(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.data"), []byte("AAAA"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	oracle := fake.New("vg.wal")
	oracle.AddFile(filepath.Join(dir, "a.data"), 4, 1)

	watcher := mutation.New(oracle)
	s := New(oracle, watcher)

	h := newHarness(t)
	defer h.leader.Close()
	defer h.follower.Close()

	done := make(chan struct{})
	ackEveryFile(t, h.follower, 0, done) // peer already has the file

	p := peer.New("peer-1", "vg")
	p.SetConn(h.leader)

	if err := s.Run(p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done
}

func TestStreamerRunDetectsMutation(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.data"), []byte("AAAA"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.data"), []byte("BBBB"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	oracle := fake.New("vg.wal")
	oracle.AddFile(filepath.Join(dir, "a.data"), 4, 1)

	watcher := mutation.New(oracle)
	s := New(oracle, watcher)

	h := newHarness(t)
	defer h.leader.Close()
	defer h.follower.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, (&wire.FileInfo{}).Size())
		if err := h.follower.ReadExact(buf); err != nil {
			return
		}
		// A second file lands mid-stream, simulating a commit racing the
		// file phase, before the follower acks the first.
		oracle.AddFile(filepath.Join(dir, "b.data"), 4, 2)

		ack := &wire.FileAck{Sync: 1}
		data, _ := ack.Marshal()
		if err := h.follower.WriteExact(data); err != nil {
			return
		}
		body := make([]byte, 4)
		_ = h.follower.ReadExact(body)
	}()

	p := peer.New("peer-1", "vg")
	p.SetConn(h.leader)

	err := s.Run(p)
	<-done
	if err == nil {
		t.Fatal("Run should fail when the file set changes mid-run")
	}
}
