package walstream

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/vnodekit/retrievesync/mutation"
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode/fake"
	"github.com/vnodekit/retrievesync/wire"
)

func writeWalFile(t *testing.T, path string, records []wire.WalHead, bodies [][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	for i, h := range records {
		data, err := h.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("Write head: %v", err)
		}
		if _, err := f.Write(bodies[i]); err != nil {
			t.Fatalf("Write body: %v", err)
		}
	}
}

// drain reads WalHead+body records off conn until it sees the end sentinel
// or conn closes, returning the versions observed in order.
func drain(conn *wire.FramedConn) []uint64 {
	var versions []uint64
	headBuf := make([]byte, (&wire.WalHead{}).Size())
	for {
		if err := conn.ReadExact(headBuf); err != nil {
			return versions
		}
		head, err := wire.UnmarshalWalHead(headBuf)
		if err != nil {
			return versions
		}
		if head.IsSentinel() {
			return versions
		}
		body := make([]byte, head.Len)
		if head.Len > 0 {
			if err := conn.ReadExact(body); err != nil {
				return versions
			}
		}
		versions = append(versions, head.Version)
	}
}

func TestStreamerRunRotatedThenTail(t *testing.T) {
	dir := t.TempDir()
	rotated := dir + "/0.wal"
	writeWalFile(t, rotated,
		[]wire.WalHead{{Version: 1, Len: 2}},
		[][]byte{[]byte("ab")},
	)
	live := dir + "/1.wal"
	writeWalFile(t, live,
		[]wire.WalHead{{Version: 2, Len: 2}},
		[][]byte{[]byte("cd")},
	)

	oracle := fake.New(rotated)
	oracle.AdvanceWal(live)
	oracle.SetWver(2)

	s := New(oracle, mutation.New(oracle)).WithSleepFunc(func(time.Duration) {})

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	leader := wire.NewFramedConn(server)
	follower := wire.NewFramedConn(client)

	p := peer.New("peer-1", "vg")
	p.SetConn(leader)
	p.SetSversion(1)

	var got []uint64
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		got = drain(follower)
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(p) }()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete in time")
	}

	if p.Sstatus() != peer.StatusCache {
		t.Fatalf("Sstatus = %s, want CACHE after handoff", p.Sstatus())
	}

	server.Close()
	<-drainDone

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got versions %v, want [1 2]", got)
	}
}

func TestTailOncePartialRecordTolerance(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/live.wal"

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	head := wire.WalHead{Version: 1, Len: 4}
	data, _ := head.Marshal()
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Write only 2 of the 4 promised body bytes: a torn write mid-append.
	if _, err := f.Write([]byte("ab")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	oracle := fake.New(path)
	s := New(oracle, mutation.New(oracle))

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	p := peer.New("peer-1", "vg")
	p.SetConn(wire.NewFramedConn(server))

	n, err := s.tailOnce(p, path, 0, 0)
	if err != nil {
		t.Fatalf("tailOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("tailOnce consumed %d bytes, want 0 for a torn record", n)
	}
}

func TestWriteSentinel(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	p := peer.New("peer-1", "vg")
	p.SetConn(wire.NewFramedConn(server))

	done := make(chan error, 1)
	go func() { done <- WriteSentinel(p) }()

	buf := make([]byte, (&wire.WalHead{}).Size())
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteSentinel: %v", err)
	}
	head, err := wire.UnmarshalWalHead(buf)
	if err != nil {
		t.Fatalf("UnmarshalWalHead: %v", err)
	}
	if !head.IsSentinel() {
		t.Fatal("expected the sentinel WalHead")
	}
}
