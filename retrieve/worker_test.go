package retrieve

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode/fake"
	"github.com/vnodekit/retrievesync/wire"
)

// scriptedFollower plays the follower side of one retrieve run: reads the
// greeting, replies, then acks every FileInfo with skip (Sync=0) and drains
// WalHead records until the end sentinel.
func scriptedFollower(t *testing.T, conn net.Conn, done chan<- error) {
	t.Helper()
	go func() {
		c := wire.NewFramedConn(conn)

		greetBuf := make([]byte, (&wire.FirstPkt{}).Size())
		if err := c.ReadExact(greetBuf); err != nil {
			done <- err
			return
		}
		rsp := &wire.FirstPktRsp{Code: 0}
		data, _ := rsp.Marshal()
		if err := c.WriteExact(data); err != nil {
			done <- err
			return
		}

		for {
			infoBuf := make([]byte, (&wire.FileInfo{}).Size())
			if err := c.ReadExact(infoBuf); err != nil {
				done <- err
				return
			}
			info, err := wire.UnmarshalFileInfo(infoBuf)
			if err != nil {
				done <- err
				return
			}
			if info.IsSentinel() {
				break
			}
			ack := &wire.FileAck{Sync: 0}
			ackData, _ := ack.Marshal()
			if err := c.WriteExact(ackData); err != nil {
				done <- err
				return
			}
		}

		for {
			headBuf := make([]byte, (&wire.WalHead{}).Size())
			if err := c.ReadExact(headBuf); err != nil {
				done <- err
				return
			}
			head, err := wire.UnmarshalWalHead(headBuf)
			if err != nil {
				done <- err
				return
			}
			if head.IsSentinel() {
				break
			}
			body := make([]byte, head.Len)
			if head.Len > 0 {
				if err := c.ReadExact(body); err != nil {
					done <- err
					return
				}
			}
		}
		done <- nil
	}()
}

type stubFlowCtrl struct {
	calls []uint32
}

func (s *stubFlowCtrl) NotifyFlowCtrl(vgID string, retries uint32) {
	s.calls = append(s.calls, retries)
}

type stubRestartNotifier struct {
	called bool
}

func (s *stubRestartNotifier) SyncRestartConnection(p *peer.Session) {
	s.called = true
}

func TestWorkerRunCleanEmptyOracle(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "vg.wal")
	if f, err := os.Create(walPath); err != nil {
		t.Fatalf("Create: %v", err)
	} else {
		f.Close()
	}

	oracle := fake.New(walPath)
	// The leader already has one committed record and nothing more; the
	// peer just needs the handoff, with no new bytes to tail.
	oracle.SetWver(1)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	dial := func(addr string, timeout time.Duration) (*wire.FramedConn, error) {
		return wire.NewFramedConn(server), nil
	}

	flow := &stubFlowCtrl{}
	restart := &stubRestartNotifier{}

	w, err := New(oracle,
		WithAddr("fake"),
		WithDialFunc(dial),
		WithFlowController(flow),
		WithRestartNotifier(restart),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	followerDone := make(chan error, 1)
	scriptedFollower(t, client, followerDone)

	p := peer.New("peer-1", "vg")

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(p) }()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete in time")
	}

	if err := <-followerDone; err != nil {
		t.Fatalf("scriptedFollower: %v", err)
	}

	if restart.called {
		t.Fatal("RestartNotify should not be called on a clean run")
	}
	if p.NumOfRetrieves() != 0 {
		t.Fatalf("NumOfRetrieves = %d, want 0 after an idle clean run", p.NumOfRetrieves())
	}
	if len(flow.calls) == 0 {
		t.Fatal("NotifyFlowCtrl should be called at least once")
	}
}

func TestWorkerRunFailsOnDialError(t *testing.T) {
	oracle := fake.New("vg.wal")
	restart := &stubRestartNotifier{}

	dial := func(addr string, timeout time.Duration) (*wire.FramedConn, error) {
		return nil, errDial
	}

	w, err := New(oracle, WithAddr("fake"), WithDialFunc(dial), WithRestartNotifier(restart))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := peer.New("peer-1", "vg")
	if err := w.Run(p); err == nil {
		t.Fatal("Run should fail when the dial func errors")
	}
	if !restart.called {
		t.Fatal("RestartNotify should be called after a failed run")
	}
	if p.NumOfRetrieves() != 0 {
		t.Fatalf("NumOfRetrieves = %d, want 0: a dial failure never observes a file-set change", p.NumOfRetrieves())
	}
}

func TestNewRequiresAddr(t *testing.T) {
	oracle := fake.New("vg.wal")
	if _, err := New(oracle); err == nil {
		t.Fatal("New should require an address")
	}
}

var errDial = &dialError{"dial failed"}

type dialError struct{ msg string }

func (e *dialError) Error() string { return e.msg }
