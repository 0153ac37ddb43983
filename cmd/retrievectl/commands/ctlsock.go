package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/vnodekit/retrievesync/cmd/retrievectl/ctl"
	"github.com/vnodekit/retrievesync/supervisor"
)

// defaultSockPath derives the control socket path a "run" invocation for
// peerID listens on, and that "status"/"watch"/"restart" dial by default.
func defaultSockPath(peerID string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("retrievectl-%s.sock", peerID))
}

// toCtlStatus converts a supervisor status snapshot to its wire form.
func toCtlStatus(in []supervisor.PeerStatus) []ctl.PeerStatus {
	out := make([]ctl.PeerStatus, 0, len(in))
	for _, s := range in {
		out = append(out, ctl.PeerStatus{
			PeerID:         s.PeerID,
			VgID:           s.VgID,
			Sstatus:        s.Sstatus,
			Sversion:       s.Sversion,
			NumOfRetrieves: s.NumOfRetrieves,
			BreakerState:   s.BreakerState,
		})
	}
	return out
}

// dialCtl sends one request to sockPath and invokes handle for every
// Response received. For "status"/"restart" the server sends one Response
// and closes; for "watch" it keeps streaming until the connection is
// closed, so handle is called repeatedly until the server hangs up.
func dialCtl(sockPath string, req ctl.Request, handle func(ctl.Response) error) error {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return fmt.Errorf("dial control socket %s (is retrievectl run still running?): %w", sockPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	dec := json.NewDecoder(conn)
	for {
		var resp ctl.Response
		if err := dec.Decode(&resp); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read response: %w", err)
		}
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		if err := handle(resp); err != nil {
			return err
		}
	}
}

func printCtlStatus(peers []ctl.PeerStatus) {
	for _, s := range peers {
		fmt.Printf("peer=%s vgid=%s status=%s sversion=%d retries=%d breaker=%s\n",
			s.PeerID, s.VgID, s.Sstatus, s.Sversion, s.NumOfRetrieves, s.BreakerState)
	}
}
