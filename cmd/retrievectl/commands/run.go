package commands

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vnodekit/retrievesync/cmd/retrievectl/ctl"
	"github.com/vnodekit/retrievesync/internal/logger"
	"github.com/vnodekit/retrievesync/supervisor"
	"github.com/vnodekit/retrievesync/vnode/fake"
)

// runCmd drives a supervisor.Supervisor against a scripted fake vnode
// oracle, for local exercise of the retrieve protocol against a real peer
// listener without a full vnode process on hand. A production deployment
// wires supervisor.New against the vnode's real VersionOracle instead of
// fake.Oracle and embeds the supervisor directly rather than going through
// this CLI.
func runCmd() *cobra.Command {
	var (
		peerID     string
		vgID       string
		addr       string
		leaderFQDN string
		leaderPort uint16
		interval   string
		seedFiles  int
		sockPath   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise retrieve for one peer against a scripted vnode",
		Long: `Run starts a supervisor for a single peer, prints its status on an
interval, and listens on a control socket that the status, watch, and
restart commands attach to from a separate invocation.

Because the VersionOracle is normally owned by the vnode process, this
command drives a scripted in-memory oracle seeded with --seed-files
synthetic data files, useful for exercising the wire protocol against a
real peer listener end to end.`,
		Example: `  # Supervise a peer listening at 127.0.0.1:6030
  retrievectl run --peer follower-1 --vgid vg-1 --addr 127.0.0.1:6030

  # From another terminal, attach to it
  retrievectl status --peer follower-1
  retrievectl watch --peer follower-1
  retrievectl restart --peer follower-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervised(peerID, vgID, addr, leaderFQDN, leaderPort, interval, seedFiles, sockPath)
		},
	}

	cmd.Flags().StringVar(&peerID, "peer", "", "Peer identifier (required)")
	cmd.Flags().StringVar(&vgID, "vgid", "", "Replication group identifier (required)")
	cmd.Flags().StringVar(&addr, "addr", "", "Peer sync-port address to dial (required)")
	cmd.Flags().StringVar(&leaderFQDN, "leader-fqdn", "leader.local", "FQDN advertised in the greeting packet")
	cmd.Flags().Uint16Var(&leaderPort, "leader-port", 6030, "Port advertised in the greeting packet")
	cmd.Flags().StringVar(&interval, "interval", "5s", "Status print interval")
	cmd.Flags().IntVar(&seedFiles, "seed-files", 0, "Number of synthetic data files to seed the scripted oracle with")
	cmd.Flags().StringVar(&sockPath, "sock", "", "Control socket path (default: derived from --peer)")

	cmd.MarkFlagRequired("peer")
	cmd.MarkFlagRequired("vgid")
	cmd.MarkFlagRequired("addr")

	return cmd
}

func runSupervised(peerID, vgID, addr, leaderFQDN string, leaderPort uint16, intervalStr string, seedFiles int, sockPath string) error {
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return fmt.Errorf("invalid interval format: %w", err)
	}
	if sockPath == "" {
		sockPath = defaultSockPath(peerID)
	}

	oracle := fake.New(vgID + ".wal")
	for i := 0; i < seedFiles; i++ {
		oracle.AddFile(fmt.Sprintf("%s.data.%d", vgID, i), 0, uint64(i+1))
	}

	sup := supervisor.New(oracle, supervisor.WithLeaderIdentity(leaderFQDN, leaderPort))

	logger.Log.Info("retrievectl: starting supervision for peer {peerId} (vgid={vgId}, addr={addr})", peerID, vgID, addr)
	if err := sup.Start(peerID, vgID, addr); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer sup.Stop(peerID)

	ln, err := listenCtl(sockPath)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer ln.Close()
	go serveCtl(ln, sup)
	logger.Log.Info("retrievectl: control socket listening at {path}", sockPath)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			printStatus(sup)
		case <-sigCh:
			logger.Log.Info("retrievectl: shutting down")
			return nil
		}
	}
}

func printStatus(sup *supervisor.Supervisor) {
	printCtlStatus(toCtlStatus(sup.Status()))
}

// listenCtl binds the control socket, removing a stale socket file left
// behind by a previous, uncleanly-terminated run.
func listenCtl(sockPath string) (net.Listener, error) {
	if _, err := os.Stat(sockPath); err == nil {
		os.Remove(sockPath)
	}
	return net.Listen("unix", sockPath)
}

// serveCtl accepts control-socket connections until ln is closed, handling
// each on its own goroutine.
func serveCtl(ln net.Listener, sup *supervisor.Supervisor) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleCtlConn(conn, sup)
	}
}

func handleCtlConn(conn net.Conn, sup *supervisor.Supervisor) {
	defer conn.Close()

	var req ctl.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	enc := json.NewEncoder(conn)

	switch req.Cmd {
	case "status":
		enc.Encode(ctl.Response{OK: true, Peers: toCtlStatus(sup.Status())})

	case "restart":
		if err := sup.Restart(req.Peer); err != nil {
			enc.Encode(ctl.Response{Error: err.Error()})
			return
		}
		enc.Encode(ctl.Response{OK: true})

	case "watch":
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := enc.Encode(ctl.Response{OK: true, Peers: toCtlStatus(sup.Status())}); err != nil {
				return
			}
		}

	default:
		enc.Encode(ctl.Response{Error: fmt.Sprintf("unknown command %q", req.Cmd)})
	}
}
