package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vnodekit/retrievesync/cmd/retrievectl/ctl"
)

// watchCmd tails a running retrieve supervisor's status over its control
// socket until interrupted, one update per second.
func watchCmd() *cobra.Command {
	var (
		peerID   string
		sockPath string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail retrieve progress for a peer under a running supervisor",
		Long: `Watch attaches to a running "retrievectl run" over its control socket and
prints a status line once a second until interrupted, so an operator can
follow a peer's catch-up progress from a separate terminal.`,
		Example: `  retrievectl watch --peer follower-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sockPath == "" {
				sockPath = defaultSockPath(peerID)
			}
			return runWatch(sockPath)
		},
	}

	cmd.Flags().StringVar(&peerID, "peer", "", "Peer identifier (required)")
	cmd.Flags().StringVar(&sockPath, "sock", "", "Control socket path (default: derived from --peer)")
	cmd.MarkFlagRequired("peer")

	return cmd
}

func runWatch(sockPath string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- dialCtl(sockPath, ctl.Request{Cmd: "watch"}, func(resp ctl.Response) error {
			printCtlStatus(resp.Peers)
			return nil
		})
	}()

	select {
	case <-sigCh:
		return nil
	case err := <-done:
		return err
	}
}
