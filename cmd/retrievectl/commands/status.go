package commands

import (
	"github.com/spf13/cobra"
	"github.com/vnodekit/retrievesync/cmd/retrievectl/ctl"
)

// statusCmd prints one point-in-time sync-state table fetched from a
// running "retrievectl run" over its control socket.
func statusCmd() *cobra.Command {
	var (
		peerID   string
		sockPath string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the sync state of a peer under a running retrieve supervisor",
		Long: `Status attaches to a running "retrievectl run" over its control socket
and prints a one-line snapshot of the peer's retrieve state: catch-up
phase, shipped version, retry count, and restart breaker state.`,
		Example: `  retrievectl status --peer follower-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sockPath == "" {
				sockPath = defaultSockPath(peerID)
			}
			return dialCtl(sockPath, ctl.Request{Cmd: "status"}, func(resp ctl.Response) error {
				printCtlStatus(resp.Peers)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&peerID, "peer", "", "Peer identifier (required)")
	cmd.Flags().StringVar(&sockPath, "sock", "", "Control socket path (default: derived from --peer)")
	cmd.MarkFlagRequired("peer")

	return cmd
}
