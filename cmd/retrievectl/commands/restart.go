package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vnodekit/retrievesync/cmd/retrievectl/ctl"
)

// restartCmd forces an immediate retrieve restart for one peer under a
// running supervisor, bypassing its current backoff wait.
func restartCmd() *cobra.Command {
	var (
		peerID   string
		sockPath string
	)

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Force an immediate retrieve restart for one peer",
		Long: `Restart attaches to a running "retrievectl run" over its control socket
and forces peer to restart immediately: its in-flight connection (if any)
is closed, its restart breaker is reset, and the next attempt starts
without waiting out the current backoff delay.`,
		Example: `  retrievectl restart --peer follower-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sockPath == "" {
				sockPath = defaultSockPath(peerID)
			}
			return dialCtl(sockPath, ctl.Request{Cmd: "restart", Peer: peerID}, func(resp ctl.Response) error {
				fmt.Printf("peer=%s restart requested\n", peerID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&peerID, "peer", "", "Peer identifier (required)")
	cmd.Flags().StringVar(&sockPath, "sock", "", "Control socket path (default: derived from --peer)")
	cmd.MarkFlagRequired("peer")

	return cmd
}
