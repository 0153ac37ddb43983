package commands

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestRunCmdRequiresFlags(t *testing.T) {
	cmd := runCmd()
	for _, name := range []string{"peer", "vgid", "addr"} {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Fatalf("expected a %q flag", name)
		}
		if got := f.Annotations[cobra.BashCompOneRequiredFlag]; len(got) != 1 || got[0] != "true" {
			t.Fatalf("expected the %q flag to be marked required", name)
		}
	}
}

func TestAttachCommandsRequirePeerFlag(t *testing.T) {
	builders := map[string]func() *cobra.Command{
		"status":  statusCmd,
		"watch":   watchCmd,
		"restart": restartCmd,
	}
	for name, build := range builders {
		f := build().Flags().Lookup("peer")
		if f == nil {
			t.Fatalf("%s: expected a %q flag", name, "peer")
		}
		if got := f.Annotations[cobra.BashCompOneRequiredFlag]; len(got) != 1 || got[0] != "true" {
			t.Fatalf("%s: expected the %q flag to be marked required", name, "peer")
		}
	}
}

func TestRunSupervisedRejectsBadInterval(t *testing.T) {
	err := runSupervised("peer-1", "vg", "127.0.0.1:1", "leader.local", 6030, "not-a-duration", 0, "")
	if err == nil {
		t.Fatal("runSupervised should reject a malformed interval")
	}
}
