package commands

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopTimeout time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running member",
	Long: `Send SIGTERM to the member recorded in the PID file and wait for it to
drain its connections and exit.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/clustergate/clustergate.pid)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 35*time.Second, "How long to wait for the member to exit")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, ok := runningPid(pidPath)
	if !ok {
		return fmt.Errorf("member is not running (no live process in %s)", pidPath)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, alive := runningPid(pidPath); !alive {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Member stopped (PID %d)\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("member (PID %d) did not stop within %s", pid, stopTimeout)
}
