package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/internal/cli/output"
	"github.com/marmos91/clustergate/pkg/apiclient"
)

var statusPidFile string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show member status",
	Long: `Display the current status of the local cluster member.

The PID file tells whether the process is running; the admin API readiness
probe reports the health of the engine and the control plane database.

Examples:
  # Check status
  clustergate status

  # Output as JSON
  clustergate status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/clustergate/clustergate.pid)")
	addAPIFlags(statusCmd)
}

// MemberStatus represents the member status information.
type MemberStatus struct {
	Running    bool                        `json:"running" yaml:"running"`
	PID        int                         `json:"pid,omitempty" yaml:"pid,omitempty"`
	Healthy    bool                        `json:"healthy" yaml:"healthy"`
	Message    string                      `json:"message" yaml:"message"`
	Components []apiclient.ComponentHealth `json:"components,omitempty" yaml:"components,omitempty"`
}

// Headers implements output.TableRenderer.
func (s MemberStatus) Headers() []string {
	return []string{"COMPONENT", "STATUS", "LATENCY", "ERROR"}
}

// Rows implements output.TableRenderer.
func (s MemberStatus) Rows() [][]string {
	rows := make([][]string, 0, len(s.Components))
	for _, c := range s.Components {
		rows = append(rows, []string{c.Name, c.Status, c.Latency, c.Error})
	}
	return rows
}

func runStatus(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	status := MemberStatus{Message: "Member is not running"}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, ok := runningPid(pidPath); ok {
		status.Running = true
		status.PID = pid
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	components, err := client.Ready(ctx)
	status.Components = components
	switch {
	case err == nil:
		status.Running = true
		status.Healthy = true
		status.Message = "Member is running and ready"
	case components != nil:
		status.Running = true
		status.Message = "Member is running but not ready"
	case status.Running:
		status.Message = fmt.Sprintf("Member process exists but readiness check failed: %v", err)
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(status)
	}

	_, _ = fmt.Fprintln(os.Stdout)
	if status.Running {
		_, _ = fmt.Fprintf(os.Stdout, "  PID:      %d\n", status.PID)
	}
	if status.Healthy {
		printer.Success("  " + status.Message)
	} else {
		printer.Warning("  " + status.Message)
	}
	_, _ = fmt.Fprintln(os.Stdout)
	if len(status.Components) > 0 {
		return printer.Print(status)
	}
	return nil
}

// runningPid reads a PID file and checks the process with signal 0.
func runningPid(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// On Unix, FindProcess always succeeds; signal 0 checks liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}
