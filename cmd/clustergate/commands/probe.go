package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/internal/cli/prompt"
	"github.com/marmos91/clustergate/pkg/client"
	"github.com/marmos91/clustergate/pkg/config"
	"github.com/marmos91/clustergate/pkg/credential"
)

var (
	probeGroupName     string
	probeGroupPassword string
	probeToken         string
	probeUsername      string
	probePassword      string
	probeTimeout       time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe [host:port]",
	Short: "Authenticate against a member as a client",
	Long: `Connect to a member, authenticate, ping and log out, reporting each step.

Without an address the member of the local configuration is probed. The
credential is chosen from the flags: --token sends a jwt credential,
--username a plaintext credential, otherwise the group name and password
(from the flags or the configuration) are sent.

Examples:
  clustergate probe
  clustergate probe 10.0.0.5:5701 --group-name prod --group-password s3cret
  clustergate probe --token "$(clustergate token issue worker-1)"
  clustergate probe --username worker-1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeGroupName, "group-name", "", "Group name (default: group.name)")
	probeCmd.Flags().StringVar(&probeGroupPassword, "group-password", "", "Group password (default: group.password)")
	probeCmd.Flags().StringVar(&probeToken, "token", "", "Send a jwt credential")
	probeCmd.Flags().StringVar(&probeUsername, "username", "", "Send a plaintext credential for this user")
	probeCmd.Flags().StringVar(&probePassword, "password", "", "Password for --username (prompted when empty)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", client.DefaultTimeout, "Per-request timeout")
}

// ProbeResult reports a probe run.
type ProbeResult struct {
	Address       string  `json:"address" yaml:"address"`
	Mechanism     string  `json:"mechanism" yaml:"mechanism"`
	LocalAddr     string  `json:"local_addr,omitempty" yaml:"local_addr,omitempty"`
	Authenticated bool    `json:"authenticated" yaml:"authenticated"`
	AuthMs        float64 `json:"auth_ms" yaml:"auth_ms"`
	PingMs        float64 `json:"ping_ms,omitempty" yaml:"ping_ms,omitempty"`
	Error         string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Headers implements output.TableRenderer.
func (r ProbeResult) Headers() []string {
	return []string{"ADDRESS", "MECHANISM", "LOCAL", "AUTHENTICATED", "AUTH", "PING", "ERROR"}
}

// Rows implements output.TableRenderer.
func (r ProbeResult) Rows() [][]string {
	ms := func(v float64) string {
		if v == 0 {
			return "-"
		}
		return strconv.FormatFloat(v, 'f', 2, 64) + "ms"
	}
	errText := r.Error
	if errText == "" {
		errText = "-"
	}
	return [][]string{{r.Address, r.Mechanism, r.LocalAddr, strconv.FormatBool(r.Authenticated), ms(r.AuthMs), ms(r.PingMs), errText}}
}

func runProbe(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	addr := ""
	if len(args) == 1 {
		addr = args[0]
	} else {
		host := cfg.Server.BindAddress
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}

	authenticate, mechanism, err := probeCredential(cfg)
	if err != nil {
		return err
	}

	result := ProbeResult{Address: addr, Mechanism: mechanism}
	probeErr := probe(addr, cfg, authenticate, &result)
	if probeErr != nil {
		result.Error = probeErr.Error()
	}

	if err := printer.Print(result); err != nil {
		return err
	}
	return probeErr
}

type authenticateFunc func(ctx context.Context, c *client.Client) error

// probeCredential picks the credential from the flags.
func probeCredential(cfg *config.Config) (authenticateFunc, string, error) {
	switch {
	case probeToken != "":
		cred := credential.NewOpaque(credential.MechanismJWT, []byte(probeToken))
		return func(ctx context.Context, c *client.Client) error {
			return c.AuthenticateCredential(ctx, cred)
		}, credential.MechanismJWT, nil

	case probeUsername != "":
		password := probePassword
		if password == "" {
			var err error
			password, err = prompt.New().Password("Password for " + probeUsername)
			if err != nil {
				return nil, "", err
			}
		}
		cred := credential.NewPlaintext(probeUsername, password)
		return func(ctx context.Context, c *client.Client) error {
			return c.AuthenticateCredential(ctx, cred)
		}, credential.MechanismPlaintext, nil

	default:
		name, password := probeGroupName, probeGroupPassword
		if name == "" {
			name = cfg.Group.Name
		}
		if password == "" {
			password = cfg.Group.Password
		}
		return func(ctx context.Context, c *client.Client) error {
			return c.AuthenticateGroup(ctx, name, password)
		}, "group", nil
	}
}

func probe(addr string, cfg *config.Config, authenticate authenticateFunc, result *ProbeResult) error {
	ctx := context.Background()

	c, err := client.Dial(ctx, addr, client.Options{
		Timeout:      probeTimeout,
		MaxFrameSize: int(cfg.Server.MaxFrameSize),
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	result.LocalAddr = c.LocalAddr().String()

	start := time.Now()
	err = authenticate(ctx, c)
	result.AuthMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		if errors.Is(err, client.ErrRejected) {
			return fmt.Errorf("authentication rejected by %s", addr)
		}
		return err
	}
	result.Authenticated = true

	start = time.Now()
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping after authentication failed: %w", err)
	}
	result.PingMs = float64(time.Since(start).Microseconds()) / 1000.0

	if err := c.Logout(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "warning: logout failed: %v\n", err)
	}
	return nil
}
