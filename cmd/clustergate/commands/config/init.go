package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a configuration file with defaults and a freshly generated token
secret. The file is written with owner-only permissions.

Examples:
  # Default location ($XDG_CONFIG_HOME/clustergate/config.yaml)
  clustergate config init

  # Custom location, replacing an existing file
  clustergate config init --config /etc/clustergate/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set group.name and group.password for your cluster")
	_, _ = fmt.Fprintln(out, "  2. Optionally pick a security.backend (token, kerberos, password, chain)")
	_, _ = fmt.Fprintf(out, "  3. Start the member with: clustergate start --config %s\n", path)
	return nil
}
