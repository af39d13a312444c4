package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Load the configuration file and run all validation rules without
starting the member.`,
	RunE: runValidate,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the default configuration path",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.GetDefaultConfigPath())
	},
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Configuration is valid")
	_, _ = fmt.Fprintf(out, "  group:    %s\n", cfg.Group.Name)
	_, _ = fmt.Fprintf(out, "  backend:  %s\n", cfg.Security.Backend)
	_, _ = fmt.Fprintf(out, "  listen:   %s:%d\n", cfg.Server.BindAddress, cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  database: %s\n", cfg.Database.Type)
	return nil
}
