package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/internal/cli/output"
	"github.com/marmos91/clustergate/pkg/config"
)

var showRedact bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective configuration: file values with environment
overrides and defaults applied.

By default outputs YAML with secrets redacted. Use --output json for JSON.

Examples:
  clustergate config show
  clustergate config show --output json
  clustergate config show --redact=false`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().BoolVar(&showRedact, "redact", true, "Hide passwords and secrets")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	if showRedact {
		cfg = Redacted(cfg)
	}

	outputFlag, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(outputFlag)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}

const redactedValue = "********"

// Redacted returns a copy of cfg with secrets replaced.
func Redacted(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Group.Password != "" {
		c.Group.Password = redactedValue
	}
	if c.Security.Token.Secret != "" {
		c.Security.Token.Secret = redactedValue
	}
	if c.Database.Postgres.Password != "" {
		c.Database.Postgres.Password = redactedValue
	}
	return &c
}
