package commands

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/pkg/api/middleware"
	"github.com/marmos91/clustergate/pkg/apiclient"
	"github.com/marmos91/clustergate/pkg/config"
	"github.com/marmos91/clustergate/pkg/controlplane/runtime"
)

// APITokenEnv holds an admin bearer token for the admin commands.
const APITokenEnv = "CLUSTERGATE_API_TOKEN"

var (
	apiAddr  string
	apiToken string
)

// addAPIFlags registers the flags shared by commands that talk to the admin API.
func addAPIFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apiAddr, "api", "", "Admin API address (default: from config, localhost:8080)")
	cmd.Flags().StringVar(&apiToken, "token", "", "Admin bearer token (default: $"+APITokenEnv+", or minted from the config's token secret)")
}

// newAPIClient resolves the admin API address and token. Without an explicit
// token, an admin token is minted locally when the config carries a token
// secret, so operators on the member host need no extra setup.
func newAPIClient() (*apiclient.Client, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}

	addr := apiAddr
	if addr == "" {
		host := cfg.API.BindAddress
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.API.Port))
	}
	client := apiclient.New(addr)

	token := apiToken
	if token == "" {
		token = os.Getenv(APITokenEnv)
	}
	if token == "" && cfg.API.RequireAuth && cfg.Security.Token.Secret != "" {
		tokens, err := runtime.NewTokenBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to mint admin token: %w", err)
		}
		token, _, err = tokens.Issue(middleware.AdminSubject, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to mint admin token: %w", err)
		}
	}
	if token != "" {
		client.SetToken(token)
	}
	return client, nil
}
