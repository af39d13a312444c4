package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/internal/cli/output"
	"github.com/marmos91/clustergate/pkg/apiclient"
)

var (
	endpointsAuthenticated string
	admissionsLimit        int
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List client endpoints of a running member",
	Long: `List the client endpoints registered on a running member through its
admin API.

Examples:
  # All endpoints
  clustergate endpoints

  # Only authenticated clients, as JSON
  clustergate endpoints --authenticated=true -o json

  # Show or disconnect one client
  clustergate endpoints get 42
  clustergate endpoints disconnect 42`,
	Args: cobra.NoArgs,
	RunE: runEndpointsList,
}

var endpointsGetCmd = &cobra.Command{
	Use:   "get <conn-id>",
	Short: "Show one client endpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runEndpointsGet,
}

var endpointsDisconnectCmd = &cobra.Command{
	Use:   "disconnect <conn-id>",
	Short: "Close a client connection",
	Long: `Close a client connection on the member. Its endpoint and routing
entries are torn down like on any other disconnect.`,
	Args: cobra.ExactArgs(1),
	RunE: runEndpointsDisconnect,
}

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "List the routing table of a running member",
	Args:  cobra.NoArgs,
	RunE:  runBindings,
}

var admissionsCmd = &cobra.Command{
	Use:   "admissions",
	Short: "List recent admission attempts",
	Long: `List the most recent admission attempts recorded by a running member.
Requires audit.enabled on the member.`,
	Args: cobra.NoArgs,
	RunE: runAdmissions,
}

func init() {
	endpointsCmd.Flags().StringVar(&endpointsAuthenticated, "authenticated", "", "Filter by authentication state (true|false)")
	admissionsCmd.Flags().IntVarP(&admissionsLimit, "limit", "n", 50, "Maximum number of events")

	for _, cmd := range []*cobra.Command{endpointsCmd, endpointsGetCmd, endpointsDisconnectCmd, bindingsCmd, admissionsCmd} {
		addAPIFlags(cmd)
	}
	endpointsCmd.AddCommand(endpointsGetCmd)
	endpointsCmd.AddCommand(endpointsDisconnectCmd)
}

// EndpointList renders client endpoints.
type EndpointList []apiclient.Endpoint

// Headers implements output.TableRenderer.
func (l EndpointList) Headers() []string {
	return []string{"CONN", "REMOTE", "AUTHENTICATED", "PRINCIPAL", "AGE"}
}

// Rows implements output.TableRenderer.
func (l EndpointList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, ep := range l {
		principal := ep.Principal
		if principal == "" {
			principal = "-"
		}
		rows = append(rows, []string{
			strconv.FormatUint(ep.ConnID, 10),
			ep.RemoteAddr.String(),
			strconv.FormatBool(ep.Authenticated),
			principal,
			output.FormatAge(ep.CreatedAt, now),
		})
	}
	return rows
}

// BindingList renders routing table entries.
type BindingList []apiclient.Binding

// Headers implements output.TableRenderer.
func (l BindingList) Headers() []string {
	return []string{"ADDRESS", "CONN", "AGE"}
}

// Rows implements output.TableRenderer.
func (l BindingList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, b := range l {
		rows = append(rows, []string{b.Address.String(), strconv.FormatUint(b.ConnID, 10), output.FormatAge(b.BoundAt, now)})
	}
	return rows
}

// AdmissionList renders audited admission attempts.
type AdmissionList []apiclient.AdmissionEvent

// Headers implements output.TableRenderer.
func (l AdmissionList) Headers() []string {
	return []string{"TIME", "CONN", "REMOTE", "MECHANISM", "PRINCIPAL", "OUTCOME"}
}

// Rows implements output.TableRenderer.
func (l AdmissionList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		principal := e.Principal
		if principal == "" {
			principal = "-"
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			strconv.FormatUint(e.ConnID, 10),
			e.RemoteAddr,
			e.Mechanism,
			principal,
			e.Outcome,
		})
	}
	return rows
}

func runEndpointsList(cmd *cobra.Command, args []string) error {
	var filter apiclient.EndpointFilter
	if endpointsAuthenticated != "" {
		v, err := strconv.ParseBool(endpointsAuthenticated)
		if err != nil {
			return fmt.Errorf("invalid --authenticated value %q", endpointsAuthenticated)
		}
		filter.Authenticated = &v
	}

	return withAPI(func(ctx context.Context, client *apiclient.Client, printer *output.Printer) error {
		eps, err := client.ListEndpoints(ctx, filter)
		if err != nil {
			return err
		}
		return printer.Print(EndpointList(eps))
	})
}

func runEndpointsGet(cmd *cobra.Command, args []string) error {
	id, err := parseConnID(args[0])
	if err != nil {
		return err
	}
	return withAPI(func(ctx context.Context, client *apiclient.Client, printer *output.Printer) error {
		ep, err := client.GetEndpoint(ctx, id)
		if err != nil {
			return err
		}
		return printer.Print(EndpointList{*ep})
	})
}

func runEndpointsDisconnect(cmd *cobra.Command, args []string) error {
	id, err := parseConnID(args[0])
	if err != nil {
		return err
	}
	return withAPI(func(ctx context.Context, client *apiclient.Client, printer *output.Printer) error {
		if err := client.Disconnect(ctx, id); err != nil {
			return err
		}
		printer.Success(fmt.Sprintf("Disconnected connection %d", id))
		return nil
	})
}

func runBindings(cmd *cobra.Command, args []string) error {
	return withAPI(func(ctx context.Context, client *apiclient.Client, printer *output.Printer) error {
		bindings, err := client.ListBindings(ctx)
		if err != nil {
			return err
		}
		return printer.Print(BindingList(bindings))
	})
}

func runAdmissions(cmd *cobra.Command, args []string) error {
	return withAPI(func(ctx context.Context, client *apiclient.Client, printer *output.Printer) error {
		events, err := client.ListAdmissions(ctx, admissionsLimit)
		if err != nil {
			return err
		}
		return printer.Print(AdmissionList(events))
	})
}

func withAPI(fn func(ctx context.Context, client *apiclient.Client, printer *output.Printer) error) error {
	printer, err := newPrinter()
	if err != nil {
		return err
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, client, printer)
}

func parseConnID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid connection id %q", s)
	}
	return id, nil
}
