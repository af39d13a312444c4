package apiclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Address is a member or client address.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Endpoint is a client endpoint in the member's registry.
type Endpoint struct {
	ConnID          uint64    `json:"conn_id" yaml:"conn_id"`
	RemoteAddr      Address   `json:"remote_addr" yaml:"remote_addr"`
	Authenticated   bool      `json:"authenticated" yaml:"authenticated"`
	Principal       string    `json:"principal,omitempty" yaml:"principal,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	AuthenticatedAt time.Time `json:"authenticated_at,omitzero" yaml:"authenticated_at,omitempty"`
}

// Binding is a routing table entry.
type Binding struct {
	Address Address   `json:"address" yaml:"address"`
	ConnID  uint64    `json:"conn_id" yaml:"conn_id"`
	BoundAt time.Time `json:"bound_at" yaml:"bound_at"`
}

// AdmissionEvent is an audited admission attempt.
type AdmissionEvent struct {
	ID         string    `json:"id" yaml:"id"`
	ConnID     uint64    `json:"conn_id" yaml:"conn_id"`
	RemoteAddr string    `json:"remote_addr" yaml:"remote_addr"`
	Mechanism  string    `json:"mechanism" yaml:"mechanism"`
	Principal  string    `json:"principal,omitempty" yaml:"principal,omitempty"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// ComponentHealth is one readiness check result.
type ComponentHealth struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Latency string `json:"latency" yaml:"latency"`
}

// EndpointFilter narrows ListEndpoints. A nil Authenticated lists all.
type EndpointFilter struct {
	Authenticated *bool
}

// ListEndpoints lists client endpoints.
func (c *Client) ListEndpoints(ctx context.Context, filter EndpointFilter) ([]Endpoint, error) {
	path := "/api/v1/endpoints"
	if filter.Authenticated != nil {
		path += "?authenticated=" + strconv.FormatBool(*filter.Authenticated)
	}
	return listResources[Endpoint](ctx, c, path)
}

// GetEndpoint returns one client endpoint.
func (c *Client) GetEndpoint(ctx context.Context, connID uint64) (*Endpoint, error) {
	return getResource[Endpoint](ctx, c, resourcePath("/api/v1/endpoints/%d", connID))
}

// Disconnect closes a client connection on the member.
func (c *Client) Disconnect(ctx context.Context, connID uint64) error {
	return c.delete(ctx, resourcePath("/api/v1/endpoints/%d", connID))
}

// ListBindings lists routing table entries.
func (c *Client) ListBindings(ctx context.Context) ([]Binding, error) {
	return listResources[Binding](ctx, c, "/api/v1/bindings")
}

// ListAdmissions lists the most recent audited admission attempts.
func (c *Client) ListAdmissions(ctx context.Context, limit int) ([]AdmissionEvent, error) {
	path := "/api/v1/admissions"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	return listResources[AdmissionEvent](ctx, c, path)
}

// Ready runs the member's readiness checks. When a check fails the results
// are returned together with an *APIError carrying status 503.
func (c *Client) Ready(ctx context.Context) ([]ComponentHealth, error) {
	status, body, err := c.send(ctx, http.MethodGet, "/health/ready")
	if err != nil {
		return nil, err
	}

	var results []ComponentHealth
	if status == http.StatusOK || status == http.StatusServiceUnavailable {
		if err := decodeData(body, &results); err != nil {
			return nil, err
		}
	}
	if status >= 400 {
		return results, parseError(status, body)
	}
	return results, nil
}
