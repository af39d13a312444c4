package security

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/clustergate/pkg/credential"
)

// Chain routes a credential to the backend registered for its mechanism.
// Plaintext credentials are routed under credential.MechanismPlaintext.
//
// Thread safety: safe for concurrent use (read-only after construction).
type Chain struct {
	backends map[string]Backend
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{backends: make(map[string]Backend)}
}

// Register binds mechanism to b, replacing any previous binding.
func (c *Chain) Register(mechanism string, b Backend) *Chain {
	c.backends[mechanism] = b
	return c
}

// Len returns the number of registered mechanisms.
func (c *Chain) Len() int {
	return len(c.backends)
}

// Name lists the chained backends.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.backends))
	for mech, b := range c.backends {
		names = append(names, mech+"="+b.Name())
	}
	sort.Strings(names)
	return "chain(" + strings.Join(names, ",") + ")"
}

// CreateSession delegates to the backend registered for cred's mechanism.
func (c *Chain) CreateSession(ctx context.Context, cred *credential.Credential) (Session, error) {
	mech := cred.MechanismName()
	b, ok := c.backends[mech]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMechanism, mech)
	}
	return b.CreateSession(ctx, cred)
}
