package directory

import (
	"context"
	"errors"

	"github.com/veilsec/azrbac/pkg/types"
)

// ErrUnavailable signals that directory lookups are disabled for this run.
var ErrUnavailable = errors.New("directory service unavailable")

// Noop satisfies the directory interfaces without issuing any network calls.
// Principal resolution and group expansion degrade to ID-only behavior.
type Noop struct{}

func (Noop) ResolveUser(context.Context, string) (string, string, error) {
	return "", "", ErrUnavailable
}

func (Noop) ResolveServicePrincipal(context.Context, string) (string, string, error) {
	return "", "", ErrUnavailable
}

func (Noop) ListGroupMembers(context.Context, string, bool, int) ([]types.GroupMember, error) {
	return nil, ErrUnavailable
}
