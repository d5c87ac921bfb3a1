package principals

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilsec/azrbac/pkg/types"
)

type fakeDirectory struct {
	mu       sync.Mutex
	userCall int
	spCall   int
	users    map[string][2]string
	sps      map[string][2]string
	err      error
}

func (f *fakeDirectory) ResolveUser(ctx context.Context, id string) (string, string, error) {
	f.mu.Lock()
	f.userCall++
	f.mu.Unlock()
	if f.err != nil {
		return "", "", f.err
	}
	pair := f.users[id]
	return pair[0], pair[1], nil
}

func (f *fakeDirectory) ResolveServicePrincipal(ctx context.Context, id string) (string, string, error) {
	f.mu.Lock()
	f.spCall++
	f.mu.Unlock()
	if f.err != nil {
		return "", "", f.err
	}
	pair := f.sps[id]
	return pair[0], pair[1], nil
}

func (f *fakeDirectory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userCall + f.spCall
}

func TestResolveUserAndServicePrincipal(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string][2]string{"u1": {"Alice Example", "alice@example.com"}},
		sps:   map[string][2]string{"sp1": {"pipeline-app", "app-id-1"}},
	}
	resolver := NewResolver(dir, nil, Options{})

	user := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)
	assert.Equal(t, "Alice Example", user.DisplayName)
	assert.Equal(t, "alice@example.com", user.UPNOrAppID)

	sp := resolver.Resolve(context.Background(), "sp1", types.PrincipalServicePrincipal)
	assert.Equal(t, "pipeline-app", sp.DisplayName)
	assert.Equal(t, "app-id-1", sp.UPNOrAppID)
}

func TestSecondLookupIsServedFromCache(t *testing.T) {
	dir := &fakeDirectory{users: map[string][2]string{"u1": {"Alice", "alice@example.com"}}}
	resolver := NewResolver(dir, nil, Options{})

	first := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)
	second := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, dir.calls(), "second lookup must not issue a directory call")
}

func TestGroupAndUnknownAreNeverLookedUp(t *testing.T) {
	dir := &fakeDirectory{}
	resolver := NewResolver(dir, nil, Options{})

	group := resolver.Resolve(context.Background(), "g1", types.PrincipalGroup)
	unknown := resolver.Resolve(context.Background(), "x1", types.PrincipalUnknown)

	assert.Equal(t, Resolution{DisplayName: "g1", UPNOrAppID: "g1"}, group)
	assert.Equal(t, Resolution{DisplayName: "x1", UPNOrAppID: "x1"}, unknown)
	assert.Zero(t, dir.calls())
}

func TestDisabledResolutionReturnsIDs(t *testing.T) {
	dir := &fakeDirectory{users: map[string][2]string{"u1": {"Alice", "alice@example.com"}}}
	resolver := NewResolver(dir, nil, Options{Disabled: true})

	got := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)

	assert.Equal(t, Resolution{DisplayName: "u1", UPNOrAppID: "u1"}, got)
	assert.Zero(t, dir.calls())
}

func TestResolutionFailureFallsBackToID(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("not found")}
	resolver := NewResolver(dir, nil, Options{})

	got := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)

	assert.Equal(t, Resolution{DisplayName: "u1", UPNOrAppID: "u1"}, got)
	// The failed result is cached; no retry storm on large assignment sets.
	resolver.Resolve(context.Background(), "u1", types.PrincipalUser)
	assert.Equal(t, 1, dir.calls())
}

func TestRedactedResultIsCached(t *testing.T) {
	dir := &fakeDirectory{users: map[string][2]string{"u1": {"Alice", "alice@example.com"}}}
	resolver := NewResolver(dir, nil, Options{Redact: true})

	first := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)
	second := resolver.Resolve(context.Background(), "u1", types.PrincipalUser)

	want := Resolution{DisplayName: types.RedactedValue, UPNOrAppID: types.RedactedValue}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)
	assert.Equal(t, 1, dir.calls())
}

func TestResolveAllFillsAssignments(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string][2]string{"u1": {"Alice", "alice@example.com"}},
	}
	resolver := NewResolver(dir, nil, Options{MaxConcurrency: 4})

	assignments := []types.RoleAssignment{
		{PrincipalID: "u1", PrincipalType: types.PrincipalUser},
		{PrincipalID: "u1", PrincipalType: types.PrincipalUser},
		{PrincipalID: "g1", PrincipalType: types.PrincipalGroup},
	}
	resolver.ResolveAll(context.Background(), assignments)

	assert.Equal(t, "Alice", assignments[0].PrincipalDisplayName)
	assert.Equal(t, "alice@example.com", assignments[0].PrincipalUPNOrAppID)
	assert.Equal(t, "Alice", assignments[1].PrincipalDisplayName)
	assert.Equal(t, "g1", assignments[2].PrincipalDisplayName)
	assert.Equal(t, 1, dir.calls(), "duplicate principals resolve through the cache")
	assert.Equal(t, 2, resolver.CacheSize())
}

func TestConcurrentFirstLookupsCollapse(t *testing.T) {
	dir := &fakeDirectory{users: map[string][2]string{"u1": {"Alice", "alice@example.com"}}}
	resolver := NewResolver(dir, nil, Options{MaxConcurrency: 8})

	assignments := make([]types.RoleAssignment, 50)
	for i := range assignments {
		assignments[i] = types.RoleAssignment{PrincipalID: "u1", PrincipalType: types.PrincipalUser}
	}
	resolver.ResolveAll(context.Background(), assignments)

	require.Equal(t, 1, dir.calls())
	for _, a := range assignments {
		assert.Equal(t, "Alice", a.PrincipalDisplayName)
	}
}
