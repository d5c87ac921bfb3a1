// Package principals maps principal IDs to human-readable identity pairs with
// per-run memoization and optional redaction.
package principals

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/veilsec/azrbac/pkg/types"
)

// Directory is the lookup capability the resolver depends on. The Graph
// implementation lives in pkg/directory; tests and degraded runs use fakes or
// directory.Noop.
type Directory interface {
	ResolveUser(ctx context.Context, principalID string) (displayName, upn string, err error)
	ResolveServicePrincipal(ctx context.Context, principalID string) (displayName, appID string, err error)
}

// Resolution is the cached identity pair for one principal ID.
type Resolution struct {
	DisplayName string
	UPNOrAppID  string
}

// Options configures resolution behavior for a run.
type Options struct {
	// Disabled skips directory calls entirely; IDs are returned for both
	// fields.
	Disabled bool

	// Redact overwrites both fields with the sentinel after resolution. The
	// redacted pair is what gets cached, so redaction is applied exactly
	// once for all consumers.
	Redact bool

	// QPS limits directory calls. Zero means unlimited.
	QPS float64

	// MaxConcurrency bounds parallel lookups in ResolveAll.
	MaxConcurrency int
}

// Resolver memoizes principal lookups for the lifetime of one run. A given ID
// always resolves to the same entity, so the cache key is the ID alone and
// entries are never invalidated.
type Resolver struct {
	dir     Directory
	logger  *slog.Logger
	opts    Options
	limiter *rate.Limiter

	mu    sync.RWMutex
	cache map[string]Resolution
	// flight collapses concurrent first-time lookups of the same principal
	// into a single directory call.
	flight singleflight.Group
}

func NewResolver(dir Directory, logger *slog.Logger, opts Options) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	limit := rate.Inf
	if opts.QPS > 0 {
		limit = rate.Limit(opts.QPS)
	}
	return &Resolver{
		dir:     dir,
		logger:  logger,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		cache:   make(map[string]Resolution),
	}
}

// Resolve returns the identity pair for a principal. Lookups are attempted
// only for users and service principals; groups resolve through the expansion
// engine and unknown types have no resolvable identity. Any lookup failure
// falls back silently to the raw ID.
func (r *Resolver) Resolve(ctx context.Context, principalID string, principalType types.PrincipalType) Resolution {
	r.mu.RLock()
	cached, ok := r.cache[principalID]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	value, _, _ := r.flight.Do(principalID, func() (any, error) {
		resolution := r.lookup(ctx, principalID, principalType)
		if r.opts.Redact {
			resolution = Resolution{DisplayName: types.RedactedValue, UPNOrAppID: types.RedactedValue}
		}
		r.mu.Lock()
		r.cache[principalID] = resolution
		r.mu.Unlock()
		return resolution, nil
	})
	return value.(Resolution)
}

func (r *Resolver) lookup(ctx context.Context, principalID string, principalType types.PrincipalType) Resolution {
	fallback := Resolution{DisplayName: principalID, UPNOrAppID: principalID}
	if r.opts.Disabled {
		return fallback
	}

	var displayName, upnOrAppID string
	var err error
	switch principalType {
	case types.PrincipalUser:
		err = r.wait(ctx)
		if err == nil {
			displayName, upnOrAppID, err = r.dir.ResolveUser(ctx, principalID)
		}
	case types.PrincipalServicePrincipal:
		err = r.wait(ctx)
		if err == nil {
			displayName, upnOrAppID, err = r.dir.ResolveServicePrincipal(ctx, principalID)
		}
	default:
		return fallback
	}
	if err != nil {
		r.logger.Debug("failed to resolve principal", "principalId", principalID, "error", err)
		return fallback
	}

	if displayName == "" {
		displayName = principalID
	}
	if upnOrAppID == "" {
		upnOrAppID = principalID
	}
	return Resolution{DisplayName: displayName, UPNOrAppID: upnOrAppID}
}

func (r *Resolver) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// ResolveAll fills the identity fields on every assignment, deduplicating
// directory calls through the cache.
func (r *Resolver) ResolveAll(ctx context.Context, assignments []types.RoleAssignment) {
	if len(assignments) == 0 {
		return
	}
	r.logger.Info("resolving principal names", "assignments", len(assignments))

	var resolved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrency)
	for i := range assignments {
		i := i
		g.Go(func() error {
			resolution := r.Resolve(gctx, assignments[i].PrincipalID, assignments[i].PrincipalType)
			assignments[i].PrincipalDisplayName = resolution.DisplayName
			assignments[i].PrincipalUPNOrAppID = resolution.UPNOrAppID
			if n := resolved.Add(1); n%100 == 0 {
				r.logger.Debug("resolution progress", "resolved", n, "total", len(assignments))
			}
			return nil
		})
	}
	g.Wait()

	r.logger.Info("resolved principal names", "count", resolved.Load())
}

// CacheSize reports how many distinct principals have been resolved.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
