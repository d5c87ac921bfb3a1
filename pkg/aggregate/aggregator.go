// Package aggregate walks the resolved scope set and merges role definitions
// and role assignments into unified collections.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veilsec/azrbac/pkg/scopes"
	"github.com/veilsec/azrbac/pkg/types"
)

// AssignmentLister fetches role definitions and assignments for a scope.
// Implemented by azure.Client; tests substitute fakes.
type AssignmentLister interface {
	ListRoleDefinitions(ctx context.Context, scope string) ([]types.RoleDefinition, error)
	ListRoleAssignments(ctx context.Context, scope string) ([]types.RoleAssignment, error)
}

// Options controls traversal width and truncation.
type Options struct {
	// Limit truncates processing after N scopes per category. Smoke-test
	// feature, not a correctness one.
	Limit int

	// MaxConcurrency bounds the worker pool within each scope category.
	// Categories still complete in order: management groups, then
	// subscriptions, then resource groups.
	MaxConcurrency int
}

// Result holds the merged collections and the run bookkeeping for the
// traversal. Role definitions are intentionally not deduplicated across
// scopes; duplicates across management-group and subscription boundaries
// reflect actual assignable-scope declarations.
type Result struct {
	RoleDefinitions []types.RoleDefinition
	RoleAssignments []types.RoleAssignment
	Processed       types.ScopeCounts
	Skipped         []string
	Errors          []string
}

// Aggregator fetches and merges per-scope RBAC data.
type Aggregator struct {
	client AssignmentLister
	logger *slog.Logger
	opts   Options
}

func New(client AssignmentLister, logger *slog.Logger, opts Options) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Aggregator{client: client, logger: logger, opts: opts}
}

type scopeResult struct {
	definitions []types.RoleDefinition
	assignments []types.RoleAssignment
	skipTag     string
	err         error
}

// Run processes every scope in traversal order and merges the results.
// A single scope failure never aborts the run; it is logged, tagged, and the
// traversal continues.
func (a *Aggregator) Run(ctx context.Context, set *scopes.Set) *Result {
	result := &Result{}

	a.logger.Info("processing management groups", "count", len(set.ManagementGroups))
	a.runCategory(ctx, truncate(set.ManagementGroups, a.opts.Limit), true, result, &result.Processed.ManagementGroups)

	a.logger.Info("processing subscriptions", "count", len(set.Subscriptions))
	a.runCategory(ctx, truncate(set.Subscriptions, a.opts.Limit), true, result, &result.Processed.Subscriptions)

	if len(set.ResourceGroups) > 0 {
		a.logger.Info("processing resource groups", "count", len(set.ResourceGroups))
		a.runCategory(ctx, truncate(set.ResourceGroups, a.opts.Limit), false, result, &result.Processed.ResourceGroups)
	}

	joinRoleNames(result)
	return result
}

// runCategory fans a single scope category out over the bounded pool and
// merges per-scope results back in traversal order.
func (a *Aggregator) runCategory(ctx context.Context, list []types.Scope, withDefinitions bool, result *Result, processed *int) {
	results := make([]scopeResult, len(list))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.MaxConcurrency)
	for i, scope := range list {
		i, scope := i, scope
		g.Go(func() error {
			sr := a.processScope(gctx, scope, withDefinitions)
			mu.Lock()
			results[i] = sr
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, sr := range results {
		if sr.err != nil {
			msg := fmt.Sprintf("failed to process %s: %v", sr.skipTag, sr.err)
			a.logger.Error(msg)
			result.Errors = append(result.Errors, msg)
			result.Skipped = append(result.Skipped, sr.skipTag)
			continue
		}
		result.RoleDefinitions = append(result.RoleDefinitions, sr.definitions...)
		result.RoleAssignments = append(result.RoleAssignments, sr.assignments...)
		*processed++
	}
}

func (a *Aggregator) processScope(ctx context.Context, scope types.Scope, withDefinitions bool) scopeResult {
	sr := scopeResult{skipTag: skipTag(scope)}

	if withDefinitions {
		defs, err := a.client.ListRoleDefinitions(ctx, scope.Path)
		if err != nil {
			sr.err = err
			return sr
		}
		sr.definitions = defs
	}

	assignments, err := a.client.ListRoleAssignments(ctx, scope.Path)
	if err != nil {
		sr.err = err
		return sr
	}
	for i := range assignments {
		// Inheritance is always scope-path-derived, never taken from the
		// provider.
		assignments[i].Inherited = assignments[i].Scope != scope.Path
	}
	sr.assignments = assignments

	a.logger.Debug("processed scope",
		"scope", scope.Path,
		"definitions", len(sr.definitions),
		"assignments", len(sr.assignments))
	return sr
}

// joinRoleNames fills the role name column from the collected definitions.
func joinRoleNames(result *Result) {
	if len(result.RoleDefinitions) == 0 {
		return
	}
	names := make(map[string]string, len(result.RoleDefinitions))
	for _, def := range result.RoleDefinitions {
		if def.RoleDefinitionID != "" && def.RoleDefinitionName != "" {
			names[def.RoleDefinitionID] = def.RoleDefinitionName
		}
	}
	for i := range result.RoleAssignments {
		if name, ok := names[result.RoleAssignments[i].RoleDefinitionID]; ok {
			result.RoleAssignments[i].RoleDefinitionName = name
		}
	}
}

func skipTag(scope types.Scope) string {
	switch scope.Type {
	case types.ScopeManagementGroup:
		segments := strings.Split(scope.Path, "/")
		return "MG:" + segments[len(segments)-1]
	case types.ScopeSubscription:
		return "SUB:" + scope.SubscriptionID
	case types.ScopeResourceGroup:
		return fmt.Sprintf("RG:%s:%s", scope.ResourceGroup, scope.SubscriptionID)
	default:
		return "UNKNOWN:" + scope.Path
	}
}

func truncate(list []types.Scope, limit int) []types.Scope {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
