// Package export orchestrates one RBAC export run: preflight, scope
// resolution, the safety gate, aggregation, principal resolution, group
// expansion, and report emission.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilsec/azrbac/internal/logs"
	"github.com/veilsec/azrbac/pkg/aggregate"
	"github.com/veilsec/azrbac/pkg/azure"
	"github.com/veilsec/azrbac/pkg/directory"
	"github.com/veilsec/azrbac/pkg/groups"
	"github.com/veilsec/azrbac/pkg/principals"
	"github.com/veilsec/azrbac/pkg/report"
	"github.com/veilsec/azrbac/pkg/safety"
	"github.com/veilsec/azrbac/pkg/scopes"
	"github.com/veilsec/azrbac/pkg/types"
)

// Exit codes. A tripped safety rail or a completed-with-warnings run exits 2;
// authentication failures, zero accessible subscriptions, and accumulated
// per-scope errors exit 1.
const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitSafety = 2
)

// ExitError carries the process exit code out of the runner.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// TenantClient is the cloud-provider collaborator surface the runner needs.
type TenantClient interface {
	scopes.TenantLister
	aggregate.AssignmentLister
}

// DirectoryClient is the directory-service collaborator surface.
type DirectoryClient interface {
	principals.Directory
	groups.MemberLister
}

// Deps are the injected collaborators; Run wires the real ones, tests wire
// fakes.
type Deps struct {
	Tenant         TenantClient
	Directory      DirectoryClient
	CredentialType string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Run performs a full export against the live tenant and returns nil or an
// *ExitError.
func Run(ctx context.Context, cfg Config) error {
	run, err := logs.NewRun("azure_export_rbac", cfg.LogDir)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer run.Close()
	logger := run.Logger
	logger.Info("starting Azure RBAC export", "arguments", cfg.Arguments())

	cred, credType, err := azure.Preflight(ctx, logger)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	logger.Info("using credential", "type", credType)

	tenant, err := azure.NewClient(cred)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}

	deps := Deps{
		Tenant:         tenant,
		Directory:      directory.Noop{},
		CredentialType: credType,
		Logger:         logger,
		Now:            time.Now,
	}
	if !cfg.NoResolvePrincipals || cfg.ExpandGroupMembers {
		graph, err := directory.NewGraphClient(cred)
		if err != nil {
			// Degraded mode: resolution and expansion fall back to IDs.
			logger.Debug("directory client unavailable", "error", err)
		} else {
			deps.Directory = graph
		}
	}

	summary, runErr := Execute(ctx, cfg, deps)
	if summary != nil {
		summary.RunID = run.ID
		if err := run.WriteSummary(summary); err != nil {
			logger.Error("failed to write summary", "error", err)
		}
	}
	return runErr
}

// Execute runs the pipeline against injected collaborators. It returns the
// run summary (nil when the safety gate aborts the run before any output) and
// nil or an *ExitError.
func Execute(ctx context.Context, cfg Config, deps Deps) (*types.RunSummary, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	resolver := scopes.NewResolver(deps.Tenant, logger)
	scopeSet, err := resolver.Resolve(ctx, scopes.Options{
		Subscriptions:            cfg.Subscriptions,
		DiscoverSubscriptions:    cfg.DiscoverSubscriptions,
		TraverseManagementGroups: cfg.TraverseManagementGroups,
		IncludeResources:         cfg.IncludeResources,
		Limit:                    cfg.Limit,
	})
	if err != nil {
		logger.Error("scope resolution failed", "error", err)
		return nil, &ExitError{Code: ExitFatal, Err: err}
	}

	err = safety.Evaluate(safety.Check{
		SubscriptionCount:     scopeSet.SubscriptionCount(),
		ResourceGroupCount:    scopeSet.ResourceGroupCount(),
		IncludeResources:      cfg.IncludeResources,
		ExplicitSubscriptions: len(cfg.Subscriptions) > 0,
		TransitiveExpansion:   cfg.ExpandGroupMembers && cfg.GroupMembershipMode == groups.ModeTransitive,
		Confirmed:             cfg.ConfirmLargeScan,
	}, logger)
	if err != nil {
		// No partial output on a tripped rail.
		return nil, &ExitError{Code: ExitSafety, Err: err}
	}

	aggregator := aggregate.New(deps.Tenant, logger, aggregate.Options{
		Limit:          cfg.Limit,
		MaxConcurrency: cfg.MaxConcurrency,
	})
	result := aggregator.Run(ctx, scopeSet)

	principalResolver := principals.NewResolver(deps.Directory, logger, principals.Options{
		Disabled:       cfg.NoResolvePrincipals,
		Redact:         cfg.Redact,
		QPS:            cfg.GraphQPS,
		MaxConcurrency: cfg.MaxConcurrency,
	})
	principalResolver.ResolveAll(ctx, result.RoleAssignments)

	var members []types.GroupMember
	if cfg.ExpandGroupMembers {
		expander := groups.New(deps.Directory, logger, groups.Options{
			Mode:   cfg.GroupMembershipMode,
			Top:    cfg.GroupMembersTop,
			Redact: cfg.Redact,
		})
		members = expander.ExpandAll(ctx, result.RoleAssignments)
	}

	outputDir := cfg.OutputPath
	if outputDir == "" {
		outputDir = report.DefaultOutputDir(start)
	}
	logger.Info("writing outputs", "dir", outputDir)
	emitter := report.NewEmitter(logger, report.Options{
		OutputDir:   outputDir,
		MarkdownTop: cfg.MarkdownTop,
		JSON:        cfg.JSON,
		XLSX:        cfg.XLSX,
	})
	_, emitErr := emitter.Emit(result.RoleDefinitions, result.RoleAssignments, members)
	if emitErr != nil {
		result.Errors = append(result.Errors, emitErr.Error())
	}

	end := now()
	summary := &types.RunSummary{
		StartTime:        start.UTC(),
		EndTime:          end.UTC(),
		DurationSeconds:  end.Sub(start).Seconds(),
		ScopesProcessed:  result.Processed,
		ScopesSkipped:    result.Skipped,
		RolesCount:       len(result.RoleDefinitions),
		AssignmentsCount: len(result.RoleAssignments),
		Warnings:         scopeSet.Warnings,
		Errors:           result.Errors,
		Success:          len(result.Errors) == 0,
		CredentialType:   deps.CredentialType,
		Arguments:        cfg.Arguments(),
	}

	switch {
	case len(summary.Errors) > 0:
		logger.Error("run completed with errors", "count", len(summary.Errors))
		return summary, &ExitError{Code: ExitFatal, Err: errors.New("run completed with errors")}
	case len(summary.Warnings) > 0 || len(summary.ScopesSkipped) > 0:
		logger.Warn("run completed with warnings", "count", len(summary.Warnings))
		return summary, &ExitError{Code: ExitSafety, Err: errors.New("run completed with warnings")}
	default:
		logger.Info("run completed successfully")
		return summary, nil
	}
}
