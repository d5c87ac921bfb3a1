// Package groups optionally expands group-typed principals into member lists.
package groups

import (
	"context"
	"log/slog"

	"github.com/veilsec/azrbac/pkg/types"
)

// Mode selects which directory query is issued.
type Mode string

const (
	// ModeDirect lists first-level members only.
	ModeDirect Mode = "direct"
	// ModeTransitive lists the full membership closure. Unbounded fan-out
	// cost; the safety rail requires confirmation for this mode.
	ModeTransitive Mode = "transitive"
)

// DefaultTop is the default hard cap on members fetched per group.
const DefaultTop = 500

// MemberLister is the directory capability the expander depends on.
type MemberLister interface {
	ListGroupMembers(ctx context.Context, groupID string, transitive bool, top int) ([]types.GroupMember, error)
}

// Options configures expansion for a run.
type Options struct {
	Mode Mode
	// Top caps member count per group regardless of mode.
	Top    int
	Redact bool
}

// Expander enumerates membership for group-typed assignments.
type Expander struct {
	dir    MemberLister
	logger *slog.Logger
	opts   Options
	// byGroup avoids re-fetching a group that holds several assignments.
	byGroup map[string][]types.GroupMember
}

func New(dir MemberLister, logger *slog.Logger, opts Options) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Top <= 0 {
		opts.Top = DefaultTop
	}
	if opts.Mode == "" {
		opts.Mode = ModeDirect
	}
	return &Expander{dir: dir, logger: logger, opts: opts, byGroup: make(map[string][]types.GroupMember)}
}

// ExpandAll expands every group-typed assignment in place and returns the
// denormalized member list across all groups. The first member's attributes
// plus the total member count are merged onto the parent assignment; the full
// one-to-many relationship is preserved in the returned list. Per-group
// failures are logged and skipped.
func (e *Expander) ExpandAll(ctx context.Context, assignments []types.RoleAssignment) []types.GroupMember {
	e.logger.Info("expanding group members", "mode", string(e.opts.Mode), "top", e.opts.Top)

	var all []types.GroupMember
	seen := make(map[string]bool)
	expanded := 0
	for i := range assignments {
		if assignments[i].PrincipalType != types.PrincipalGroup {
			continue
		}
		groupID := assignments[i].PrincipalID
		members, err := e.expand(ctx, groupID)
		if err != nil {
			e.logger.Warn("failed to expand group", "groupId", groupID, "error", err)
			continue
		}
		if len(members) == 0 {
			continue
		}

		assignments[i].MemberCount = len(members)
		first := members[0]
		assignments[i].MemberPrincipalID = first.MemberPrincipalID
		assignments[i].MemberType = first.MemberType
		assignments[i].MemberDisplayName = first.MemberDisplayName
		assignments[i].MemberUPN = first.MemberUPN

		if !seen[groupID] {
			seen[groupID] = true
			all = append(all, members...)
		}
		expanded++
	}

	e.logger.Info("expanded groups", "count", expanded)
	return all
}

func (e *Expander) expand(ctx context.Context, groupID string) ([]types.GroupMember, error) {
	if members, ok := e.byGroup[groupID]; ok {
		return members, nil
	}
	members, err := e.dir.ListGroupMembers(ctx, groupID, e.opts.Mode == ModeTransitive, e.opts.Top)
	if err != nil {
		return nil, err
	}
	if e.opts.Redact {
		for i := range members {
			members[i].MemberUPN = types.RedactedValue
		}
	}
	e.byGroup[groupID] = members
	return members, nil
}
