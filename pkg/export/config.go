package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/veilsec/azrbac/pkg/groups"
)

// Defaults for the flag surface.
const (
	DefaultMarkdownTop     = 200
	DefaultGroupMembersTop = 500
	DefaultMaxConcurrency  = 4
)

// Config is the full argument set of one export run.
type Config struct {
	Subscriptions            []string
	DiscoverSubscriptions    bool
	TraverseManagementGroups bool
	IncludeResources         bool
	ConfirmLargeScan         bool

	NoResolvePrincipals bool
	Redact              bool

	ExpandGroupMembers  bool
	GroupMembersTop     int
	GroupMembershipMode groups.Mode

	MarkdownTop    int
	JSON           bool
	XLSX           bool
	OutputPath     string
	LogDir         string
	Limit          int
	MaxConcurrency int
	GraphQPS       float64
}

// UsageError is a flag-validation failure; it maps to exit code 2 and aborts
// before any network call.
type UsageError struct{ msg string }

func (e *UsageError) Error() string { return e.msg }

// Validate checks for conflicting or missing target-selection flags and
// normalizes comma-separated subscription filters.
func (c *Config) Validate() error {
	c.Subscriptions = splitSubscriptions(c.Subscriptions)

	if len(c.Subscriptions) == 0 && !c.DiscoverSubscriptions && !c.TraverseManagementGroups {
		return &UsageError{msg: "must specify --subscriptions, --discover-subscriptions, or " +
			"--traverse-management-groups; this prevents accidental tenant-wide enumeration"}
	}
	switch c.GroupMembershipMode {
	case "", groups.ModeDirect, groups.ModeTransitive:
	default:
		return &UsageError{msg: fmt.Sprintf("invalid --group-membership-mode %q (want direct or transitive)", c.GroupMembershipMode)}
	}
	if c.GroupMembershipMode == groups.ModeTransitive && !c.ConfirmLargeScan {
		return &UsageError{msg: "--group-membership-mode transitive requires --confirm-large-scan"}
	}

	if c.GroupMembersTop <= 0 {
		c.GroupMembersTop = DefaultGroupMembersTop
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.GroupMembershipMode == "" {
		c.GroupMembershipMode = groups.ModeDirect
	}
	return nil
}

// Arguments echoes the effective argument set for the run summary.
func (c *Config) Arguments() map[string]string {
	return map[string]string{
		"subscriptions":              strings.Join(c.Subscriptions, ","),
		"discover_subscriptions":     strconv.FormatBool(c.DiscoverSubscriptions),
		"traverse_management_groups": strconv.FormatBool(c.TraverseManagementGroups),
		"include_resources":          strconv.FormatBool(c.IncludeResources),
		"confirm_large_scan":         strconv.FormatBool(c.ConfirmLargeScan),
		"no_resolve_principals":      strconv.FormatBool(c.NoResolvePrincipals),
		"redact":                     strconv.FormatBool(c.Redact),
		"expand_group_members":       strconv.FormatBool(c.ExpandGroupMembers),
		"group_members_top":          strconv.Itoa(c.GroupMembersTop),
		"group_membership_mode":      string(c.GroupMembershipMode),
		"markdown_top":               strconv.Itoa(c.MarkdownTop),
		"json":                       strconv.FormatBool(c.JSON),
		"xlsx":                       strconv.FormatBool(c.XLSX),
		"output_path":                c.OutputPath,
		"limit":                      strconv.Itoa(c.Limit),
		"max_concurrency":            strconv.Itoa(c.MaxConcurrency),
	}
}

// splitSubscriptions expands comma-separated and repeated subscription flags
// into a flat, trimmed list.
func splitSubscriptions(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
