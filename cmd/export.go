package cmd

import (
	"github.com/spf13/cobra"

	"github.com/veilsec/azrbac/internal/message"
	"github.com/veilsec/azrbac/pkg/export"
	"github.com/veilsec/azrbac/pkg/groups"
)

var exportCfg export.Config
var groupMembershipMode string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export role definitions and assignments across management groups, subscriptions, and resource groups",
	Long: `Export Azure RBAC role definitions and role assignments with inherited-flag
detection, principal resolution, and structured run logs. Strictly read-only.

Examples:
  azrbac export --subscriptions sub1,sub2 --redact
  azrbac export --discover-subscriptions --confirm-large-scan
  azrbac export --traverse-management-groups --no-resolve-principals`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		exportCfg.GroupMembershipMode = groups.Mode(groupMembershipMode)
		if err := exportCfg.Validate(); err != nil {
			return err
		}
		message.Banner()
		message.Section("Azure RBAC Export")
		return export.Run(cmd.Context(), exportCfg)
	},
}

func init() {
	flags := exportCmd.Flags()

	flags.StringSliceVar(&exportCfg.Subscriptions, "subscriptions", nil,
		"target subscription IDs (comma-separated or repeatable)")
	flags.BoolVar(&exportCfg.DiscoverSubscriptions, "discover-subscriptions", false,
		"discover all accessible subscriptions (off by default)")
	flags.BoolVar(&exportCfg.TraverseManagementGroups, "traverse-management-groups", false,
		"traverse management groups (off by default)")
	flags.BoolVar(&exportCfg.IncludeResources, "include-resources", false,
		"include resource-level assignments (off by default)")
	flags.BoolVar(&exportCfg.ConfirmLargeScan, "confirm-large-scan", false,
		"required when large tenant thresholds are hit")

	flags.BoolVar(&exportCfg.NoResolvePrincipals, "no-resolve-principals", false,
		"skip principal name resolution (speeds up large runs)")
	flags.BoolVar(&exportCfg.Redact, "redact", false,
		"mask UPNs/AppIds, including expanded members")

	flags.BoolVar(&exportCfg.ExpandGroupMembers, "expand-group-members", false,
		"expand group members (extreme fan-out, use with caution)")
	flags.IntVar(&exportCfg.GroupMembersTop, "group-members-top", export.DefaultGroupMembersTop,
		"hard cap on members fetched per group")
	flags.StringVar(&groupMembershipMode, "group-membership-mode", string(groups.ModeDirect),
		"group membership mode: direct or transitive")

	flags.IntVar(&exportCfg.MarkdownTop, "markdown-top", export.DefaultMarkdownTop,
		"max rows for the Markdown export (0 disables it)")
	flags.BoolVar(&exportCfg.JSON, "json", false, "emit JSON exports")
	flags.BoolVar(&exportCfg.XLSX, "xlsx", false, "emit XLSX exports")
	flags.StringVar(&exportCfg.OutputPath, "output-path", "",
		"output directory (default: timestamped path under output/)")
	flags.StringVar(&exportCfg.LogDir, "log-dir", "",
		"base directory for run logs (default: logs/)")

	flags.IntVar(&exportCfg.Limit, "limit", 0,
		"process only the first N scopes per category, for smoke tests")
	flags.IntVar(&exportCfg.MaxConcurrency, "max-concurrency", export.DefaultMaxConcurrency,
		"max parallel provider calls per scope category")
	flags.Float64Var(&exportCfg.GraphQPS, "graph-qps", 0,
		"rate limit for directory lookups, queries per second (0 = unlimited)")

	rootCmd.AddCommand(exportCmd)
}
