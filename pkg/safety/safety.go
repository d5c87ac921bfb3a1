// Package safety gates large-tenant enumeration behind explicit confirmation.
package safety

import (
	"fmt"
	"log/slog"
)

// Default thresholds for the large-tenant rail.
const (
	SubscriptionThreshold  = 25
	ResourceGroupThreshold = 200
)

// Check describes the tenant shape and requested run mode the evaluator
// inspects before any assignment enumeration starts.
type Check struct {
	SubscriptionCount  int
	ResourceGroupCount int

	// IncludeResources without an explicit subscription filter means an
	// unrestricted resource-level scan, which trips the rail on its own.
	IncludeResources      bool
	ExplicitSubscriptions bool

	// Transitive group expansion has unbounded fan-out cost and always
	// requires confirmation, independent of tenant size.
	TransitiveExpansion bool

	Confirmed bool
}

// RailError is returned when a rail trips without confirmation. The run must
// abort before any output artifact is produced.
type RailError struct {
	Reasons []string
}

func (e *RailError) Error() string {
	return fmt.Sprintf("safety rail triggered: %v (use --confirm-large-scan to proceed)", e.Reasons)
}

// Evaluate decides whether the run may proceed. A nil return means go.
func Evaluate(c Check, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("tenant size",
		"subscriptions", c.SubscriptionCount,
		"resourceGroups", c.ResourceGroupCount)

	var reasons []string
	if c.SubscriptionCount > SubscriptionThreshold {
		reasons = append(reasons, fmt.Sprintf("subscriptions %d > %d", c.SubscriptionCount, SubscriptionThreshold))
	}
	if c.ResourceGroupCount > ResourceGroupThreshold {
		reasons = append(reasons, fmt.Sprintf("resource groups %d > %d", c.ResourceGroupCount, ResourceGroupThreshold))
	}
	if c.IncludeResources && !c.ExplicitSubscriptions {
		reasons = append(reasons, "resource-level scan without an explicit subscription filter")
	}
	if c.TransitiveExpansion {
		reasons = append(reasons, "transitive group membership expansion")
	}

	if len(reasons) == 0 {
		return nil
	}
	if c.Confirmed {
		logger.Info("large scan confirmed", "reasons", reasons)
		return nil
	}

	logger.Warn("LARGE TENANT DETECTED - safety rail triggered")
	for _, reason := range reasons {
		logger.Warn("  " + reason)
	}
	return &RailError{Reasons: reasons}
}
