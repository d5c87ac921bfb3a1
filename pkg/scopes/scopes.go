// Package scopes builds the ordered set of scopes to enumerate and classifies
// scope paths by their structure.
package scopes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veilsec/azrbac/pkg/types"
)

const managementGroupPrefix = "/providers/Microsoft.Management/managementGroups/"

// Classify derives the scope type, subscription ID, and resource group name
// from the scope path alone. The path is the authoritative signal; provider
// type metadata is never consulted.
func Classify(scope string) (types.ScopeType, string, string) {
	if strings.Contains(scope, managementGroupPrefix) {
		return types.ScopeManagementGroup, "", ""
	}

	segments := strings.Split(strings.Trim(scope, "/"), "/")
	subscriptionID := ""
	resourceGroup := ""
	for i := 0; i < len(segments)-1; i++ {
		switch {
		case strings.EqualFold(segments[i], "subscriptions") && subscriptionID == "":
			subscriptionID = segments[i+1]
		case strings.EqualFold(segments[i], "resourceGroups") && resourceGroup == "":
			resourceGroup = segments[i+1]
		}
	}

	switch {
	case subscriptionID != "" && resourceGroup != "":
		return types.ScopeResourceGroup, subscriptionID, resourceGroup
	case subscriptionID != "":
		return types.ScopeSubscription, subscriptionID, ""
	default:
		return types.ScopeUnknown, "", ""
	}
}

// ManagementGroupScope builds the ARM scope path for a management group name.
func ManagementGroupScope(name string) string {
	return managementGroupPrefix + name
}

// SubscriptionScope builds the ARM scope path for a subscription ID.
func SubscriptionScope(subscriptionID string) string {
	return fmt.Sprintf("/subscriptions/%s", subscriptionID)
}

// ResourceGroupScope builds the ARM scope path for a resource group.
func ResourceGroupScope(subscriptionID, resourceGroup string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", subscriptionID, resourceGroup)
}

// TenantLister enumerates the tenant hierarchy. Implemented by azure.Client;
// tests substitute fakes.
type TenantLister interface {
	ListManagementGroups(ctx context.Context) ([]types.ManagementGroup, error)
	ListSubscriptions(ctx context.Context) ([]types.Subscription, error)
	ListResourceGroups(ctx context.Context, subscriptionID string) ([]types.ResourceGroup, error)
}

// Options selects which parts of the tenant the resolver walks.
type Options struct {
	// Explicit subscription IDs. When set, discovery is skipped and the
	// filter is validated against the tenant's subscription list.
	Subscriptions []string

	DiscoverSubscriptions    bool
	TraverseManagementGroups bool

	// Resource groups are enumerated only when resource-level assignments
	// were requested or a processing limit is set.
	IncludeResources bool
	Limit            int
}

// Set is the resolved, ordered collection of scopes to query: management
// groups first, then subscriptions, then resource groups.
type Set struct {
	ManagementGroups []types.Scope
	Subscriptions    []types.Scope
	ResourceGroups   []types.Scope

	// Warnings collected during resolution (for example a failed management
	// group listing, which is not fatal).
	Warnings []string
}

// SubscriptionCount returns the number of resolved subscription scopes.
func (s *Set) SubscriptionCount() int { return len(s.Subscriptions) }

// ResourceGroupCount returns the total number of resolved resource group
// scopes across all subscriptions.
func (s *Set) ResourceGroupCount() int { return len(s.ResourceGroups) }

// Resolver walks the tenant hierarchy and produces the scope set.
type Resolver struct {
	tenant TenantLister
	logger *slog.Logger
}

func NewResolver(tenant TenantLister, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tenant: tenant, logger: logger}
}

// Resolve builds the scope set according to opts. It returns an error only
// when no subscription remains after filtering; every other listing failure
// degrades to a warning.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (*Set, error) {
	set := &Set{}

	if opts.TraverseManagementGroups {
		groups, err := r.tenant.ListManagementGroups(ctx)
		if err != nil {
			msg := fmt.Sprintf("failed to list management groups: %v", err)
			r.logger.Warn(msg)
			set.Warnings = append(set.Warnings, msg)
		}
		for _, mg := range groups {
			set.ManagementGroups = append(set.ManagementGroups, types.Scope{
				Path:        ManagementGroupScope(mg.Name),
				Type:        types.ScopeManagementGroup,
				DisplayName: mg.DisplayName,
			})
		}
		if len(groups) == 0 && err == nil {
			r.logger.Warn("no management groups found or access denied")
		}
	}

	subs, err := r.listSubscriptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no subscriptions found or accessible")
	}
	for _, sub := range subs {
		set.Subscriptions = append(set.Subscriptions, types.Scope{
			Path:           SubscriptionScope(sub.SubscriptionID),
			Type:           types.ScopeSubscription,
			SubscriptionID: sub.SubscriptionID,
			DisplayName:    sub.DisplayName,
		})
	}

	if opts.IncludeResources || opts.Limit > 0 {
		r.logger.Info("enumerating resource groups", "subscriptions", len(subs))
		for i, sub := range subs {
			if opts.Limit > 0 && i >= opts.Limit {
				break
			}
			rgs, err := r.tenant.ListResourceGroups(ctx, sub.SubscriptionID)
			if err != nil {
				msg := fmt.Sprintf("failed to list resource groups for %s: %v", sub.SubscriptionID, err)
				r.logger.Warn(msg)
				set.Warnings = append(set.Warnings, msg)
				continue
			}
			for _, rg := range rgs {
				set.ResourceGroups = append(set.ResourceGroups, types.Scope{
					Path:           ResourceGroupScope(sub.SubscriptionID, rg.Name),
					Type:           types.ScopeResourceGroup,
					SubscriptionID: sub.SubscriptionID,
					ResourceGroup:  rg.Name,
					DisplayName:    rg.Name,
				})
			}
		}
	}

	return set, nil
}

func (r *Resolver) listSubscriptions(ctx context.Context, opts Options) ([]types.Subscription, error) {
	all, err := r.tenant.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	if len(opts.Subscriptions) == 0 {
		r.logger.Info("discovered subscriptions", "count", len(all))
		return all, nil
	}

	wanted := make(map[string]bool, len(opts.Subscriptions))
	for _, id := range opts.Subscriptions {
		wanted[strings.ToLower(strings.TrimSpace(id))] = true
	}

	var filtered []types.Subscription
	for _, sub := range all {
		if wanted[strings.ToLower(sub.SubscriptionID)] {
			filtered = append(filtered, sub)
		}
	}
	if dropped := len(opts.Subscriptions) - len(filtered); dropped > 0 {
		// Unknown IDs are dropped, not treated as errors.
		r.logger.Info("dropped unknown subscription filters", "count", dropped)
	}
	return filtered, nil
}
