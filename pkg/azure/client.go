// Package azure wraps the ARM SDK clients behind the narrow interfaces the
// exporter core consumes.
package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/managementgroups/armmanagementgroups"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/veilsec/azrbac/pkg/scopes"
	"github.com/veilsec/azrbac/pkg/types"
)

// Client bundles the ARM clients used by a run.
type Client struct {
	cred        azcore.TokenCredential
	mgClient    *armmanagementgroups.Client
	subsClient  *armsubscriptions.Client
	roleDefs    *armauthorization.RoleDefinitionsClient
	assignments *armauthorization.RoleAssignmentsClient
}

// NewClient builds the client bundle. The role-assignments client is only ever
// used for scope-based listing, so it is not bound to a subscription.
func NewClient(cred azcore.TokenCredential) (*Client, error) {
	mgClient, err := armmanagementgroups.NewClient(cred, &arm.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create management groups client: %w", err)
	}
	subsClient, err := armsubscriptions.NewClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	roleDefs, err := armauthorization.NewRoleDefinitionsClient(cred, &arm.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create role definitions client: %w", err)
	}
	assignments, err := armauthorization.NewRoleAssignmentsClient("", cred, &arm.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments client: %w", err)
	}
	return &Client{
		cred:        cred,
		mgClient:    mgClient,
		subsClient:  subsClient,
		roleDefs:    roleDefs,
		assignments: assignments,
	}, nil
}

// ListManagementGroups returns every management group visible to the caller.
func (c *Client) ListManagementGroups(ctx context.Context) ([]types.ManagementGroup, error) {
	var groups []types.ManagementGroup
	pager := c.mgClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list management groups: %w", err)
		}
		for _, mg := range page.Value {
			if mg == nil || mg.Name == nil {
				continue
			}
			group := types.ManagementGroup{
				ID:   stringValue(mg.ID),
				Name: *mg.Name,
			}
			if mg.Properties != nil {
				group.DisplayName = stringValue(mg.Properties.DisplayName)
			}
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// ListSubscriptions returns every subscription accessible to the caller.
func (c *Client) ListSubscriptions(ctx context.Context) ([]types.Subscription, error) {
	var subs []types.Subscription
	pager := c.subsClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, sub := range page.Value {
			if sub == nil || sub.SubscriptionID == nil {
				continue
			}
			state := "Unknown"
			if sub.State != nil {
				state = string(*sub.State)
			}
			subs = append(subs, types.Subscription{
				ID:             stringValue(sub.ID),
				SubscriptionID: *sub.SubscriptionID,
				DisplayName:    stringValue(sub.DisplayName),
				State:          state,
			})
		}
	}
	return subs, nil
}

// ListResourceGroups returns the resource groups of one subscription.
func (c *Client) ListResourceGroups(ctx context.Context, subscriptionID string) ([]types.ResourceGroup, error) {
	rgClient, err := armresources.NewResourceGroupsClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	var rgs []types.ResourceGroup
	pager := rgClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resource groups for %s: %w", subscriptionID, err)
		}
		for _, rg := range page.Value {
			if rg == nil || rg.Name == nil {
				continue
			}
			rgs = append(rgs, types.ResourceGroup{
				ID:             stringValue(rg.ID),
				Name:           *rg.Name,
				Location:       stringValue(rg.Location),
				SubscriptionID: subscriptionID,
			})
		}
	}
	return rgs, nil
}

// ListRoleDefinitions returns the role definitions visible at a scope.
func (c *Client) ListRoleDefinitions(ctx context.Context, scope string) ([]types.RoleDefinition, error) {
	var defs []types.RoleDefinition
	pager := c.roleDefs.NewListPager(scope, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list role definitions at %s: %w", scope, err)
		}
		for _, rd := range page.Value {
			if rd == nil || rd.Properties == nil {
				continue
			}
			var assignable []string
			for _, s := range rd.Properties.AssignableScopes {
				if s != nil {
					assignable = append(assignable, *s)
				}
			}
			defs = append(defs, types.RoleDefinition{
				RoleDefinitionName: stringValue(rd.Properties.RoleName),
				RoleDefinitionID:   stringValue(rd.ID),
				IsCustom:           strings.EqualFold(stringValue(rd.Properties.RoleType), "CustomRole"),
				Description:        stringValue(rd.Properties.Description),
				PermissionsCount:   len(rd.Properties.Permissions),
				AssignableScopes:   strings.Join(assignable, ";"),
			})
		}
	}
	return defs, nil
}

// ListRoleAssignments returns the role assignments visible at a scope,
// including those inherited from ancestor scopes. Scope type, subscription ID,
// and resource group are classified from each assignment's own scope path, and
// the inherited flag is recomputed against the queried scope; the provider's
// inheritance metadata is not reliable at all scope levels.
func (c *Client) ListRoleAssignments(ctx context.Context, scope string) ([]types.RoleAssignment, error) {
	var result []types.RoleAssignment
	pager := c.assignments.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{
		Filter: to.Ptr("atScope()"),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list role assignments at %s: %w", scope, err)
		}
		for _, assignment := range page.Value {
			if assignment == nil || assignment.Properties == nil {
				continue
			}
			props := assignment.Properties
			assignmentScope := stringValue(props.Scope)
			scopeType, subscriptionID, resourceGroup := scopes.Classify(assignmentScope)

			principalType := types.PrincipalUnknown
			if props.PrincipalType != nil {
				principalType = types.PrincipalType(*props.PrincipalType)
			}

			result = append(result, types.RoleAssignment{
				Scope:            assignmentScope,
				ScopeType:        scopeType,
				SubscriptionID:   subscriptionID,
				ResourceGroup:    resourceGroup,
				RoleDefinitionID: stringValue(props.RoleDefinitionID),
				AssignmentID:     stringValue(assignment.ID),
				PrincipalID:      stringValue(props.PrincipalID),
				PrincipalType:    principalType,
				Inherited:        assignmentScope != scope,
				Condition:        stringValue(props.Condition),
				ConditionVersion: stringValue(props.ConditionVersion),
				CreatedOn:        timeString(props.CreatedOn),
			})
		}
	}
	return result, nil
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
