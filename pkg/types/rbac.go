package types

import "time"

// ScopeType identifies the level of the resource hierarchy a scope points at.
type ScopeType string

const (
	ScopeManagementGroup ScopeType = "ManagementGroup"
	ScopeSubscription    ScopeType = "Subscription"
	ScopeResourceGroup   ScopeType = "ResourceGroup"
	ScopeUnknown         ScopeType = "Unknown"
)

// PrincipalType mirrors the ARM principal type values. Anything the provider
// does not label becomes PrincipalUnknown.
type PrincipalType string

const (
	PrincipalUser             PrincipalType = "User"
	PrincipalGroup            PrincipalType = "Group"
	PrincipalServicePrincipal PrincipalType = "ServicePrincipal"
	PrincipalUnknown          PrincipalType = "Unknown"
)

// RedactedValue replaces UPNs and app IDs in every output format when
// redaction is requested.
const RedactedValue = "[REDACTED]"

// Scope is a single point in the tenant hierarchy to be queried for role
// definitions and assignments.
type Scope struct {
	Path           string    `json:"path"`
	Type           ScopeType `json:"type"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	ResourceGroup  string    `json:"resourceGroup,omitempty"`
	DisplayName    string    `json:"displayName,omitempty"`
}

// ManagementGroup describes a management group discovered during traversal.
type ManagementGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Subscription describes a subscription accessible to the caller.
type Subscription struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
	State          string `json:"state"`
}

// ResourceGroup describes a resource group within a subscription.
type ResourceGroup struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Location       string `json:"location"`
	SubscriptionID string `json:"subscriptionId"`
}

// RoleDefinition is a named permission bundle visible at a scope. Definitions
// are not deduplicated across scopes; one visible at both a management group
// and a descendant subscription appears twice.
type RoleDefinition struct {
	RoleDefinitionName string `json:"roleDefinitionName"`
	RoleDefinitionID   string `json:"roleDefinitionId"`
	IsCustom           bool   `json:"isCustom"`
	Description        string `json:"description"`
	PermissionsCount   int    `json:"permissionsCount"`
	AssignableScopes   string `json:"assignableScopes"`
}

// RoleAssignment binds a principal to a role definition at a scope.
//
// Inherited is recomputed after every fetch: an assignment whose own scope
// differs from the queried scope applies by inheritance, regardless of what
// the provider reported.
type RoleAssignment struct {
	Scope                string        `json:"scope"`
	ScopeType            ScopeType     `json:"scopeType"`
	SubscriptionID       string        `json:"subscriptionId"`
	ResourceGroup        string        `json:"resourceGroup"`
	RoleDefinitionID     string        `json:"roleDefinitionId"`
	RoleDefinitionName   string        `json:"roleDefinitionName"`
	AssignmentID         string        `json:"assignmentId"`
	PrincipalID          string        `json:"principalId"`
	PrincipalType        PrincipalType `json:"principalType"`
	PrincipalDisplayName string        `json:"principalDisplayName"`
	PrincipalUPNOrAppID  string        `json:"principalUPNOrAppId"`
	Inherited            bool          `json:"inherited"`
	Condition            string        `json:"condition"`
	ConditionVersion     string        `json:"conditionVersion"`
	CreatedOn            string        `json:"createdOn"`

	// Populated only when group expansion ran and the principal is a group.
	MemberCount       int    `json:"memberCount,omitempty"`
	MemberPrincipalID string `json:"memberPrincipalId,omitempty"`
	MemberType        string `json:"memberType,omitempty"`
	MemberDisplayName string `json:"memberDisplayName,omitempty"`
	MemberUPN         string `json:"memberUPN,omitempty"`
}

// GroupMember is one member of a group-typed principal.
type GroupMember struct {
	GroupID           string `json:"groupId"`
	MemberPrincipalID string `json:"memberPrincipalId"`
	MemberType        string `json:"memberType"`
	MemberDisplayName string `json:"memberDisplayName"`
	MemberUPN         string `json:"memberUPN"`
}

// ScopeCounts tracks how many scopes of each category were processed.
type ScopeCounts struct {
	ManagementGroups int `json:"managementGroups"`
	Subscriptions    int `json:"subscriptions"`
	ResourceGroups   int `json:"resourceGroups"`
}

// RunSummary is the authoritative post-hoc record of a run. Counters are
// append-only while the run executes; the document is written once at the end.
type RunSummary struct {
	RunID            string            `json:"run_id"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	DurationSeconds  float64           `json:"duration_seconds"`
	ScopesProcessed  ScopeCounts       `json:"scopes_processed"`
	ScopesSkipped    []string          `json:"scopes_skipped"`
	RolesCount       int               `json:"roles_count"`
	AssignmentsCount int               `json:"assignments_count"`
	Warnings         []string          `json:"warnings"`
	Errors           []string          `json:"errors"`
	Success          bool              `json:"success"`
	CredentialType   string            `json:"credential_type"`
	Arguments        map[string]string `json:"arguments"`
}
