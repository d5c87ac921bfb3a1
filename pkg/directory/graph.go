// Package directory provides principal identity lookups through Microsoft
// Graph, plus a no-op implementation for runs where resolution is disabled or
// the Graph surface is unreachable.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/groups"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"

	"github.com/veilsec/azrbac/pkg/types"
)

// GraphClient resolves principals and group memberships through Microsoft
// Graph.
type GraphClient struct {
	client *msgraphsdk.GraphServiceClient
}

// NewGraphClient builds a Graph client from the run credential.
func NewGraphClient(cred azcore.TokenCredential) (*GraphClient, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return &GraphClient{client: client}, nil
}

// ResolveUser returns a user's display name and UPN.
func (g *GraphClient) ResolveUser(ctx context.Context, principalID string) (string, string, error) {
	user, err := g.client.Users().ByUserId(principalID).Get(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to get user %s: %w", principalID, err)
	}
	return stringValue(user.GetDisplayName()), stringValue(user.GetUserPrincipalName()), nil
}

// ResolveServicePrincipal returns a service principal's display name and app
// ID.
func (g *GraphClient) ResolveServicePrincipal(ctx context.Context, principalID string) (string, string, error) {
	sp, err := g.client.ServicePrincipals().ByServicePrincipalId(principalID).Get(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to get service principal %s: %w", principalID, err)
	}
	return stringValue(sp.GetDisplayName()), stringValue(sp.GetAppId()), nil
}

// ListGroupMembers returns up to top members of a group, paging through the
// collection as needed. Transitive mode returns the full closure instead of
// first-level members only.
func (g *GraphClient) ListGroupMembers(ctx context.Context, groupID string, transitive bool, top int) ([]types.GroupMember, error) {
	var response any
	var err error
	if transitive {
		config := &groups.ItemTransitiveMembersRequestBuilderGetRequestConfiguration{
			QueryParameters: &groups.ItemTransitiveMembersRequestBuilderGetQueryParameters{
				Top: int32Ptr(top),
			},
		}
		response, err = g.client.Groups().ByGroupId(groupID).TransitiveMembers().Get(ctx, config)
	} else {
		config := &groups.ItemMembersRequestBuilderGetRequestConfiguration{
			QueryParameters: &groups.ItemMembersRequestBuilderGetQueryParameters{
				Top: int32Ptr(top),
			},
		}
		response, err = g.client.Groups().ByGroupId(groupID).Members().Get(ctx, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get members of %s: %w", groupID, err)
	}

	iterator, err := msgraphcore.NewPageIterator[models.DirectoryObjectable](
		response, g.client.GetAdapter(),
		models.CreateDirectoryObjectCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return nil, fmt.Errorf("failed to page members of %s: %w", groupID, err)
	}

	var members []types.GroupMember
	err = iterator.Iterate(ctx, func(obj models.DirectoryObjectable) bool {
		if obj == nil || obj.GetId() == nil {
			return true
		}
		members = append(members, newGroupMember(groupID, obj))
		return top <= 0 || len(members) < top
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate members of %s: %w", groupID, err)
	}
	return members, nil
}

func newGroupMember(groupID string, obj models.DirectoryObjectable) types.GroupMember {
	member := types.GroupMember{
		GroupID:           groupID,
		MemberPrincipalID: *obj.GetId(),
		MemberType:        memberType(obj),
		MemberDisplayName: *obj.GetId(),
	}
	if user, ok := obj.(models.Userable); ok {
		if name := user.GetDisplayName(); name != nil && *name != "" {
			member.MemberDisplayName = *name
		}
		member.MemberUPN = stringValue(user.GetUserPrincipalName())
	} else if group, ok := obj.(models.Groupable); ok {
		if name := group.GetDisplayName(); name != nil && *name != "" {
			member.MemberDisplayName = *name
		}
	} else if sp, ok := obj.(models.ServicePrincipalable); ok {
		if name := sp.GetDisplayName(); name != nil && *name != "" {
			member.MemberDisplayName = *name
		}
	}
	return member
}

func memberType(obj models.DirectoryObjectable) string {
	odataType := stringValue(obj.GetOdataType())
	if odataType == "" {
		return "Unknown"
	}
	return strings.TrimPrefix(odataType, "#microsoft.graph.")
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int32Ptr(v int) *int32 {
	i := int32(v)
	return &i
}
