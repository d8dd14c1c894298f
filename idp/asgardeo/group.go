package asgardeo

import (
	"context"
	"fmt"
	"net/http"

	"github.com/faithconnect/member-service/idp"
)

type GetGroupResponseBody struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Members     []struct {
		Value   string `json:"value"`
		Display string `json:"display"`
	} `json:"members"`
}

type SearchGroupsResponseBody struct {
	TotalResults int                    `json:"totalResults"`
	Resources    []GetGroupResponseBody `json:"Resources"`
}

type GroupMemberRequestBody struct {
	Value   string `json:"value"`
	Display string `json:"display"`
}

// GetGroupByName looks a group up by display name. It returns nil when the
// group does not exist.
func (a *Client) GetGroupByName(ctx context.Context, groupName string) (*GetGroupResponseBody, error) {
	body := SearchRequestBody{
		Schemas:    []string{"urn:ietf:params:scim:api:messages:2.0:SearchRequest"},
		Attributes: []string{"id", "displayName"},
		Filter:     fmt.Sprintf("displayName eq \"DEFAULT/%s\"", groupName),
		StartIndex: 1,
		Count:      1,
	}

	var result SearchGroupsResponseBody
	if err := a.do(ctx, "search_group", http.MethodPost, a.BaseURL+"/scim2/Groups/.search", body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	if len(result.Resources) == 0 {
		return nil, nil
	}
	return &result.Resources[0], nil
}

// AddMemberToGroup adds a login to a group by group id
func (a *Client) AddMemberToGroup(ctx context.Context, groupID string, member *idp.GroupMember) error {
	body := PatchRequestBody{
		Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		Operations: []PatchOperation{{
			Op: "add",
			Value: map[string]interface{}{
				"members": []GroupMemberRequestBody{{Value: member.Value, Display: member.Display}},
			},
		}},
	}
	return a.do(ctx, "add_group_member", http.MethodPatch, fmt.Sprintf("%s/scim2/Groups/%s", a.BaseURL, groupID), body, http.StatusOK, nil)
}

// AddMemberToGroupByGroupName resolves the group and adds the login to it,
// returning the group id
func (a *Client) AddMemberToGroupByGroupName(ctx context.Context, groupName string, member *idp.GroupMember) (*string, error) {
	group, err := a.GetGroupByName(ctx, groupName)
	if err != nil {
		return nil, fmt.Errorf("failed to get group by name: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("group %s not found", groupName)
	}
	if err := a.AddMemberToGroup(ctx, group.ID, member); err != nil {
		return nil, err
	}
	return &group.ID, nil
}

// RemoveMemberFromGroup removes a login from a group
func (a *Client) RemoveMemberFromGroup(ctx context.Context, groupID string, userID string) error {
	body := PatchRequestBody{
		Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		Operations: []PatchOperation{{
			Op:   "remove",
			Path: fmt.Sprintf("members[value eq \"%s\"]", userID),
		}},
	}
	return a.do(ctx, "remove_group_member", http.MethodPatch, fmt.Sprintf("%s/scim2/Groups/%s", a.BaseURL, groupID), body, http.StatusOK, nil)
}
