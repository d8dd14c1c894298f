package asgardeo

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/faithconnect/member-service/idp"
)

type Name struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

type Email struct {
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

type PhoneNumber struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type CreateUserRequestBody struct {
	Schemas      []string      `json:"schemas"`
	Name         Name          `json:"name"`
	UserName     string        `json:"userName"`
	Password     string        `json:"password,omitempty"`
	Emails       []Email       `json:"emails"`
	PhoneNumbers []PhoneNumber `json:"phoneNumbers,omitempty"`
	Extension    struct {
		AskPassword bool `json:"askPassword"`
	} `json:"urn:scim:wso2:schema"`
}

type UserResponseBody struct {
	ID           string        `json:"id"`
	UserName     string        `json:"userName"`
	Name         Name          `json:"name"`
	Emails       []Email       `json:"emails"`
	PhoneNumbers []PhoneNumber `json:"phoneNumbers"`
}

type SearchRequestBody struct {
	Schemas    []string `json:"schemas"`
	Attributes []string `json:"attributes,omitempty"`
	Filter     string   `json:"filter"`
	StartIndex int      `json:"startIndex"`
	Count      int      `json:"count"`
}

type SearchUsersResponseBody struct {
	TotalResults int                `json:"totalResults"`
	Resources    []UserResponseBody `json:"Resources"`
}

// CreateUser creates a login that must set its password on first sign-in
func (a *Client) CreateUser(ctx context.Context, user *idp.User) (*idp.UserInfo, error) {
	body := CreateUserRequestBody{
		Schemas:  []string{"urn:ietf:params:scim:schemas:core:2.0:User"},
		Name:     Name{GivenName: user.FirstName, FamilyName: user.LastName},
		UserName: "DEFAULT/" + user.Email,
		Emails:   []Email{{Value: user.Email, Primary: true}},
	}
	if user.PhoneNumber != "" {
		body.PhoneNumbers = []PhoneNumber{{Type: "mobile", Value: user.PhoneNumber}}
	}
	body.Extension.AskPassword = true

	var created UserResponseBody
	if err := a.do(ctx, "create_user", http.MethodPost, a.BaseURL+"/scim2/Users", body, http.StatusCreated, &created); err != nil {
		return nil, err
	}
	return toUserInfo(&created), nil
}

// GetUser fetches a login by id
func (a *Client) GetUser(ctx context.Context, userID string) (*idp.UserInfo, error) {
	var user UserResponseBody
	err := a.do(ctx, "get_user", http.MethodGet, fmt.Sprintf("%s/scim2/Users/%s", a.BaseURL, userID), nil, http.StatusOK, &user)
	if err != nil {
		return nil, notFound(err)
	}
	return toUserInfo(&user), nil
}

// FindUserByEmail searches for the login owning an email address
func (a *Client) FindUserByEmail(ctx context.Context, email string) (*idp.UserInfo, error) {
	body := SearchRequestBody{
		Schemas:    []string{"urn:ietf:params:scim:api:messages:2.0:SearchRequest"},
		Filter:     fmt.Sprintf("emails eq %q", email),
		StartIndex: 1,
		Count:      1,
	}

	var result SearchUsersResponseBody
	if err := a.do(ctx, "search_user", http.MethodPost, a.BaseURL+"/scim2/Users/.search", body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	if len(result.Resources) == 0 {
		return nil, idp.ErrUserNotFound
	}
	return toUserInfo(&result.Resources[0]), nil
}

// DeleteUser removes a login
func (a *Client) DeleteUser(ctx context.Context, userID string) error {
	err := a.do(ctx, "delete_user", http.MethodDelete, fmt.Sprintf("%s/scim2/Users/%s", a.BaseURL, userID), nil, http.StatusNoContent, nil)
	return notFound(err)
}

// SetPassword replaces a login's password
func (a *Client) SetPassword(ctx context.Context, userID, password string) error {
	body := PatchRequestBody{
		Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		Operations: []PatchOperation{{
			Op:    "replace",
			Value: map[string]interface{}{"password": password},
		}},
	}
	err := a.do(ctx, "set_password", http.MethodPatch, fmt.Sprintf("%s/scim2/Users/%s", a.BaseURL, userID), body, http.StatusOK, nil)
	return notFound(err)
}

func notFound(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return idp.ErrUserNotFound
	}
	return err
}

func toUserInfo(u *UserResponseBody) *idp.UserInfo {
	info := &idp.UserInfo{
		Id:        u.ID,
		FirstName: u.Name.GivenName,
		LastName:  u.Name.FamilyName,
	}
	for _, e := range u.Emails {
		if info.Email == "" || e.Primary {
			info.Email = e.Value
		}
	}
	if len(u.PhoneNumbers) > 0 {
		info.PhoneNumber = u.PhoneNumbers[0].Value
	}
	return info
}
