package idp

import (
	"context"
	"errors"
)

// ProviderType identifies an identity provider implementation
type ProviderType string

const (
	ProviderAsgardeo ProviderType = "asgardeo"
)

// ErrUserNotFound is returned when the provider has no matching user
var ErrUserNotFound = errors.New("user not found in identity provider")

// UserManager manages member logins in the identity provider
type UserManager interface {
	CreateUser(ctx context.Context, user *User) (*UserInfo, error)
	GetUser(ctx context.Context, userID string) (*UserInfo, error)
	FindUserByEmail(ctx context.Context, email string) (*UserInfo, error)
	DeleteUser(ctx context.Context, userID string) error
	SetPassword(ctx context.Context, userID, password string) error
}

// GroupManager manages the role groups logins belong to
type GroupManager interface {
	AddMemberToGroupByGroupName(ctx context.Context, groupName string, member *GroupMember) (*string, error)
	RemoveMemberFromGroup(ctx context.Context, groupID string, userID string) error
}

// IdentityProviderAPI is the full surface the account service needs
type IdentityProviderAPI interface {
	UserManager
	GroupManager
}

type User struct {
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}

type UserInfo struct {
	Id          string
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}

type GroupMember struct {
	Value   string
	Display string
}
