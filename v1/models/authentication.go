package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingChurch is returned when a session carries no tenant
var ErrMissingChurch = errors.New("session has no church")

// FlexibleStringSlice accepts a claim encoded as a JSON array, a single
// string, or a comma separated string.
type FlexibleStringSlice []string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*f = nil
		return nil
	}
	parts := strings.Split(single, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*f = out
	return nil
}

// ToStringSlice returns the plain slice
func (f FlexibleStringSlice) ToStringSlice() []string {
	return []string(f)
}

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	Email       string              `json:"email"`
	FirstName   string              `json:"given_name"`
	LastName    string              `json:"family_name"`
	PhoneNumber string              `json:"phone_number"`
	Roles       FlexibleStringSlice `json:"roles"`
	Groups      []string            `json:"groups"`
	OrgName     string              `json:"org_name"`
	ChurchID    string              `json:"church_id"`
	ClientID    string              `json:"client_id"`
	jwt.RegisteredClaims
}

// AuthenticatedUser represents the authenticated user context
type AuthenticatedUser struct {
	IdpUserID   string    `json:"idpUserId"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	PhoneNumber string    `json:"phoneNumber"`
	ChurchID    string    `json:"churchId"`
	Roles       []Role    `json:"roles"`
	Groups      []string  `json:"groups"`
	OrgName     string    `json:"orgName"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AuthContext represents the authentication context in HTTP requests
type AuthContext struct {
	User        *AuthenticatedUser `json:"user"`
	Token       string             `json:"-"` // Don't expose in JSON
	IssuedBy    string             `json:"issuedBy"`
	Audience    []string           `json:"audience"`
	Permissions []Permission       `json:"permissions"`
}

// HasRole checks if the user has a specific role
func (u *AuthenticatedUser) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the user has any of the specified roles
func (u *AuthenticatedUser) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// HasPermission checks if the user has a specific permission based on their roles
func (u *AuthenticatedUser) HasPermission(permission Permission) bool {
	for _, role := range u.Roles {
		if role.HasPermission(permission) {
			return true
		}
	}
	return false
}

func (u *AuthenticatedUser) IsAdmin() bool  { return u.HasRole(RoleAdmin) }
func (u *AuthenticatedUser) IsStaff() bool  { return u.HasRole(RoleStaff) }
func (u *AuthenticatedUser) IsMember() bool { return u.HasRole(RoleMember) }
func (u *AuthenticatedUser) IsSystem() bool { return u.HasRole(RoleSystem) }

// GetPrimaryRole returns the highest priority role (Admin > Staff > System > Member)
func (u *AuthenticatedUser) GetPrimaryRole() Role {
	for _, role := range []Role{RoleAdmin, RoleStaff, RoleSystem} {
		if u.HasRole(role) {
			return role
		}
	}
	return RoleMember
}

// GetPermissions returns all permissions the user has based on their roles
func (u *AuthenticatedUser) GetPermissions() []Permission {
	permissionSet := make(map[Permission]bool)
	var permissions []Permission
	for _, role := range u.Roles {
		for _, permission := range RolePermissions[role] {
			if !permissionSet[permission] {
				permissionSet[permission] = true
				permissions = append(permissions, permission)
			}
		}
	}
	return permissions
}

// IsTokenExpired checks if the user's token is expired
func (u *AuthenticatedUser) IsTokenExpired() bool {
	return !u.ExpiresAt.IsZero() && time.Now().After(u.ExpiresAt)
}

// NewAuthenticatedUser creates a new authenticated user from JWT claims
func NewAuthenticatedUser(claims *UserClaims) *AuthenticatedUser {
	var roles []Role
	for _, roleStr := range claims.Roles.ToStringSlice() {
		role := Role(roleStr)
		if role.IsValid() {
			roles = append(roles, role)
		}
	}
	// Group membership in the IdP doubles as role assignment
	for _, group := range claims.Groups {
		role := Role(group)
		if role.IsValid() && !containsRole(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = []Role{RoleMember}
	}

	user := &AuthenticatedUser{
		IdpUserID:   claims.Subject,
		Email:       claims.Email,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		PhoneNumber: claims.PhoneNumber,
		ChurchID:    claims.ChurchID,
		Roles:       roles,
		Groups:      claims.Groups,
		OrgName:     claims.OrgName,
	}
	if claims.IssuedAt != nil {
		user.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		user.ExpiresAt = claims.ExpiresAt.Time
	}
	return user
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Session is the explicit caller context handed to every service call: who
// is acting and which church's partition they act on.
type Session struct {
	ChurchID string
	User     *AuthenticatedUser
}

// NewSession builds a session for an authenticated user
func NewSession(user *AuthenticatedUser) *Session {
	s := &Session{User: user}
	if user != nil {
		s.ChurchID = user.ChurchID
	}
	return s
}

// SystemSession is used by tooling that acts on a church without a user
func SystemSession(churchID string) *Session {
	return &Session{
		ChurchID: churchID,
		User: &AuthenticatedUser{
			IdpUserID: "system",
			ChurchID:  churchID,
			Roles:     []Role{RoleSystem},
		},
	}
}

// Validate ensures the session names a church
func (s *Session) Validate() error {
	if s == nil || strings.TrimSpace(s.ChurchID) == "" {
		return ErrMissingChurch
	}
	return nil
}

// ActorID returns the id recorded in audit trails and change events
func (s *Session) ActorID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.IdpUserID
}

// ActorType classifies the caller for audit trails
func (s *Session) ActorType() ActorType {
	if s == nil || s.User == nil {
		return ActorTypeSystem
	}
	switch s.User.GetPrimaryRole() {
	case RoleAdmin:
		return ActorTypeAdmin
	case RoleStaff:
		return ActorTypeStaff
	case RoleSystem:
		return ActorTypeSystem
	default:
		return ActorTypeMember
	}
}

// CanReadAll reports whether the caller may see every member of the church
func (s *Session) CanReadAll() bool {
	return s != nil && s.User != nil && s.User.HasPermission(PermissionReadAllMembers)
}

// CanEditRelationships reports whether the caller may change relationship
// edges. Edge changes rewrite the partners' documents too.
func (s *Session) CanEditRelationships() bool {
	return s != nil && s.User != nil && s.User.HasPermission(PermissionEditGraph)
}
