package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/faithconnect/member-service/idp"
	"github.com/faithconnect/member-service/shared/audit"
	"github.com/faithconnect/member-service/shared/monitoring"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrLoginExists         = errors.New("member already has a login")
	ErrAccountNotFound     = errors.New("account not found")
	// ErrLoginOutsideChurch is returned when an email already belongs to a
	// login that no member of the caller's church uses
	ErrLoginOutsideChurch = errors.New("email belongs to a login outside this church")
	ErrInvalidResetToken   = errors.New("invalid or expired password reset token")
	ErrAccountsUnavailable = errors.New("identity provider is not configured")
	ErrMailUnavailable     = errors.New("mail delivery is not configured")
)

const (
	resetTokenIssuer  = "faithconnect-member-service"
	resetTokenPurpose = "password_reset"
)

// Mailer sends account emails
type Mailer interface {
	Enabled() bool
	SendPasswordReset(to, name, resetLink string) error
	SendWelcome(to, name, signInLink string) error
}

// AccountConfig holds the account settings
type AccountConfig struct {
	ResetSigningKey string
	ResetURL        string
	SignInURL       string
	ResetTokenTTL   time.Duration
	// MemberGroup is the IdP group every member login joins
	MemberGroup string
}

// AccountService manages member logins in the identity provider
type AccountService struct {
	idp     idp.IdentityProviderAPI
	members *MemberService
	mailer  Mailer
	config  AccountConfig
}

type resetClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// NewAccountService creates a new account service. provider may be nil, in
// which case every operation fails with ErrAccountsUnavailable.
func NewAccountService(provider idp.IdentityProviderAPI, members *MemberService, mailer Mailer, config AccountConfig) *AccountService {
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	if config.MemberGroup == "" {
		config.MemberGroup = string(models.RoleMember)
	}
	return &AccountService{idp: provider, members: members, mailer: mailer, config: config}
}

// CreateMemberLogin creates an IdP user for a member, or adopts the existing
// user with the same email, and links it to the member
func (s *AccountService) CreateMemberLogin(ctx context.Context, session *models.Session, memberID string, req *models.CreateLoginRequest) (*models.LoginResponse, error) {
	if s.idp == nil {
		return nil, ErrAccountsUnavailable
	}
	if err := models.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	member, err := s.members.getAuthorized(ctx, session, memberID)
	if err != nil {
		return nil, err
	}
	if member.UserID != "" {
		return nil, ErrLoginExists
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = member.Email
	}
	if email == "" {
		return nil, fmt.Errorf("%w: member has no email address", ErrInvalidInput)
	}

	user, created, err := s.findOrCreateUser(ctx, session, member, email)
	if err != nil {
		s.auditAccount(ctx, session, "CREATE", audit.StatusFailure, memberID)
		return nil, err
	}

	if _, err := s.idp.AddMemberToGroupByGroupName(ctx, s.config.MemberGroup, &idp.GroupMember{Value: user.Id, Display: email}); err != nil {
		slog.Warn("Failed to add login to member group", "userId", user.Id, "group", s.config.MemberGroup, "error", err)
	}

	if _, err := s.members.LinkUser(ctx, session, memberID, user.Id); err != nil {
		if created {
			if delErr := s.idp.DeleteUser(ctx, user.Id); delErr != nil {
				slog.Error("Failed to remove login after link failure", "userId", user.Id, "error", delErr)
			}
		}
		s.auditAccount(ctx, session, "CREATE", audit.StatusFailure, memberID)
		return nil, err
	}

	if created && s.mailer != nil && s.mailer.Enabled() {
		if err := s.mailer.SendWelcome(email, member.FirstName, s.config.SignInURL); err != nil {
			slog.Warn("Failed to send welcome mail", "memberId", memberID, "error", err)
		}
	}

	s.auditAccount(ctx, session, "CREATE", audit.StatusSuccess, memberID)
	monitoring.RecordBusinessEvent("login_create", "success")
	slog.Info("Member login linked", "churchId", session.ChurchID, "memberId", memberID, "userId", user.Id, "created", created)
	return &models.LoginResponse{MemberID: memberID, UserID: user.Id, Email: email}, nil
}

// findOrCreateUser adopts an existing login only when it is already linked
// inside the caller's church
func (s *AccountService) findOrCreateUser(ctx context.Context, session *models.Session, member *models.Member, email string) (*idp.UserInfo, bool, error) {
	existing, err := s.idp.FindUserByEmail(ctx, email)
	if err == nil {
		linked, err := s.members.linkedMembers(ctx, session, existing.Id)
		if err != nil {
			return nil, false, err
		}
		if len(linked) == 0 {
			slog.Warn("Refusing to adopt login not linked to this church", "churchId", session.ChurchID, "userId", existing.Id)
			return nil, false, ErrLoginOutsideChurch
		}
		return existing, false, nil
	}
	if !errors.Is(err, idp.ErrUserNotFound) {
		return nil, false, fmt.Errorf("failed to look up login: %w", err)
	}

	created, err := s.idp.CreateUser(ctx, &idp.User{
		Email:       email,
		FirstName:   member.FirstName,
		LastName:    member.LastName,
		PhoneNumber: member.PhoneNumber,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create login: %w", err)
	}
	return created, true, nil
}

// RequestPasswordReset mails a signed reset link. An unknown email, or one
// whose login no member of the church uses, succeeds without sending anything
// so callers cannot probe for accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, session *models.Session, req *models.PasswordResetRequest) error {
	if s.idp == nil {
		return ErrAccountsUnavailable
	}
	if err := models.ValidateStruct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.mailer == nil || !s.mailer.Enabled() {
		return ErrMailUnavailable
	}

	user, err := s.idp.FindUserByEmail(ctx, req.Email)
	if errors.Is(err, idp.ErrUserNotFound) {
		slog.Info("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up login: %w", err)
	}
	linked, err := s.members.linkedMembers(ctx, session, user.Id)
	if err != nil {
		return err
	}
	if len(linked) == 0 {
		slog.Info("Password reset requested for login outside the church", "churchId", session.ChurchID)
		return nil
	}

	token, err := s.issueResetToken(user.Id, req.Email)
	if err != nil {
		return err
	}
	link := s.config.ResetURL + "?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(req.Email, user.FirstName, link); err != nil {
		return err
	}

	s.auditAccount(ctx, session, "PASSWORD_RESET", audit.StatusSuccess, user.Id)
	return nil
}

// ConfirmPasswordReset sets a new password for the user named by a reset token
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, req *models.ConfirmPasswordResetRequest) error {
	if s.idp == nil {
		return ErrAccountsUnavailable
	}
	if err := models.ValidateStruct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	claims, err := s.parseResetToken(req.Token)
	if err != nil {
		return err
	}
	if err := s.idp.SetPassword(ctx, claims.Subject, req.Password); err != nil {
		if errors.Is(err, idp.ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("failed to set password: %w", err)
	}

	monitoring.RecordBusinessEvent("password_reset", "success")
	return nil
}

// DeleteUser removes a login by IdP id or email and unlinks it from the
// caller's church
func (s *AccountService) DeleteUser(ctx context.Context, session *models.Session, userIDOrEmail string) (*models.DeleteUserResponse, error) {
	if s.idp == nil {
		return nil, ErrAccountsUnavailable
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	target := strings.TrimSpace(userIDOrEmail)
	if target == "" {
		return nil, fmt.Errorf("%w: user id or email is required", ErrInvalidInput)
	}

	userID := target
	if strings.Contains(target, "@") {
		user, err := s.idp.FindUserByEmail(ctx, target)
		if errors.Is(err, idp.ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up login: %w", err)
		}
		userID = user.Id
	}

	// only logins used by this church may be removed
	linked, err := s.members.linkedMembers(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 {
		slog.Warn("Refusing to delete login not linked to this church", "churchId", session.ChurchID, "userId", userID)
		return nil, ErrAccountNotFound
	}

	if err := s.idp.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, idp.ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		s.auditAccount(ctx, session, "DELETE", audit.StatusFailure, userID)
		return nil, fmt.Errorf("failed to delete login: %w", err)
	}

	unlinked, err := s.members.UnlinkUser(ctx, session, userID)
	if err != nil {
		// the login is already gone; a dangling userId only blocks self service
		slog.Error("Failed to unlink deleted login", "userId", userID, "error", err)
	}

	s.auditAccount(ctx, session, "DELETE", audit.StatusSuccess, userID)
	return &models.DeleteUserResponse{UserID: userID, UnlinkedMembers: unlinked}, nil
}

func (s *AccountService) issueResetToken(userID, email string) (string, error) {
	if s.config.ResetSigningKey == "" {
		return "", fmt.Errorf("password reset signing key is not configured")
	}
	now := time.Now()
	claims := resetClaims{
		Email:   email,
		Purpose: resetTokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    resetTokenIssuer,
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.ResetTokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.ResetSigningKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign reset token: %w", err)
	}
	return signed, nil
}

func (s *AccountService) parseResetToken(token string) (*resetClaims, error) {
	if s.config.ResetSigningKey == "" {
		return nil, ErrInvalidResetToken
	}
	claims := &resetClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.ResetSigningKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(resetTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.Purpose != resetTokenPurpose || claims.Subject == "" {
		return nil, ErrInvalidResetToken
	}
	return claims, nil
}

func (s *AccountService) auditAccount(ctx context.Context, session *models.Session, action, status, targetID string) {
	var churchID string
	if session != nil {
		churchID = session.ChurchID
	}
	audit.LogAuditEvent(ctx, audit.NewEvent(audit.EventTypeAccountManagement, action, status,
		actorType(session), session.ActorID(), churchID, string(models.ResourceTypeUsers), targetID))
}
