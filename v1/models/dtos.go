package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("member_status", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || MemberStatus(s).IsValid()
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := time.Parse(DateLayout, s)
		return err == nil
	})
	return v
}

// ValidateStruct runs the tag based validation and flattens the result into
// one readable error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// RelationshipRequest is an edge as submitted by a client. The owner id is
// implied by the member being written, so only the partner is required.
type RelationshipRequest struct {
	MemberIDs   []string `json:"memberIds,omitempty" validate:"omitempty,max=2,dive,max=64"`
	MemberID    string   `json:"memberId,omitempty" validate:"omitempty,max=64"`
	Type        string   `json:"type" validate:"required,max=64"`
	Anniversary string   `json:"anniversary,omitempty" validate:"isodate"`
}

// ToRelationship converts the request into a stored edge owned by selfID
func (r RelationshipRequest) ToRelationship(selfID string) Relationship {
	partner := r.MemberID
	if partner == "" {
		partner = Relationship{MemberIDs: r.MemberIDs}.PartnerID(selfID)
	}
	return Relationship{
		MemberIDs:   []string{selfID, partner},
		Type:        strings.TrimSpace(r.Type),
		Anniversary: r.Anniversary,
	}
}

// CreateMemberRequest represents the request to create a member
type CreateMemberRequest struct {
	MemberID      string                `json:"memberId,omitempty" validate:"omitempty,max=64,excludesall=/?#"`
	FirstName     string                `json:"firstName" validate:"required,max=255"`
	LastName      string                `json:"lastName,omitempty" validate:"max=255"`
	Email         string                `json:"email,omitempty" validate:"omitempty,email,max=320"`
	PhoneNumber   string                `json:"phoneNumber,omitempty" validate:"max=20"`
	Address       string                `json:"address,omitempty" validate:"max=1000"`
	Status        MemberStatus          `json:"status,omitempty" validate:"member_status"`
	Birthday      string                `json:"birthday,omitempty" validate:"isodate"`
	BaptismDate   string                `json:"baptismDate,omitempty" validate:"isodate"`
	Anniversary   string                `json:"anniversary,omitempty" validate:"isodate"`
	Notes         string                `json:"notes,omitempty" validate:"max=5000"`
	UserID        string                `json:"userId,omitempty" validate:"max=255"`
	PhotoPath     string                `json:"photoPath,omitempty" validate:"max=1024"`
	Relationships []RelationshipRequest `json:"relationships,omitempty" validate:"max=100,dive"`
}

// Validate checks the request before any store call
func (r *CreateMemberRequest) Validate() error {
	return ValidateStruct(r)
}

// UpdateMemberRequest represents a partial update. A nil Relationships means
// the edges are left alone; a non-nil empty slice removes all of them.
type UpdateMemberRequest struct {
	FirstName     *string                `json:"firstName,omitempty" validate:"omitempty,min=1,max=255"`
	LastName      *string                `json:"lastName,omitempty" validate:"omitempty,max=255"`
	Email         *string                `json:"email,omitempty" validate:"omitempty,max=320"`
	PhoneNumber   *string                `json:"phoneNumber,omitempty" validate:"omitempty,max=20"`
	Address       *string                `json:"address,omitempty" validate:"omitempty,max=1000"`
	Status        *MemberStatus          `json:"status,omitempty" validate:"omitempty,member_status"`
	Birthday      *string                `json:"birthday,omitempty" validate:"omitempty,isodate"`
	BaptismDate   *string                `json:"baptismDate,omitempty" validate:"omitempty,isodate"`
	Anniversary   *string                `json:"anniversary,omitempty" validate:"omitempty,isodate"`
	Notes         *string                `json:"notes,omitempty" validate:"omitempty,max=5000"`
	PhotoPath     *string                `json:"photoPath,omitempty" validate:"omitempty,max=1024"`
	Relationships *[]RelationshipRequest `json:"relationships,omitempty" validate:"omitempty,max=100,dive"`
}

// Validate checks the request before any store call
func (r *UpdateMemberRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.Email != nil && *r.Email != "" {
		if err := validate.Var(*r.Email, "email"); err != nil {
			return fmt.Errorf("email is not a valid address")
		}
	}
	return nil
}

// TouchesRelationships reports whether graph reconciliation is needed
func (r *UpdateMemberRequest) TouchesRelationships() bool {
	return r.Relationships != nil
}

// ApplyFields copies the scalar fields of the patch onto the member
func (r *UpdateMemberRequest) ApplyFields(m *Member) {
	if r.FirstName != nil {
		m.FirstName = *r.FirstName
	}
	if r.LastName != nil {
		m.LastName = *r.LastName
	}
	if r.Email != nil {
		m.Email = *r.Email
	}
	if r.PhoneNumber != nil {
		m.PhoneNumber = *r.PhoneNumber
	}
	if r.Address != nil {
		m.Address = *r.Address
	}
	if r.Status != nil {
		m.Status = *r.Status
	}
	if r.Birthday != nil {
		m.Birthday = *r.Birthday
	}
	if r.BaptismDate != nil {
		m.BaptismDate = *r.BaptismDate
	}
	if r.Anniversary != nil {
		m.Anniversary = *r.Anniversary
	}
	if r.Notes != nil {
		m.Notes = *r.Notes
	}
	if r.PhotoPath != nil {
		m.PhotoPath = *r.PhotoPath
	}
}

// MemberResponse represents the response for member operations
type MemberResponse struct {
	MemberID      string         `json:"memberId"`
	ChurchID      string         `json:"churchId"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Email         string         `json:"email,omitempty"`
	PhoneNumber   string         `json:"phoneNumber,omitempty"`
	Address       string         `json:"address,omitempty"`
	Status        MemberStatus   `json:"status"`
	Birthday      string         `json:"birthday,omitempty"`
	BaptismDate   string         `json:"baptismDate,omitempty"`
	Anniversary   string         `json:"anniversary,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	PhotoPath     string         `json:"photoPath,omitempty"`
	Relationships []Relationship `json:"relationships"`
	Version       int64          `json:"version"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

// NewMemberResponse builds the API view of a member
func NewMemberResponse(m *Member) MemberResponse {
	rels := []Relationship(m.Relationships.Clone())
	if rels == nil {
		rels = []Relationship{}
	}
	return MemberResponse{
		MemberID:      m.MemberID,
		ChurchID:      m.ChurchID,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		Email:         m.Email,
		PhoneNumber:   m.PhoneNumber,
		Address:       m.Address,
		Status:        m.Status,
		Birthday:      m.Birthday,
		BaptismDate:   m.BaptismDate,
		Anniversary:   m.Anniversary,
		Notes:         m.Notes,
		UserID:        m.UserID,
		PhotoPath:     m.PhotoPath,
		Relationships: rels,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     m.UpdatedAt.Format(time.RFC3339),
	}
}

// RelationshipView is an edge resolved against the partner's document
type RelationshipView struct {
	PartnerID     string `json:"partnerId"`
	PartnerName   string `json:"partnerName,omitempty"`
	Type          string `json:"type"`
	Anniversary   string `json:"anniversary,omitempty"`
	PartnerExists bool   `json:"partnerExists"`
}

// MemberFilter narrows a member listing
type MemberFilter struct {
	Status MemberStatus
	Query  string
	UserID string
	Email  string
}

// CollectionResponse represents a generic collection response
type CollectionResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// CreateLoginRequest asks for an authentication account for a member
type CreateLoginRequest struct {
	Email string `json:"email,omitempty" validate:"omitempty,email,max=320"`
}

// LoginResponse is returned after a login was created and linked
type LoginResponse struct {
	MemberID string `json:"memberId"`
	UserID   string `json:"userId"`
	Email    string `json:"email"`
}

// PasswordResetRequest asks for a password reset email
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// ConfirmPasswordResetRequest completes a reset with the emailed token
type ConfirmPasswordResetRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// DeleteUserResponse reports what was removed
type DeleteUserResponse struct {
	UserID          string `json:"userId"`
	UnlinkedMembers int    `json:"unlinkedMembers"`
}

// IntegrityIssueKind classifies a one-sided or inconsistent edge
type IntegrityIssueKind string

const (
	IssueOrphan               IntegrityIssueKind = "orphan"
	IssueMissingReciprocal    IntegrityIssueKind = "missing_reciprocal"
	IssueMismatchedReciprocal IntegrityIssueKind = "mismatched_reciprocal"
)

// IntegrityIssue is one edge that violates symmetry
type IntegrityIssue struct {
	Kind         IntegrityIssueKind `json:"kind"`
	MemberID     string             `json:"memberId"`
	PartnerID    string             `json:"partnerId"`
	Type         string             `json:"type"`
	ExpectedType string             `json:"expectedType,omitempty"`
	ActualType   string             `json:"actualType,omitempty"`
}

// IntegrityReport is the result of a church wide symmetry scan
type IntegrityReport struct {
	ChurchID       string           `json:"churchId"`
	MembersScanned int              `json:"membersScanned"`
	EdgesScanned   int              `json:"edgesScanned"`
	Issues         []IntegrityIssue `json:"issues"`
	Repaired       int              `json:"repaired"`
	CheckedAt      string           `json:"checkedAt"`
}

// MemberChangedEvent is published after a member change commits
type MemberChangedEvent struct {
	ChurchID   string       `json:"churchId"`
	MemberID   string       `json:"memberId"`
	Action     ChangeAction `json:"action"`
	PartnerIDs []string     `json:"partnerIds,omitempty"`
	ActorID    string       `json:"actorId,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}
