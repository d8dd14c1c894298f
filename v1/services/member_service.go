package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/faithconnect/member-service/shared/audit"
	"github.com/faithconnect/member-service/shared/monitoring"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/store"
	"github.com/google/uuid"
)

var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberExists        = errors.New("member already exists")
	ErrInvalidRelationship = errors.New("invalid relationship")
	ErrInvalidInput        = errors.New("invalid input")
	ErrForbidden           = errors.New("not allowed to access this member")
	// ErrSaveFailed is the generic failure of a synchronizer transaction.
	// Nothing the transaction wrote is visible when it is returned.
	ErrSaveFailed = errors.New("failed to save member")
)

// ChangePublisher receives member changes after they commit
type ChangePublisher interface {
	PublishMemberChanged(ctx context.Context, event *models.MemberChangedEvent) error
}

// MemberService owns the members of each church and keeps their relationship
// edges symmetric
type MemberService struct {
	store     store.Store
	publisher ChangePublisher
}

// NewMemberService creates a new member service. publisher may be nil.
func NewMemberService(s store.Store, publisher ChangePublisher) *MemberService {
	return &MemberService{store: s, publisher: publisher}
}

// AddMember creates a member and writes the reciprocal edge onto every
// existing partner in one transaction. Partners that do not exist are skipped.
func (s *MemberService) AddMember(ctx context.Context, session *models.Session, req *models.CreateMemberRequest) (*models.MemberResponse, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if len(req.Relationships) > 0 && !session.CanEditRelationships() {
		return nil, ErrForbidden
	}

	memberID := strings.TrimSpace(req.MemberID)
	if memberID == "" {
		memberID = models.MemberIDPrefix + uuid.New().String()
	}
	relationships, err := NormalizeRelationships(memberID, req.Relationships)
	if err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = models.MemberStatusActive
	}
	member := &models.Member{
		ChurchID:      session.ChurchID,
		MemberID:      memberID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		PhoneNumber:   req.PhoneNumber,
		Address:       req.Address,
		Status:        status,
		Birthday:      req.Birthday,
		BaptismDate:   req.BaptismDate,
		Anniversary:   req.Anniversary,
		Notes:         req.Notes,
		UserID:        req.UserID,
		PhotoPath:     req.PhotoPath,
		Relationships: relationships,
	}

	var plan *SyncPlan
	err = s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		partners, err := tx.GetMembers(member.Relationships.PartnerIDs(memberID))
		if err != nil {
			return err
		}
		plan = PlanAdd(member.Clone(), partners)
		if err := savePartners(tx, plan); err != nil {
			return err
		}
		return tx.CreateMember(plan.Member)
	})
	if err != nil {
		s.recordFailure(ctx, session, models.ChangeActionCreated, memberID, err)
		return nil, s.translateTxError("create", memberID, err)
	}

	s.afterCommit(ctx, session, "add", models.ChangeActionCreated, plan)
	response := models.NewMemberResponse(plan.Member)
	return &response, nil
}

// UpdateMember applies a partial update. Without relationships in the patch
// only the member document is written. With relationships the stored edges are
// reconciled against the new set and only partners whose edges actually change
// are written.
func (s *MemberService) UpdateMember(ctx context.Context, session *models.Session, memberID string, req *models.UpdateMemberRequest) (*models.MemberResponse, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var relationships models.Relationships
	if req.TouchesRelationships() {
		if !session.CanEditRelationships() {
			return nil, ErrForbidden
		}
		var err error
		relationships, err = NormalizeRelationships(memberID, *req.Relationships)
		if err != nil {
			return nil, err
		}
	}

	var plan *SyncPlan
	err := s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		current, err := tx.GetMember(memberID)
		if err != nil {
			return err
		}
		if err := authorize(session, current); err != nil {
			return err
		}

		next := current.Clone()
		req.ApplyFields(next)

		if !req.TouchesRelationships() {
			plan = &SyncPlan{Member: next}
			return tx.SaveMember(next)
		}

		next.Relationships = relationships.Clone()
		ids := append(current.Relationships.PartnerIDs(memberID), relationships.PartnerIDs(memberID)...)
		partners, err := tx.GetMembers(ids)
		if err != nil {
			return err
		}
		plan = PlanUpdate(current, next, partners)
		if err := savePartners(tx, plan); err != nil {
			return err
		}
		return tx.SaveMember(plan.Member)
	})
	if err != nil {
		s.recordFailure(ctx, session, models.ChangeActionUpdated, memberID, err)
		return nil, s.translateTxError("update", memberID, err)
	}

	s.afterCommit(ctx, session, "update", models.ChangeActionUpdated, plan)
	response := models.NewMemberResponse(plan.Member)
	return &response, nil
}

// DeleteMember removes a member and strips every edge pointing at it from its
// partners
func (s *MemberService) DeleteMember(ctx context.Context, session *models.Session, memberID string) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var plan *SyncPlan
	err := s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		member, err := tx.GetMember(memberID)
		if err != nil {
			return err
		}
		partners, err := tx.GetMembers(member.Relationships.PartnerIDs(memberID))
		if err != nil {
			return err
		}
		plan = PlanDelete(member, partners)
		if err := savePartners(tx, plan); err != nil {
			return err
		}
		return tx.DeleteMember(member)
	})
	if err != nil {
		s.recordFailure(ctx, session, models.ChangeActionDeleted, memberID, err)
		return s.translateTxError("delete", memberID, err)
	}

	s.afterCommit(ctx, session, "delete", models.ChangeActionDeleted, plan)
	return nil
}

// GetMember returns one member. Callers without read-all permission may only
// read the member linked to their own login.
func (s *MemberService) GetMember(ctx context.Context, session *models.Session, memberID string) (*models.MemberResponse, error) {
	member, err := s.getAuthorized(ctx, session, memberID)
	if err != nil {
		return nil, err
	}
	response := models.NewMemberResponse(member)
	return &response, nil
}

// ListMembers lists the church's members. Callers without read-all permission
// only see their own record.
func (s *MemberService) ListMembers(ctx context.Context, session *models.Session, filter models.MemberFilter) ([]models.MemberResponse, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	if !session.CanReadAll() {
		if session.ActorID() == "" {
			return []models.MemberResponse{}, nil
		}
		filter.UserID = session.ActorID()
	}

	members, err := s.store.ListMembers(ctx, session.ChurchID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	out := make([]models.MemberResponse, 0, len(members))
	for i := range members {
		out = append(out, models.NewMemberResponse(&members[i]))
	}
	return out, nil
}

// GetRelationships resolves a member's edges against the partner documents
func (s *MemberService) GetRelationships(ctx context.Context, session *models.Session, memberID string) ([]models.RelationshipView, error) {
	member, err := s.getAuthorized(ctx, session, memberID)
	if err != nil {
		return nil, err
	}

	views := make([]models.RelationshipView, 0, len(member.Relationships))
	for _, r := range member.Relationships {
		partnerID := r.PartnerID(memberID)
		view := models.RelationshipView{
			PartnerID:   partnerID,
			Type:        r.Type,
			Anniversary: r.Anniversary,
		}
		partner, err := s.store.GetMember(ctx, session.ChurchID, partnerID)
		switch {
		case err == nil:
			view.PartnerExists = true
			view.PartnerName = partner.FullName()
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to read partner %s: %w", partnerID, err)
		}
		views = append(views, view)
	}
	return views, nil
}

// LinkUser records the authentication account of a member
func (s *MemberService) LinkUser(ctx context.Context, session *models.Session, memberID, userID string) (*models.Member, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var linked *models.Member
	err := s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		member, err := tx.GetMember(memberID)
		if err != nil {
			return err
		}
		member.UserID = userID
		if err := tx.SaveMember(member); err != nil {
			return err
		}
		linked = member
		return nil
	})
	if err != nil {
		return nil, s.translateTxError("link", memberID, err)
	}

	s.publish(ctx, session, models.ChangeActionUpdated, memberID, nil)
	return linked, nil
}

// UnlinkUser clears userID from every member of the church that references it
// and returns how many were unlinked
func (s *MemberService) UnlinkUser(ctx context.Context, session *models.Session, userID string) (int, error) {
	if err := session.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if userID == "" {
		return 0, nil
	}

	var unlinked []string
	err := s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		unlinked = unlinked[:0]
		members, err := tx.ListMembers()
		if err != nil {
			return err
		}
		for i := range members {
			m := &members[i]
			if m.UserID != userID {
				continue
			}
			m.UserID = ""
			if err := tx.SaveMember(m); err != nil {
				return err
			}
			unlinked = append(unlinked, m.MemberID)
		}
		return nil
	})
	if err != nil {
		return 0, s.translateTxError("unlink", userID, err)
	}

	for _, id := range unlinked {
		s.publish(ctx, session, models.ChangeActionUpdated, id, nil)
	}
	return len(unlinked), nil
}

// linkedMembers returns the members of the caller's church that use userID
func (s *MemberService) linkedMembers(ctx context.Context, session *models.Session, userID string) ([]models.Member, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if userID == "" {
		return nil, nil
	}
	members, err := s.store.ListMembers(ctx, session.ChurchID, models.MemberFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up linked members: %w", err)
	}
	return members, nil
}

func (s *MemberService) getAuthorized(ctx context.Context, session *models.Session, memberID string) (*models.Member, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	member, err := s.store.GetMember(ctx, session.ChurchID, memberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if err := authorize(session, member); err != nil {
		return nil, err
	}
	return member, nil
}

// authorize lets staff through and everyone else only to their own record
func authorize(session *models.Session, member *models.Member) error {
	if session.CanReadAll() {
		return nil
	}
	if actor := session.ActorID(); actor != "" && member.UserID == actor {
		return nil
	}
	return ErrForbidden
}

func savePartners(tx store.Tx, plan *SyncPlan) error {
	for _, partner := range plan.Writes() {
		if err := tx.SaveMember(partner); err != nil {
			return fmt.Errorf("failed to save partner %s: %w", partner.MemberID, err)
		}
	}
	return nil
}

// translateTxError maps store failures onto service errors. Anything that is
// not a caller mistake becomes ErrSaveFailed.
func (s *MemberService) translateTxError(operation, memberID string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrMemberNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%w: %s", ErrMemberExists, memberID)
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidRelationship), errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	slog.Error("Member transaction failed", "operation", operation, "memberId", memberID, "error", err)
	return fmt.Errorf("%w: %w", ErrSaveFailed, err)
}

func (s *MemberService) afterCommit(ctx context.Context, session *models.Session, operation string, action models.ChangeAction, plan *SyncPlan) {
	written := len(plan.Writes())
	monitoring.RecordRelationshipSync(operation, written, len(plan.Skipped))
	monitoring.RecordBusinessEvent("member_"+string(action), "success")

	memberID := plan.Member.MemberID
	if len(plan.Skipped) > 0 {
		slog.Warn("Skipped reciprocal edges for missing partners",
			"churchId", session.ChurchID, "memberId", memberID, "partnerIds", plan.Skipped)
	}
	slog.Info("Member "+string(action), "churchId", session.ChurchID, "memberId", memberID, "partnersWritten", written)

	event := audit.NewEvent(audit.EventTypeMemberManagement, auditAction(action), audit.StatusSuccess,
		actorType(session), session.ActorID(), session.ChurchID, string(models.ResourceTypeMembers), memberID)
	event.AdditionalMetadata = audit.MarshalMetadata(map[string]interface{}{
		"partnerIds":      plan.PartnerIDs(),
		"partnersWritten": written,
		"partnersSkipped": len(plan.Skipped),
	})
	audit.LogAuditEvent(ctx, event)

	s.publish(ctx, session, action, memberID, plan.PartnerIDs())
}

func (s *MemberService) recordFailure(ctx context.Context, session *models.Session, action models.ChangeAction, memberID string, err error) {
	monitoring.RecordBusinessEvent("member_"+string(action), "failure")
	event := audit.NewEvent(audit.EventTypeMemberManagement, auditAction(action), audit.StatusFailure,
		actorType(session), session.ActorID(), session.ChurchID, string(models.ResourceTypeMembers), memberID)
	event.AdditionalMetadata = audit.MarshalMetadata(map[string]interface{}{"error": err.Error()})
	audit.LogAuditEvent(ctx, event)
}

// publish never fails the caller; the change has already committed
func (s *MemberService) publish(ctx context.Context, session *models.Session, action models.ChangeAction, memberID string, partnerIDs []string) {
	if s.publisher == nil {
		return
	}
	event := &models.MemberChangedEvent{
		ChurchID:   session.ChurchID,
		MemberID:   memberID,
		Action:     action,
		PartnerIDs: partnerIDs,
		ActorID:    session.ActorID(),
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishMemberChanged(ctx, event); err != nil {
		slog.Warn("Failed to publish member change", "churchId", session.ChurchID, "memberId", memberID, "error", err)
	}
}

func auditAction(action models.ChangeAction) string {
	switch action {
	case models.ChangeActionCreated:
		return "CREATE"
	case models.ChangeActionDeleted:
		return "DELETE"
	default:
		return "UPDATE"
	}
}

func actorType(session *models.Session) string {
	return string(session.ActorType())
}
