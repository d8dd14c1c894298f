package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithconnect/member-service/shared/audit"
	"github.com/faithconnect/member-service/shared/monitoring"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/store"
)

// IntegrityService finds and repairs one-sided relationship edges. They appear
// when a partner was removed out of band, since the synchronizer skips missing
// partners instead of failing.
type IntegrityService struct {
	store store.Store
}

// NewIntegrityService creates a new integrity service
func NewIntegrityService(s store.Store) *IntegrityService {
	return &IntegrityService{store: s}
}

// Check scans every member of the church from one consistent read
func (s *IntegrityService) Check(ctx context.Context, session *models.Session) (*models.IntegrityReport, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var report *models.IntegrityReport
	err := s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		members, err := tx.ListMembers()
		if err != nil {
			return err
		}
		report = scanMembers(session.ChurchID, members)
		return nil
	})
	if err != nil {
		monitoring.RecordBusinessEvent("integrity_check", "failure")
		return nil, fmt.Errorf("failed to scan relationships: %w", err)
	}

	monitoring.RecordBusinessEvent("integrity_check", "success")
	return report, nil
}

// Repair fixes every issue Check would report in one transaction. Orphan edges
// are removed; missing or mismatched reciprocals are rewritten from the edge of
// the member with the lower id.
func (s *IntegrityService) Repair(ctx context.Context, session *models.Session) (*models.IntegrityReport, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var (
		report  *models.IntegrityReport
		written int
	)
	err := s.store.RunInTransaction(ctx, session.ChurchID, func(tx store.Tx) error {
		members, err := tx.ListMembers()
		if err != nil {
			return err
		}
		report = scanMembers(session.ChurchID, members)
		if len(report.Issues) == 0 {
			written = 0
			return nil
		}

		changed := repairMembers(members)
		for _, m := range changed {
			if err := tx.SaveMember(m); err != nil {
				return err
			}
		}
		written = len(changed)
		return nil
	})
	if err != nil {
		monitoring.RecordBusinessEvent("integrity_repair", "failure")
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	report.Repaired = len(report.Issues)
	monitoring.RecordBusinessEvent("integrity_repair", "success")
	monitoring.RecordRelationshipSync("repair", written, 0)
	if report.Repaired > 0 {
		slog.Info("Repaired relationship edges", "churchId", session.ChurchID,
			"issues", report.Repaired, "membersWritten", written)

		event := audit.NewEvent(audit.EventTypeMemberManagement, "UPDATE", audit.StatusSuccess,
			actorType(session), session.ActorID(), session.ChurchID, string(models.ResourceTypeRelationships), "")
		event.AdditionalMetadata = audit.MarshalMetadata(map[string]interface{}{
			"issues":         report.Repaired,
			"membersWritten": written,
		})
		audit.LogAuditEvent(ctx, event)
	}
	return report, nil
}

// scanMembers reports every edge that breaks symmetry
func scanMembers(churchID string, members []models.Member) *models.IntegrityReport {
	report := &models.IntegrityReport{
		ChurchID:       churchID,
		MembersScanned: len(members),
		Issues:         []models.IntegrityIssue{},
		CheckedAt:      time.Now().UTC().Format(time.RFC3339),
	}

	byID := make(map[string]*models.Member, len(members))
	for i := range members {
		byID[members[i].MemberID] = &members[i]
	}

	for i := range members {
		owner := &members[i]
		for _, edge := range owner.Relationships {
			report.EdgesScanned++
			partnerID := edge.PartnerID(owner.MemberID)
			issue := models.IntegrityIssue{MemberID: owner.MemberID, PartnerID: partnerID, Type: edge.Type}

			partner, ok := byID[partnerID]
			if !ok {
				issue.Kind = models.IssueOrphan
				report.Issues = append(report.Issues, issue)
				continue
			}

			want := models.ReciprocalOf(owner.MemberID, edge)
			back, ok := partner.Relationships.Find(partnerID, owner.MemberID)
			switch {
			case !ok:
				issue.Kind = models.IssueMissingReciprocal
				issue.ExpectedType = want.Type
			case back.Type != want.Type || back.Anniversary != want.Anniversary:
				issue.Kind = models.IssueMismatchedReciprocal
				issue.ExpectedType = want.Type
				issue.ActualType = back.Type
			default:
				continue
			}
			report.Issues = append(report.Issues, issue)
		}
	}
	return report
}

// repairMembers edits members in place and returns the ones that changed.
// Members are visited in the order given, so earlier members' edges win.
func repairMembers(members []models.Member) []*models.Member {
	byID := make(map[string]*models.Member, len(members))
	for i := range members {
		byID[members[i].MemberID] = &members[i]
	}
	dirty := make(map[string]bool)

	for i := range members {
		owner := &members[i]
		kept := make(models.Relationships, 0, len(owner.Relationships))
		seen := make(map[string]bool, len(owner.Relationships))
		for _, edge := range owner.Relationships {
			partnerID := edge.PartnerID(owner.MemberID)
			partner, ok := byID[partnerID]
			if !ok || seen[partnerID] {
				// orphan or duplicate
				dirty[owner.MemberID] = true
				continue
			}
			seen[partnerID] = true
			kept = append(kept, edge)

			if upsertReciprocal(partner, owner.MemberID, models.ReciprocalOf(owner.MemberID, edge)) {
				dirty[partnerID] = true
			}
		}
		if dirty[owner.MemberID] {
			owner.Relationships = kept
		}
	}

	out := make([]*models.Member, 0, len(dirty))
	for i := range members {
		if dirty[members[i].MemberID] {
			out = append(out, &members[i])
		}
	}
	return out
}
