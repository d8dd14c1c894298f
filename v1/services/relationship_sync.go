package services

import (
	"fmt"
	"strings"

	"github.com/faithconnect/member-service/v1/models"
)

// ChangeKind classifies what happened to one partner's reciprocal edge
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
	// ChangeRepaired marks a partner whose back edge was missing or wrong
	// although the member's own edge did not change
	ChangeRepaired ChangeKind = "repaired"
)

// PartnerChange is the planned outcome for one partner document
type PartnerChange struct {
	PartnerID string
	Kind      ChangeKind
	// Partner is the partner document after the change
	Partner *models.Member
	// Written is true only when Partner differs from the stored document.
	// An unchanged partner is never written.
	Written bool
}

// SyncPlan is the full set of writes one synchronizer call needs. Planning is
// pure: it only looks at documents already read inside the transaction.
type SyncPlan struct {
	Member   *models.Member
	Partners []PartnerChange
	// Skipped lists partner ids whose documents do not exist
	Skipped []string
}

// Writes returns the partner documents that must be saved
func (p *SyncPlan) Writes() []*models.Member {
	out := make([]*models.Member, 0, len(p.Partners))
	for _, c := range p.Partners {
		if c.Written {
			out = append(out, c.Partner)
		}
	}
	return out
}

// PartnerIDs returns every partner the call touched or considered
func (p *SyncPlan) PartnerIDs() []string {
	ids := make([]string, 0, len(p.Partners)+len(p.Skipped))
	for _, c := range p.Partners {
		ids = append(ids, c.PartnerID)
	}
	return append(ids, p.Skipped...)
}

// NormalizeRelationships converts submitted edges into stored edges owned by
// selfID. Each partner may appear once and a member cannot relate to itself.
func NormalizeRelationships(selfID string, reqs []models.RelationshipRequest) (models.Relationships, error) {
	out := make(models.Relationships, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for i, req := range reqs {
		r := req.ToRelationship(selfID)
		partner := r.MemberIDs[1]
		switch {
		case partner == selfID || sameMemberID(req.MemberIDs, selfID):
			return nil, fmt.Errorf("%w: relationship %d points at the member itself", ErrInvalidRelationship, i)
		case partner == "":
			return nil, fmt.Errorf("%w: relationship %d names no partner", ErrInvalidRelationship, i)
		case r.Type == "":
			return nil, fmt.Errorf("%w: relationship %d has no type", ErrInvalidRelationship, i)
		case seen[partner]:
			return nil, fmt.Errorf("%w: partner %s is listed more than once", ErrInvalidRelationship, partner)
		}
		seen[partner] = true
		out = append(out, r)
	}
	return out, nil
}

// sameMemberID catches [self, self] which PartnerID cannot distinguish from
// an edge without a partner
func sameMemberID(ids []string, selfID string) bool {
	if len(ids) != 2 {
		return false
	}
	return strings.TrimSpace(ids[0]) == selfID && strings.TrimSpace(ids[1]) == selfID
}

// PlanAdd plans the reciprocal edges for a newly created member. A partner
// that already points back keeps its edge unless the edge disagrees with the
// reciprocal, in which case it is repaired.
func PlanAdd(member *models.Member, partners map[string]*models.Member) *SyncPlan {
	plan := &SyncPlan{Member: member}
	selfID := member.MemberID

	for _, partnerID := range member.Relationships.PartnerIDs(selfID) {
		partner, ok := partners[partnerID]
		if !ok {
			plan.Skipped = append(plan.Skipped, partnerID)
			continue
		}
		edge, _ := member.Relationships.Find(selfID, partnerID)

		updated := partner.Clone()
		_, hadEdge := updated.Relationships.Find(partnerID, selfID)
		changed := upsertReciprocal(updated, selfID, models.ReciprocalOf(selfID, edge))

		kind := ChangeUnchanged
		switch {
		case !hadEdge:
			kind = ChangeAdded
		case changed:
			kind = ChangeRepaired
		}
		plan.Partners = append(plan.Partners, PartnerChange{
			PartnerID: partnerID,
			Kind:      kind,
			Partner:   updated,
			Written:   changed,
		})
	}
	return plan
}

// PlanUpdate reconciles a member's stored edges against a replacement set.
// current is the document read inside the transaction; next carries the new
// field values and relationships.
func PlanUpdate(current, next *models.Member, partners map[string]*models.Member) *SyncPlan {
	plan := &SyncPlan{Member: next}
	selfID := current.MemberID

	union := append(current.Relationships.PartnerIDs(selfID), next.Relationships.PartnerIDs(selfID)...)
	seen := make(map[string]bool, len(union))

	for _, partnerID := range union {
		if seen[partnerID] {
			continue
		}
		seen[partnerID] = true

		oldEdge, inOld := current.Relationships.Find(selfID, partnerID)
		newEdge, inNew := next.Relationships.Find(selfID, partnerID)

		var kind ChangeKind
		switch {
		case inNew && !inOld:
			kind = ChangeAdded
		case inOld && !inNew:
			kind = ChangeRemoved
		case oldEdge.Type != newEdge.Type || oldEdge.Anniversary != newEdge.Anniversary:
			kind = ChangeModified
		default:
			kind = ChangeUnchanged
		}

		partner, ok := partners[partnerID]
		if !ok {
			plan.Skipped = append(plan.Skipped, partnerID)
			continue
		}

		updated := partner.Clone()
		var changed bool
		if kind == ChangeRemoved {
			changed = removeReciprocal(updated, selfID)
		} else {
			// Type changes recompute the reciprocal label from the new type
			changed = upsertReciprocal(updated, selfID, models.ReciprocalOf(selfID, newEdge))
		}
		if kind == ChangeUnchanged && changed {
			kind = ChangeRepaired
		}
		plan.Partners = append(plan.Partners, PartnerChange{
			PartnerID: partnerID,
			Kind:      kind,
			Partner:   updated,
			Written:   changed,
		})
	}
	return plan
}

// PlanDelete strips every edge pointing at the deleted member from its partners
func PlanDelete(member *models.Member, partners map[string]*models.Member) *SyncPlan {
	plan := &SyncPlan{Member: member}
	selfID := member.MemberID

	for _, partnerID := range member.Relationships.PartnerIDs(selfID) {
		partner, ok := partners[partnerID]
		if !ok {
			plan.Skipped = append(plan.Skipped, partnerID)
			continue
		}
		updated := partner.Clone()
		changed := removeReciprocal(updated, selfID)
		kind := ChangeRemoved
		if !changed {
			kind = ChangeUnchanged
		}
		plan.Partners = append(plan.Partners, PartnerChange{
			PartnerID: partnerID,
			Kind:      kind,
			Partner:   updated,
			Written:   changed,
		})
	}
	return plan
}

// upsertReciprocal makes want the only edge on partner that points at ownerID.
// The first existing edge is replaced in place so the array keeps its order.
func upsertReciprocal(partner *models.Member, ownerID string, want models.Relationship) bool {
	partnerID := partner.MemberID
	out := make(models.Relationships, 0, len(partner.Relationships)+1)
	placed := false
	changed := false

	for _, r := range partner.Relationships {
		if !r.PointsAt(partnerID, ownerID) {
			out = append(out, r)
			continue
		}
		if placed {
			// duplicate edge to the same owner
			changed = true
			continue
		}
		placed = true
		if !r.Equal(want) {
			changed = true
		}
		out = append(out, want)
	}
	if !placed {
		out = append(out, want)
		changed = true
	}
	if changed {
		partner.Relationships = out
	}
	return changed
}

// removeReciprocal filters out every edge on partner pointing at ownerID and
// reports whether the array shrank
func removeReciprocal(partner *models.Member, ownerID string) bool {
	partnerID := partner.MemberID
	out := make(models.Relationships, 0, len(partner.Relationships))
	for _, r := range partner.Relationships {
		if r.PointsAt(partnerID, ownerID) {
			continue
		}
		out = append(out, r)
	}
	if len(out) == len(partner.Relationships) {
		return false
	}
	partner.Relationships = out
	return true
}
