package models

// MemberStatus represents where a person stands with the congregation
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "Active"
	MemberStatusProspect MemberStatus = "Prospect"
	MemberStatusArchived MemberStatus = "Archived"
)

// IsValid checks if the status is one of the known values
func (s MemberStatus) IsValid() bool {
	switch s {
	case MemberStatusActive, MemberStatusProspect, MemberStatusArchived:
		return true
	}
	return false
}

// Relationship types with a known reciprocal
const (
	RelationshipSpouse   = "Spouse"
	RelationshipParent   = "Parent"
	RelationshipChild    = "Child"
	RelationshipSibling  = "Sibling"
	RelationshipGuardian = "Guardian"
	RelationshipWard     = "Ward"
)

// AuditStatus represents the status of audit events
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailure AuditStatus = "FAILURE"
)

// ResourceType represents different resource types for auditing
type ResourceType string

const (
	ResourceTypeMembers       ResourceType = "MEMBERS"
	ResourceTypeRelationships ResourceType = "RELATIONSHIPS"
	ResourceTypeUsers         ResourceType = "USERS"
)

// ActorType identifies who performed an audited action
type ActorType string

const (
	ActorTypeAdmin  ActorType = "ADMIN"
	ActorTypeStaff  ActorType = "STAFF"
	ActorTypeMember ActorType = "MEMBER"
	ActorTypeSystem ActorType = "SYSTEM"
)

// ChangeAction describes a committed member change
type ChangeAction string

const (
	ChangeActionCreated ChangeAction = "created"
	ChangeActionUpdated ChangeAction = "updated"
	ChangeActionDeleted ChangeAction = "deleted"
)

// Field length constraints remain as regular constants
const (
	MaxNameLength         = 255
	MaxNotesLength        = 5000
	MaxEmailLength        = 320 // RFC 3696 limit
	MaxPhoneLength        = 20
	MaxAddressLength      = 1000
	MaxRelationshipType   = 64
	MaxRelationshipsCount = 100
	MemberIDPrefix        = "mem_"
	DateLayout            = "2006-01-02"
)
