package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Member is one person in a church directory. Relationship edges are stored
// on both endpoints.
type Member struct {
	ChurchID      string        `gorm:"primaryKey;column:church_id;size:64" json:"churchId" bson:"churchId"`
	MemberID      string        `gorm:"primaryKey;column:member_id;size:64" json:"memberId" bson:"memberId"`
	FirstName     string        `gorm:"column:first_name;not null" json:"firstName" bson:"firstName"`
	LastName      string        `gorm:"column:last_name" json:"lastName" bson:"lastName"`
	Email         string        `gorm:"column:email;index" json:"email,omitempty" bson:"email,omitempty"`
	PhoneNumber   string        `gorm:"column:phone_number" json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	Address       string        `gorm:"column:address" json:"address,omitempty" bson:"address,omitempty"`
	Status        MemberStatus  `gorm:"column:status;not null;default:Active" json:"status" bson:"status"`
	Birthday      string        `gorm:"column:birthday" json:"birthday,omitempty" bson:"birthday,omitempty"`
	BaptismDate   string        `gorm:"column:baptism_date" json:"baptismDate,omitempty" bson:"baptismDate,omitempty"`
	Anniversary   string        `gorm:"column:anniversary" json:"anniversary,omitempty" bson:"anniversary,omitempty"`
	Notes         string        `gorm:"column:notes" json:"notes,omitempty" bson:"notes,omitempty"`
	UserID        string        `gorm:"column:user_id;index" json:"userId,omitempty" bson:"userId,omitempty"`
	PhotoPath     string        `gorm:"column:photo_path" json:"photoPath,omitempty" bson:"photoPath,omitempty"`
	Relationships Relationships `gorm:"column:relationships" json:"relationships" bson:"relationships"`
	Version       int64         `gorm:"column:version;not null;default:1" json:"version" bson:"version"`
	BaseModel     `bson:",inline"`
}

// TableName sets the table name for GORM
func (Member) TableName() string {
	return "members"
}

// Clone returns a deep copy so callers can mutate the relationship slice
// without touching the original.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	c := *m
	c.Relationships = m.Relationships.Clone()
	return &c
}

// FullName joins first and last name
func (m *Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// Relationship is one edge as seen from the member that stores it:
// MemberIDs[0] is the owner and MemberIDs[1] the partner.
type Relationship struct {
	MemberIDs   []string `json:"memberIds" bson:"memberIds"`
	Type        string   `json:"type" bson:"type"`
	Anniversary string   `json:"anniversary,omitempty" bson:"anniversary,omitempty"`
}

// PartnerID returns the id on the far side of the edge relative to selfID.
// Edges written by older clients may list the ids in either order.
func (r Relationship) PartnerID(selfID string) string {
	for _, id := range r.MemberIDs {
		if id != "" && id != selfID {
			return id
		}
	}
	return ""
}

// PointsAt reports whether the edge references memberID as its partner
func (r Relationship) PointsAt(selfID, memberID string) bool {
	return r.PartnerID(selfID) == memberID
}

// Equal compares the normalized form of two edges
func (r Relationship) Equal(other Relationship) bool {
	if r.Type != other.Type || r.Anniversary != other.Anniversary {
		return false
	}
	if len(r.MemberIDs) != len(other.MemberIDs) {
		return false
	}
	for i := range r.MemberIDs {
		if r.MemberIDs[i] != other.MemberIDs[i] {
			return false
		}
	}
	return true
}

// Relationships represents the relationship array with custom scanning
type Relationships []Relationship

// Clone returns a deep copy of the relationships
func (rs Relationships) Clone() Relationships {
	if rs == nil {
		return nil
	}
	out := make(Relationships, len(rs))
	for i, r := range rs {
		out[i] = Relationship{
			MemberIDs:   append([]string(nil), r.MemberIDs...),
			Type:        r.Type,
			Anniversary: r.Anniversary,
		}
	}
	return out
}

// PartnerIDs lists distinct partner ids in order of first appearance
func (rs Relationships) PartnerIDs(selfID string) []string {
	seen := make(map[string]bool, len(rs))
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		id := r.PartnerID(selfID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Find returns the first edge pointing at partnerID
func (rs Relationships) Find(selfID, partnerID string) (Relationship, bool) {
	for _, r := range rs {
		if r.PointsAt(selfID, partnerID) {
			return r, true
		}
	}
	return Relationship{}, false
}

// Scan implements the sql.Scanner interface for Relationships
func (rs *Relationships) Scan(value interface{}) error {
	if value == nil {
		*rs = Relationships{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Relationships", value)
	}

	if len(bytes) == 0 {
		*rs = Relationships{}
		return nil
	}
	return json.Unmarshal(bytes, rs)
}

// Value implements the driver.Valuer interface for Relationships
func (rs Relationships) Value() (driver.Value, error) {
	if rs == nil {
		return "[]", nil
	}
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType gorm common data type
func (Relationships) GormDataType() string {
	return "jsonb"
}

// GormDBDataType picks the column type per dialect
func (Relationships) GormDBDataType(db *gorm.DB, _ interface{}) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

// GormValue implements the GormValuerInterface
func (rs Relationships) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	if rs == nil {
		rs = Relationships{}
	}
	data, err := json.Marshal(rs)
	if err != nil {
		// Relationship edges only hold strings, so marshaling cannot fail
		panic(fmt.Sprintf("Failed to marshal Relationships to JSON: %v", err))
	}

	sql := "?"
	if db.Dialector.Name() == "postgres" {
		sql = "?::jsonb"
	}

	return clause.Expr{
		SQL:  sql,
		Vars: []interface{}{string(data)},
	}
}
