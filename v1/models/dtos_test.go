package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestCreateMemberRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateMemberRequest
		wantErr bool
	}{
		{
			name: "minimal",
			req:  CreateMemberRequest{FirstName: "Naomi"},
		},
		{
			name: "full",
			req: CreateMemberRequest{
				FirstName:   "Naomi",
				LastName:    "Elimelech",
				Email:       "naomi@example.org",
				Status:      MemberStatusProspect,
				Birthday:    "1960-02-29",
				Anniversary: "1982-06-12",
				Relationships: []RelationshipRequest{
					{MemberIDs: []string{"", "mem_ruth"}, Type: "Parent"},
				},
			},
		},
		{name: "missing first name", req: CreateMemberRequest{LastName: "X"}, wantErr: true},
		{name: "bad email", req: CreateMemberRequest{FirstName: "A", Email: "nope"}, wantErr: true},
		{name: "unknown status", req: CreateMemberRequest{FirstName: "A", Status: "Visitor"}, wantErr: true},
		{name: "bad date", req: CreateMemberRequest{FirstName: "A", Birthday: "02/29/1960"}, wantErr: true},
		{name: "id with slash", req: CreateMemberRequest{MemberID: "a/b", FirstName: "A"}, wantErr: true},
		{
			name: "relationship without type",
			req: CreateMemberRequest{
				FirstName:     "A",
				Relationships: []RelationshipRequest{{MemberID: "b"}},
			},
			wantErr: true,
		},
		{
			name: "relationship with bad anniversary",
			req: CreateMemberRequest{
				FirstName:     "A",
				Relationships: []RelationshipRequest{{MemberID: "b", Type: "Spouse", Anniversary: "June"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateMemberRequest_Validate(t *testing.T) {
	assert.NoError(t, (&UpdateMemberRequest{}).Validate())
	assert.NoError(t, (&UpdateMemberRequest{Email: strPtr("")}).Validate())
	assert.Error(t, (&UpdateMemberRequest{Email: strPtr("bad")}).Validate())
	assert.Error(t, (&UpdateMemberRequest{FirstName: strPtr("")}).Validate())
	assert.Error(t, (&UpdateMemberRequest{Birthday: strPtr("yesterday")}).Validate())

	status := MemberStatus("Gone")
	assert.Error(t, (&UpdateMemberRequest{Status: &status}).Validate())
}

func TestUpdateMemberRequest_TouchesRelationships(t *testing.T) {
	assert.False(t, (&UpdateMemberRequest{FirstName: strPtr("A")}).TouchesRelationships())

	empty := []RelationshipRequest{}
	assert.True(t, (&UpdateMemberRequest{Relationships: &empty}).TouchesRelationships())
}

func TestUpdateMemberRequest_ApplyFields(t *testing.T) {
	archived := MemberStatusArchived
	m := &Member{FirstName: "Old", LastName: "Name", Notes: "keep", Status: MemberStatusActive}

	req := &UpdateMemberRequest{FirstName: strPtr("New"), Status: &archived, Email: strPtr("")}
	req.ApplyFields(m)

	assert.Equal(t, "New", m.FirstName)
	assert.Equal(t, "Name", m.LastName)
	assert.Equal(t, "keep", m.Notes)
	assert.Equal(t, MemberStatusArchived, m.Status)
	assert.Equal(t, "", m.Email)
}

func TestRelationshipRequest_ToRelationship(t *testing.T) {
	tests := []struct {
		name string
		req  RelationshipRequest
		want []string
	}{
		{"explicit partner", RelationshipRequest{MemberID: "b", Type: "Spouse"}, []string{"a", "b"}},
		{"pair in order", RelationshipRequest{MemberIDs: []string{"a", "b"}, Type: "Spouse"}, []string{"a", "b"}},
		{"pair reversed", RelationshipRequest{MemberIDs: []string{"b", "a"}, Type: "Spouse"}, []string{"a", "b"}},
		{"no partner", RelationshipRequest{Type: "Spouse"}, []string{"a", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.ToRelationship("a").MemberIDs)
		})
	}
}

func TestNewMemberResponse(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &Member{
		MemberID:  "mem_1",
		ChurchID:  "church_1",
		FirstName: "Boaz",
		Status:    MemberStatusActive,
		Version:   3,
		BaseModel: BaseModel{CreatedAt: created, UpdatedAt: created},
	}

	resp := NewMemberResponse(m)

	assert.Equal(t, "mem_1", resp.MemberID)
	assert.Equal(t, "church_1", resp.ChurchID)
	assert.Equal(t, int64(3), resp.Version)
	assert.Equal(t, "2024-03-01T10:00:00Z", resp.CreatedAt)
	assert.NotNil(t, resp.Relationships)
	assert.Empty(t, resp.Relationships)
}
