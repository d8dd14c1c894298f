package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRelationship_PartnerID(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		self string
		want string
	}{
		{"self first", []string{"a", "b"}, "a", "b"},
		{"self second", []string{"b", "a"}, "a", "b"},
		{"partner only", []string{"b"}, "a", "b"},
		{"self reference", []string{"a", "a"}, "a", ""},
		{"empty", nil, "a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Relationship{MemberIDs: tt.ids}.PartnerID(tt.self))
		})
	}
}

func TestRelationships_PartnerIDs(t *testing.T) {
	rels := Relationships{
		{MemberIDs: []string{"a", "b"}, Type: "Spouse"},
		{MemberIDs: []string{"a", "c"}, Type: "Parent"},
		{MemberIDs: []string{"b", "a"}, Type: "Sibling"},
	}

	assert.Equal(t, []string{"b", "c"}, rels.PartnerIDs("a"))

	found, ok := rels.Find("a", "c")
	assert.True(t, ok)
	assert.Equal(t, "Parent", found.Type)

	_, ok = rels.Find("a", "z")
	assert.False(t, ok)
}

func TestMember_Clone(t *testing.T) {
	m := &Member{MemberID: "a", Relationships: Relationships{{MemberIDs: []string{"a", "b"}, Type: "Spouse"}}}

	c := m.Clone()
	c.Relationships[0].Type = "Sibling"
	c.Relationships[0].MemberIDs[1] = "z"

	assert.Equal(t, "Spouse", m.Relationships[0].Type)
	assert.Equal(t, "b", m.Relationships[0].MemberIDs[1])
	assert.Nil(t, (*Member)(nil).Clone())
}

func TestRelationships_Scan(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    Relationships
		wantErr bool
	}{
		{name: "nil value", value: nil, want: Relationships{}},
		{
			name:  "valid JSON bytes",
			value: []byte(`[{"memberIds":["a","b"],"type":"Spouse","anniversary":"1999-05-01"}]`),
			want:  Relationships{{MemberIDs: []string{"a", "b"}, Type: "Spouse", Anniversary: "1999-05-01"}},
		},
		{
			name:  "valid JSON string",
			value: `[{"memberIds":["a","c"],"type":"Parent"}]`,
			want:  Relationships{{MemberIDs: []string{"a", "c"}, Type: "Parent"}},
		},
		{name: "empty bytes", value: []byte{}, want: Relationships{}},
		{name: "invalid type", value: 123, wantErr: true},
		{name: "invalid JSON", value: []byte(`invalid json`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rs Relationships
			err := rs.Scan(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rs)
		})
	}
}

func TestRelationships_Value(t *testing.T) {
	v, err := Relationships(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = Relationships{{MemberIDs: []string{"a", "b"}, Type: "Spouse"}}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"memberIds":["a","b"],"type":"Spouse"}]`, v.(string))
}

func TestRelationships_GormValue(t *testing.T) {
	rels := Relationships{{MemberIDs: []string{"a", "b"}, Type: "Spouse"}}

	t.Run("postgres casts to jsonb", func(t *testing.T) {
		db := &gorm.DB{Config: &gorm.Config{Dialector: postgres.Open("host=localhost")}}
		expr := rels.GormValue(context.Background(), db)
		assert.Equal(t, "?::jsonb", expr.SQL)
		require.Len(t, expr.Vars, 1)
		assert.JSONEq(t, `[{"memberIds":["a","b"],"type":"Spouse"}]`, expr.Vars[0].(string))
	})

	t.Run("sqlite stores text", func(t *testing.T) {
		db := &gorm.DB{Config: &gorm.Config{Dialector: sqlite.Open(":memory:")}}
		expr := Relationships(nil).GormValue(context.Background(), db)
		assert.Equal(t, "?", expr.SQL)
		assert.Equal(t, "[]", expr.Vars[0])
	})
}

func TestMemberStatus_IsValid(t *testing.T) {
	assert.True(t, MemberStatusActive.IsValid())
	assert.True(t, MemberStatusProspect.IsValid())
	assert.True(t, MemberStatusArchived.IsValid())
	assert.False(t, MemberStatus("Visitor").IsValid())
}

func TestMember_FullName(t *testing.T) {
	assert.Equal(t, "Ruth Moab", (&Member{FirstName: "Ruth", LastName: "Moab"}).FullName())
	assert.Equal(t, "Ruth", (&Member{FirstName: "Ruth"}).FullName())
}
