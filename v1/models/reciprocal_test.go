package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReciprocal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Spouse", "Spouse"},
		{"Parent", "Child"},
		{"Child", "Parent"},
		{"Sibling", "Sibling"},
		{"Guardian", "Ward"},
		{"Ward", "Guardian"},
		{"Godparent", "Godparent"},
		{"", ""},
		{"spouse", "spouse"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Reciprocal(tt.in))
		})
	}
}

func TestReciprocal_IsInvolution(t *testing.T) {
	for from := range reciprocalTypes {
		assert.Equal(t, from, Reciprocal(Reciprocal(from)), "reciprocal of reciprocal of %s", from)
	}
}

func TestReciprocalOf(t *testing.T) {
	edge := Relationship{MemberIDs: []string{"a", "b"}, Type: RelationshipParent, Anniversary: "2001-06-09"}

	got := ReciprocalOf("a", edge)

	assert.Equal(t, []string{"b", "a"}, got.MemberIDs)
	assert.Equal(t, RelationshipChild, got.Type)
	assert.Equal(t, "2001-06-09", got.Anniversary)
}
