package models

var reciprocalTypes = map[string]string{
	RelationshipSpouse:   RelationshipSpouse,
	RelationshipParent:   RelationshipChild,
	RelationshipChild:    RelationshipParent,
	RelationshipSibling:  RelationshipSibling,
	RelationshipGuardian: RelationshipWard,
	RelationshipWard:     RelationshipGuardian,
}

// Reciprocal returns the label the partner's edge must carry. Unknown labels
// map to themselves.
func Reciprocal(relationshipType string) string {
	if r, ok := reciprocalTypes[relationshipType]; ok {
		return r
	}
	return relationshipType
}

// ReciprocalOf builds the edge the partner must store for an edge owned by selfID
func ReciprocalOf(selfID string, r Relationship) Relationship {
	return Relationship{
		MemberIDs:   []string{r.PartnerID(selfID), selfID},
		Type:        Reciprocal(r.Type),
		Anniversary: r.Anniversary,
	}
}
