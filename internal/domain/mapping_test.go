package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairMapping(id, condA, condB string) ConditionMapping {
	return ConditionMapping{
		ID: id,
		Legs: []MappingLeg{
			{MarketKey: "polymarket:a", Condition: condA},
			{MarketKey: "kalshi:b", Condition: condB},
		},
		Relationship: RelationSame,
		Confidence:   0.9,
	}
}

func TestConditionMapping_Accessors(t *testing.T) {
	m := pairMapping("m1", "Trump", "Donald Trump")
	assert.Equal(t, "Trump", m.ConditionA())
	assert.Equal(t, "Donald Trump", m.ConditionB())

	c, ok := m.ConditionFor("kalshi:b")
	require.True(t, ok)
	assert.Equal(t, "Donald Trump", c)
	_, ok = m.ConditionFor("manifold:z")
	assert.False(t, ok)

	assert.Empty(t, ConditionMapping{}.ConditionA())
	assert.Empty(t, ConditionMapping{}.ConditionB())
}

func TestValidateMappings_OK(t *testing.T) {
	err := ValidateMappings([]ConditionMapping{
		pairMapping("m1", "Trump", "Donald Trump"),
		pairMapping("m2", "Harris", "Kamala Harris"),
	})
	assert.NoError(t, err)
}

func TestValidateMappings_DoubleAssignment(t *testing.T) {
	err := ValidateMappings([]ConditionMapping{
		pairMapping("m1", "Trump", "Donald Trump"),
		pairMapping("m2", "Trump", "Kamala Harris"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDoubleAssignment)
}

func TestValidateMappings_InvalidFields(t *testing.T) {
	bad := pairMapping("m1", "a", "b")
	bad.Relationship = "related"
	assert.ErrorIs(t, ValidateMappings([]ConditionMapping{bad}), ErrInvalidMapping)

	bad = pairMapping("m1", "a", "b")
	bad.Confidence = 1.2
	assert.ErrorIs(t, ValidateMappings([]ConditionMapping{bad}), ErrInvalidMapping)

	bad = pairMapping("m1", "a", "b")
	bad.Legs = bad.Legs[:1]
	assert.ErrorIs(t, ValidateMappings([]ConditionMapping{bad}), ErrInvalidMapping)
}

func TestRelationship_Valid(t *testing.T) {
	for _, r := range []Relationship{
		RelationSame, RelationSubset, RelationMutuallyExclusive,
		RelationComplementary, RelationOpposites, RelationOverlapping,
	} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Relationship("equivalent").Valid())
}

func TestMappingID_Deterministic(t *testing.T) {
	legs := []MappingLeg{{MarketKey: "polymarket:a", Condition: "Yes"}, {MarketKey: "kalshi:b", Condition: "Yes"}}
	assert.Equal(t, MappingID(legs), MappingID(legs))

	other := []MappingLeg{{MarketKey: "polymarket:a", Condition: "Yes"}, {MarketKey: "kalshi:b", Condition: "No"}}
	assert.NotEqual(t, MappingID(legs), MappingID(other))
}

func TestMatchID_OrderIndependent(t *testing.T) {
	assert.Equal(t, MatchID("polymarket:a", "kalshi:b"), MatchID("kalshi:b", "polymarket:a"))
	assert.NotEqual(t, MatchID("polymarket:a", "kalshi:b"), MatchID("polymarket:a", "kalshi:c"))
}
