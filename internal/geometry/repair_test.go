package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bowtieWKT is the classic self-intersecting "figure eight": the ring
// crosses itself at (1,1). Invalid as a polygon, repairable into two
// triangles with total area 1.
const bowtieWKT = "POLYGON((0 0,2 2,2 0,0 2,0 0))"

func TestValidate_ValidPolygon(t *testing.T) {
	p := MustWKT("POLYGON((0 0,4 0,4 4,0 4,0 0))")
	assert.NoError(t, Validate(p))
}

func TestValidate_SelfIntersection(t *testing.T) {
	p, err := FromWKT(bowtieWKT)
	require.NoError(t, err) // parsing succeeds, validity is separate

	err = Validate(p)
	require.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "input", verr.Stage)
}

func TestCanonicalize_ValidInputUnchanged(t *testing.T) {
	p := MustWKT("POLYGON((0 0,4 0,4 4,0 4,0 0))")

	fixed, err := Canonicalize(p)
	require.NoError(t, err)
	assert.InDelta(t, p.Area(), fixed.Area(), 1e-9)
}

func TestCanonicalize_RepairsBowtie(t *testing.T) {
	p, err := FromWKT(bowtieWKT)
	require.NoError(t, err)

	fixed, err := Canonicalize(p)
	require.NoError(t, err)
	assert.NoError(t, Validate(fixed))
	assert.InDelta(t, 1.0, fixed.Area(), 1e-9)
}

func TestCanonicalize_CollapsedRingUnrepairable(t *testing.T) {
	// Three-point ring with no interior: parsing accepts it, the
	// self-union rebuild finds no areal part to keep.
	p, err := FromWKT("POLYGON((0 0,1 1,0 0))")
	require.NoError(t, err)

	_, err = Canonicalize(p)
	require.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRect_EmptyHasNoRect(t *testing.T) {
	_, ok := Rect(Empty())
	assert.False(t, ok)
}

func TestRect_CoversEnvelope(t *testing.T) {
	p := MustWKT("POLYGON((1 2,5 2,5 8,1 8,1 2))")

	rect, ok := Rect(p)
	require.True(t, ok)
	assert.InDelta(t, 24.0, rect.Size(), 1e-6) // 4 x 6 envelope
}
