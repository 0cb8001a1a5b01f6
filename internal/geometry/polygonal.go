// Package geometry restricts the general geometry model to areal shapes.
//
// The classification engine only ever reasons about area: every candidate
// feature, every frozen region and every output partition is a polygon or
// multi-polygon. Polygonal is the closed variant enforcing that restriction.
// Points, lines and mixed collections are rejected at construction instead
// of being coerced, so the boolean-geometry pipeline downstream never has
// to handle lower-dimensional input.
package geometry

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"
)

// ErrNonPolygonal is wrapped by FromGeometry when the input geometry is not
// areal (point, line, or a collection containing non-areal members).
var ErrNonPolygonal = fmt.Errorf("geometry is not polygonal")

// Polygonal is an areal geometry: a Polygon, a MultiPolygon, or empty.
//
// The zero value is the empty polygonal geometry and is ready for use.
type Polygonal struct {
	g geom.Geometry
}

// Empty returns the empty polygonal geometry.
func Empty() Polygonal {
	return Polygonal{g: geom.MultiPolygon{}.AsGeometry()}
}

// FromGeometry converts a general geometry into a Polygonal.
//
// Polygons and MultiPolygons are accepted as-is. Empty geometries of any
// type map to the empty Polygonal. GeometryCollections are accepted only
// if every member is itself areal. Anything else returns ErrNonPolygonal;
// callers at the loader boundary turn that into a recorded skip, never a
// silent coercion.
func FromGeometry(g geom.Geometry) (Polygonal, error) {
	if g.IsEmpty() {
		return Empty(), nil
	}
	switch g.Type() {
	case geom.TypePolygon, geom.TypeMultiPolygon:
		return Polygonal{g: g}, nil
	case geom.TypeGeometryCollection:
		gc := g.MustAsGeometryCollection()
		polys := make([]geom.Polygon, 0, gc.NumGeometries())
		for i := 0; i < gc.NumGeometries(); i++ {
			member := gc.GeometryN(i)
			if member.IsEmpty() {
				continue
			}
			sub, err := FromGeometry(member)
			if err != nil {
				return Polygonal{}, fmt.Errorf("collection member %d: %w", i, ErrNonPolygonal)
			}
			polys = append(polys, sub.Polygons()...)
		}
		return Polygonal{g: geom.NewMultiPolygon(polys).AsGeometry()}, nil
	default:
		return Polygonal{}, fmt.Errorf("%w: %s", ErrNonPolygonal, g.Type())
	}
}

// FromWKT parses a WKT string into a Polygonal.
//
// Parsing is syntactic only: OGC validity is not enforced here, so that
// self-intersecting input still reaches Canonicalize, the single
// repair-or-reject gate. Callers that need validity call Validate or
// Canonicalize on the result.
func FromWKT(wkt string) (Polygonal, error) {
	g, err := geom.UnmarshalWKT(wkt, geom.NoValidate{})
	if err != nil {
		return Polygonal{}, fmt.Errorf("parse wkt: %w", err)
	}
	return FromGeometry(g)
}

// MustWKT parses a WKT string, panicking on failure. Test helper.
func MustWKT(wkt string) Polygonal {
	p, err := FromWKT(wkt)
	if err != nil {
		panic(err)
	}
	return p
}

// Geometry exposes the underlying simplefeatures geometry.
func (p Polygonal) Geometry() geom.Geometry {
	if p.g == (geom.Geometry{}) {
		// Zero value: normalise to empty MultiPolygon rather than the
		// default empty GeometryCollection.
		return geom.MultiPolygon{}.AsGeometry()
	}
	return p.g
}

// IsEmpty reports whether the geometry covers no area.
func (p Polygonal) IsEmpty() bool {
	return p.Geometry().IsEmpty()
}

// Area returns the planar area in squared coordinate units.
func (p Polygonal) Area() float64 {
	return p.Geometry().Area()
}

// Polygons explodes the geometry into its polygon parts.
// Empty geometries return a nil slice.
func (p Polygonal) Polygons() []geom.Polygon {
	g := p.Geometry()
	if g.IsEmpty() {
		return nil
	}
	switch g.Type() {
	case geom.TypePolygon:
		return []geom.Polygon{g.MustAsPolygon()}
	case geom.TypeMultiPolygon:
		mp := g.MustAsMultiPolygon()
		polys := make([]geom.Polygon, 0, mp.NumPolygons())
		for i := 0; i < mp.NumPolygons(); i++ {
			polys = append(polys, mp.PolygonN(i))
		}
		return polys
	}
	return nil
}

// Union returns the union of p and q.
//
// Boolean operations can emit lower-dimensional residue (shared boundary
// lines, touch points) inside a collection; only the areal parts are kept.
func (p Polygonal) Union(q Polygonal) (Polygonal, error) {
	if p.IsEmpty() {
		return q, nil
	}
	if q.IsEmpty() {
		return p, nil
	}
	g, err := geom.Union(p.Geometry(), q.Geometry())
	if err != nil {
		return Polygonal{}, fmt.Errorf("union: %w", err)
	}
	return arealOnly(g), nil
}

// Difference returns the part of p not covered by q.
func (p Polygonal) Difference(q Polygonal) (Polygonal, error) {
	if p.IsEmpty() || q.IsEmpty() {
		return p, nil
	}
	g, err := geom.Difference(p.Geometry(), q.Geometry())
	if err != nil {
		return Polygonal{}, fmt.Errorf("difference: %w", err)
	}
	return arealOnly(g), nil
}

// Intersection returns the area shared by p and q.
func (p Polygonal) Intersection(q Polygonal) (Polygonal, error) {
	if p.IsEmpty() || q.IsEmpty() {
		return Empty(), nil
	}
	g, err := geom.Intersection(p.Geometry(), q.Geometry())
	if err != nil {
		return Polygonal{}, fmt.Errorf("intersection: %w", err)
	}
	return arealOnly(g), nil
}

// UnionAll folds a slice of polygonals into a single union.
//
// Union is associative and commutative, so the fold order cannot affect
// the result; this is what makes the per-worker merge in the executor
// safe regardless of scheduling.
func UnionAll(ps []Polygonal) (Polygonal, error) {
	acc := Empty()
	for i, p := range ps {
		var err error
		acc, err = acc.Union(p)
		if err != nil {
			return Polygonal{}, fmt.Errorf("union element %d: %w", i, err)
		}
	}
	return acc, nil
}

// arealOnly strips non-areal parts from a boolean-operation result.
func arealOnly(g geom.Geometry) Polygonal {
	if g.IsEmpty() {
		return Empty()
	}
	switch g.Type() {
	case geom.TypePolygon, geom.TypeMultiPolygon:
		return Polygonal{g: g}
	case geom.TypeGeometryCollection:
		gc := g.MustAsGeometryCollection()
		var polys []geom.Polygon
		for i := 0; i < gc.NumGeometries(); i++ {
			member := gc.GeometryN(i)
			switch member.Type() {
			case geom.TypePolygon:
				polys = append(polys, member.MustAsPolygon())
			case geom.TypeMultiPolygon:
				mp := member.MustAsMultiPolygon()
				for j := 0; j < mp.NumPolygons(); j++ {
					polys = append(polys, mp.PolygonN(j))
				}
			}
		}
		return Polygonal{g: geom.NewMultiPolygon(polys).AsGeometry()}
	default:
		// Point or line residue only.
		return Empty()
	}
}
