package geometry

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"
)

// ValidationError reports a geometry that failed validation, before or
// after repair. It wraps the underlying validation failure.
type ValidationError struct {
	Stage string // "input" or "repaired"
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s geometry: %v", e.Stage, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the polygonal geometry against the OGC validity rules
// (closed rings, no self-intersection, correctly nested interiors).
func Validate(p Polygonal) error {
	if err := p.Geometry().Validate(); err != nil {
		return &ValidationError{Stage: "input", Err: err}
	}
	return nil
}

// Canonicalize returns a valid equivalent of p, repairing it if necessary.
//
// Valid input is returned unchanged. Invalid input is passed through a
// self-union: the overlay renodes the rings at every self-intersection and
// rebuilds the areal interior, which is the same fix a zero-distance
// buffer performs. Input that remains invalid after the rebuild, or whose
// rebuild collapses to nothing, is unrepairable and is reported via
// ValidationError so the caller can skip the feature with a recorded
// warning.
func Canonicalize(p Polygonal) (Polygonal, error) {
	g := p.Geometry()
	if err := g.Validate(); err == nil {
		return p, nil
	}

	fixed, err := geom.Union(g, g)
	if err != nil {
		return Polygonal{}, &ValidationError{Stage: "input", Err: err}
	}
	repaired := arealOnly(fixed)
	if repaired.IsEmpty() {
		// Collapsed input (zero-area or degenerate rings): the rebuild
		// found no areal interior, so there is nothing valid to keep.
		return Polygonal{}, &ValidationError{Stage: "repaired", Err: fmt.Errorf("no areal interior after repair")}
	}
	if err := repaired.Geometry().Validate(); err != nil {
		return Polygonal{}, &ValidationError{Stage: "repaired", Err: err}
	}
	return repaired, nil
}
