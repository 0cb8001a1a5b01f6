// Package harness provides a scenario-driven conformance suite for the
// classification engine.
//
// Scenarios are YAML files describing a complete small classification:
// the area of interest, inline source layers, an ordered rule table and
// the expected outcome.
//
//	name: first_step_wins
//	description: "Earlier steps freeze area against later ones"
//	aoi: "POLYGON((0 0,10 0,10 10,0 10,0 0))"
//	layers:
//	  parks:
//	    - id: p1
//	      wkt: "POLYGON((0 0,6 0,6 10,0 10,0 0))"
//	      attrs: {type: park}
//	steps:
//	  - id: 10
//	    layer: parks
//	    assign: public
//	expect:
//	  areas: {public: 60, private: 0, unassigned: 40}
//	  warnings:
//	    - code: UNKNOWN_CATEGORY
//	      step: 10
//
// Expected areas are compared with a small absolute tolerance; expected
// warnings are a subset match against the recorded step reports.
//
// RunWithGolden additionally snapshots the run's diagnostics and compares
// them against golden files under testdata/golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
