package layers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// DirLoader reads one GeoJSON FeatureCollection per layer from a
// directory: layer "estates" maps to <dir>/estates.geojson. Layers are
// parsed on first request and cached; features are clipped to the area
// of interest during that parse, with an R-tree over feature envelopes
// so only candidates whose bounding box touches the AOI pay for an
// intersection.
type DirLoader struct {
	dir string
	aoi geometry.Polygonal

	mu       sync.Mutex
	cache    map[string][]partition.SourceFeature
	warnings []partition.Warning
}

// NewDirLoader creates a loader over dir, clipping to aoi.
func NewDirLoader(dir string, aoi geometry.Polygonal) *DirLoader {
	return &DirLoader{
		dir:   dir,
		aoi:   aoi,
		cache: make(map[string][]partition.SourceFeature),
	}
}

// GetFeatures loads, clips and returns the features of one layer.
// A missing or unreadable file is an error; malformed individual
// features inside a readable file are dropped with a warning instead.
func (l *DirLoader) GetFeatures(layerID string) ([]partition.SourceFeature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if feats, ok := l.cache[layerID]; ok {
		out := make([]partition.SourceFeature, len(feats))
		copy(out, feats)
		return out, nil
	}

	path := filepath.Join(l.dir, layerID+".geojson")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", layerID, err)
	}

	raws, err := l.parseCollection(layerID, data)
	if err != nil {
		return nil, fmt.Errorf("layer %q: parse %s: %w", layerID, filepath.Base(path), err)
	}

	feats := l.convert(layerID, raws)
	l.cache[layerID] = feats

	out := make([]partition.SourceFeature, len(feats))
	copy(out, feats)
	return out, nil
}

// Warnings returns the per-feature diagnostics recorded while loading,
// across all layers loaded so far.
func (l *DirLoader) Warnings() []partition.Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]partition.Warning, len(l.warnings))
	copy(out, l.warnings)
	return out
}

// featureCandidate is an R-tree leaf for one raw feature pending a clip.
type featureCandidate struct {
	rect rtreego.Rect
	pos  int
}

func (c *featureCandidate) Bounds() rtreego.Rect {
	return c.rect
}

// rawFeature is one GeoJSON feature after syntactic decoding, before the
// geometry has been through validation or repair. Pos is the feature's
// index in the source file, used for derived ids.
type rawFeature struct {
	Pos        int
	ID         any
	Geometry   geom.Geometry
	Properties map[string]any
}

// parseCollection decodes a FeatureCollection feature by feature.
// Geometry is parsed without validity enforcement so that invalid
// features reach the repair gate instead of failing the layer; a feature
// whose JSON cannot be decoded at all is dropped with a warning. Only a
// malformed collection envelope is an error. Caller must hold the mutex.
func (l *DirLoader) parseCollection(layerID string, data []byte) ([]rawFeature, error) {
	var coll struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, err
	}

	raws := make([]rawFeature, 0, len(coll.Features))
	for i, rawJSON := range coll.Features {
		var env struct {
			ID         any             `json:"id"`
			Geometry   json.RawMessage `json:"geometry"`
			Properties map[string]any  `json:"properties"`
		}
		if err := json.Unmarshal(rawJSON, &env); err != nil {
			l.warn(partition.Warning{
				Code:      partition.WarnGeometryInvalid,
				FeatureID: fmt.Sprintf("%s-%d", layerID, i),
				Layer:     layerID,
				Detail:    fmt.Sprintf("malformed feature: %v", err),
			})
			continue
		}
		if len(env.Geometry) == 0 || string(env.Geometry) == "null" {
			l.warn(partition.Warning{
				Code:      partition.WarnGeometryInvalid,
				FeatureID: featureID(layerID, env.ID, i),
				Layer:     layerID,
				Detail:    "feature has no geometry",
			})
			continue
		}
		g, err := geom.UnmarshalGeoJSON(env.Geometry, geom.NoValidate{})
		if err != nil {
			l.warn(partition.Warning{
				Code:      partition.WarnGeometryInvalid,
				FeatureID: featureID(layerID, env.ID, i),
				Layer:     layerID,
				Detail:    fmt.Sprintf("parse geometry: %v", err),
			})
			continue
		}
		raws = append(raws, rawFeature{
			Pos:        i,
			ID:         env.ID,
			Geometry:   g,
			Properties: env.Properties,
		})
	}
	return raws, nil
}

// convert turns decoded features into clipped source features. Caller
// must hold the mutex (for warning accumulation).
func (l *DirLoader) convert(layerID string, raws []rawFeature) []partition.SourceFeature {
	polys := make([]geometry.Polygonal, len(raws))
	tree := rtreego.NewTree(2, 4, 8)

	for i, raw := range raws {
		id := featureID(layerID, raw.ID, raw.Pos)

		p, err := geometry.FromGeometry(raw.Geometry)
		if err != nil {
			if errors.Is(err, geometry.ErrNonPolygonal) {
				l.warn(partition.Warning{
					Code:      partition.WarnNonPolygonalInput,
					FeatureID: id,
					Layer:     layerID,
					Detail:    fmt.Sprintf("dropped %s geometry", raw.Geometry.Type()),
				})
				continue
			}
			l.warn(partition.Warning{
				Code:      partition.WarnGeometryInvalid,
				FeatureID: id,
				Layer:     layerID,
				Detail:    err.Error(),
			})
			continue
		}

		p, err = geometry.Canonicalize(p)
		if err != nil {
			l.warn(partition.Warning{
				Code:      partition.WarnGeometryInvalid,
				FeatureID: id,
				Layer:     layerID,
				Detail:    err.Error(),
			})
			continue
		}
		if p.IsEmpty() {
			continue
		}

		polys[i] = p
		if rect, ok := geometry.Rect(p); ok {
			tree.Insert(&featureCandidate{rect: rect, pos: i})
		}
	}

	aoiRect, ok := geometry.Rect(l.aoi)
	if !ok {
		return nil
	}

	var feats []partition.SourceFeature
	for _, hit := range tree.SearchIntersect(aoiRect) {
		pos := hit.(*featureCandidate).pos
		raw := raws[pos]
		id := featureID(layerID, raw.ID, raw.Pos)

		clipped, err := polys[pos].Intersection(l.aoi)
		if err != nil {
			l.warn(partition.Warning{
				Code:      partition.WarnGeometryInvalid,
				FeatureID: id,
				Layer:     layerID,
				Detail:    fmt.Sprintf("clip to area of interest: %v", err),
			})
			continue
		}
		if clipped.IsEmpty() {
			continue
		}

		feats = append(feats, partition.SourceFeature{
			ID:       id,
			Layer:    layerID,
			Geometry: clipped,
			Attrs:    attrStrings(raw.Properties),
		})
	}

	// R-tree search order is unspecified; sort so step reports list
	// features deterministically.
	sort.Slice(feats, func(i, j int) bool { return feats[i].ID < feats[j].ID })

	slog.Info("layer loaded",
		"layer", layerID,
		"raw_features", len(raws),
		"clipped_features", len(feats),
	)
	return feats
}

func (l *DirLoader) warn(w partition.Warning) {
	l.warnings = append(l.warnings, w)
	slog.Warn("feature dropped at load",
		"code", string(w.Code),
		"layer", w.Layer,
		"feature_id", w.FeatureID,
		"detail", w.Detail,
	)
}

// featureID derives a stable id: the GeoJSON feature id when present,
// otherwise the layer id plus the feature's position in the file.
func featureID(layerID string, raw any, pos int) string {
	switch v := raw.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%s-%d", layerID, int64(v))
	}
	return fmt.Sprintf("%s-%d", layerID, pos)
}

// attrStrings flattens GeoJSON properties to the string attribute map
// the rule table filters on. Nested objects and nulls are skipped.
func attrStrings(props map[string]any) map[string]string {
	if len(props) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case string:
			attrs[k] = t
		case float64:
			if t == float64(int64(t)) {
				attrs[k] = fmt.Sprintf("%d", int64(t))
			} else {
				attrs[k] = fmt.Sprintf("%g", t)
			}
		case bool:
			attrs[k] = fmt.Sprintf("%t", t)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
