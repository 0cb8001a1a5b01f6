// Package layers supplies source features to the classification engine.
//
// Two loaders are provided: MemoryLoader for embedding and tests, and
// DirLoader, which reads one GeoJSON file per layer from a directory and
// clips features to the area of interest at load time. Non-polygonal
// geometry never crosses this boundary; it is dropped with a recorded
// warning so the engine only ever sees areal input.
package layers

import (
	"fmt"
	"sort"

	"github.com/daanvh/publicspace/internal/partition"
)

// MemoryLoader serves features from an in-memory map keyed by layer id.
type MemoryLoader struct {
	features map[string][]partition.SourceFeature
}

// NewMemoryLoader creates an empty loader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{features: make(map[string][]partition.SourceFeature)}
}

// Add registers features under their own Layer field.
func (l *MemoryLoader) Add(feats ...partition.SourceFeature) {
	for _, f := range feats {
		l.features[f.Layer] = append(l.features[f.Layer], f)
	}
}

// GetFeatures returns the features registered for a layer. An unknown
// layer id is an error, not an empty slice: an empty layer must be
// registered explicitly so a typo in a rule table cannot silently
// classify nothing.
func (l *MemoryLoader) GetFeatures(layerID string) ([]partition.SourceFeature, error) {
	feats, ok := l.features[layerID]
	if !ok {
		return nil, fmt.Errorf("layer %q not registered", layerID)
	}
	out := make([]partition.SourceFeature, len(feats))
	copy(out, feats)
	return out, nil
}

// Layers returns the registered layer ids in sorted order.
func (l *MemoryLoader) Layers() []string {
	ids := make([]string, 0, len(l.features))
	for id := range l.features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
