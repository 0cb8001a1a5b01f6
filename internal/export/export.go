// Package export turns a finished classification into cartographic
// output: per-category regions dissolved into individual polygons and
// written as a GeoJSON FeatureCollection.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// Dissolve explodes a category's region into its constituent polygons.
// The engine keeps each region as one multipolygon; consumers usually
// want one feature per connected area.
func Dissolve(p geometry.Polygonal) []geom.Polygon {
	return p.Polygons()
}

// WriteGeoJSON writes the output map as a FeatureCollection, one feature
// per dissolved polygon, ordered public, private, unassigned and by
// polygon position within each category. Every feature carries its
// category and area as properties.
func WriteGeoJSON(w io.Writer, out partition.OutputMap) error {
	var coll geom.GeoJSONFeatureCollection

	order := append(append([]partition.Category{}, partition.CommitOrder...), partition.CategoryUnassigned)
	for _, cat := range order {
		region, ok := out.Regions[cat]
		if !ok {
			continue
		}
		for i, poly := range Dissolve(region) {
			coll = append(coll, geom.GeoJSONFeature{
				ID:       fmt.Sprintf("%s-%d", cat, i),
				Geometry: poly.AsGeometry(),
				Properties: map[string]any{
					"category": string(cat),
					"area":     poly.Area(),
				},
			})
		}
	}

	data, err := json.Marshal(coll)
	if err != nil {
		return fmt.Errorf("marshal feature collection: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write feature collection: %w", err)
	}
	return nil
}

// WriteGeoJSONFile writes the output map to a file, creating or
// truncating it.
func WriteGeoJSONFile(path string, out partition.OutputMap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer f.Close()

	if err := WriteGeoJSON(f, out); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}

	slog.Info("exported classification",
		"path", path,
		"public_area", out.Area(partition.CategoryPublic),
		"private_area", out.Area(partition.CategoryPrivate),
		"unassigned_area", out.Area(partition.CategoryUnassigned),
	)
	return nil
}
