package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoldenScenarios(t *testing.T) {
	names := []string{
		"ordered_overlap",
		"reversed_overlap",
		"attribute_mapping",
		"filtered_roads",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, loadTestScenario(t, name)))
		})
	}
}
