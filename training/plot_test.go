package training

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteGraphs(t *testing.T) {
	path := filepath.Join(t.TempDir(), GraphsFile)

	err := WriteGraphs(path,
		[]float64{1.2, 0.9, 0.7},
		[]float64{1.3, 1.0, 0.8},
		[]float64{0.5, 0.6, 0.7},
		[]float64{0.5, 0.55, 0.65})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, raw[:4], "output is a PNG")
}

func TestWriteGraphsSingleEpoch(t *testing.T) {
	path := filepath.Join(t.TempDir(), GraphsFile)
	err := WriteGraphs(path, []float64{1.0}, []float64{1.1}, []float64{0.5}, []float64{0.5})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriteGraphsSkipsNonFiniteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), GraphsFile)

	// Histories from a diverged run still render.
	err := WriteGraphs(path,
		[]float64{1.2, math.Inf(1), math.NaN()},
		[]float64{math.Inf(1), math.Inf(1), math.Inf(1)},
		[]float64{0.5, math.NaN(), 0.5},
		[]float64{0.5, 0.5, math.NaN()})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, raw[:4])
}

func TestWriteGraphsBadPath(t *testing.T) {
	err := WriteGraphs(filepath.Join(t.TempDir(), "missing", GraphsFile),
		[]float64{1}, []float64{1}, []float64{0.5}, []float64{0.5})
	assert.Error(t, err)
}
