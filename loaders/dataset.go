// Package loaders reads the split CSVs and pre-extracted feature vectors a
// run trains on, and batches them for the engine.
package loaders

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bbearce/wsl/config"
)

// debugSampleCap limits dataset size in debug mode so a full epoch stays
// fast enough to smoke-test a configuration.
const debugSampleCap = 64

// Dataset interface defines methods that all datasets must implement.
type Dataset interface {
	Len() int
	Get(idx int) (features, labels []float64, err error)
	InputSize() int
	Classes() int
}

// Loader is the on-disk dataset for one split: sample paths and labels from
// `<csv_dir>/<data>/<split>.csv`, feature vectors from
// `<data_dir>/<data>/<path>.<ext>` as raw little-endian float32.
type Loader struct {
	dir       string
	extension string
	paths     []string
	labels    [][]float64
	inputSize int

	classNames []string
	posWeight  []float64
	labelMin   float64
	labelMax   float64
}

// LoaderSpec selects what NewLoader reads.
type LoaderSpec struct {
	Data       string
	Split      string // "train" or "valid"
	Extension  string
	Classes    int
	Col        string
	Regression bool
	Debug      bool
}

// NewLoader reads the split CSV and validates the first feature file so a
// bad layout fails before training starts. Regression labels are normalized
// to (y - min) / max; the raw min/max are kept for the engine to invert.
func NewLoader(loc config.Locations, spec LoaderSpec) (*Loader, error) {
	csvPath := loc.DatasetCSV(spec.Data, spec.Split)
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open split csv: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", csvPath, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: no samples", csvPath)
	}

	header := records[0]
	pathIdx, labelIdx, classNames, err := resolveColumns(header, spec.Col, spec.Classes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}

	l := &Loader{
		dir:        filepath.Join(loc.DataDir, spec.Data),
		extension:  spec.Extension,
		classNames: classNames,
	}

	for n, rec := range records[1:] {
		if spec.Debug && len(l.paths) >= debugSampleCap {
			break
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%s row %d: %d fields, header has %d", csvPath, n+2, len(rec), len(header))
		}
		labels := make([]float64, len(labelIdx))
		for i, col := range labelIdx {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: bad label %q: %w", csvPath, n+2, rec[col], err)
			}
			labels[i] = v
		}
		l.paths = append(l.paths, rec[pathIdx])
		l.labels = append(l.labels, labels)
	}

	l.computeClassStats()
	if spec.Regression {
		l.normalizeLabels()
	}

	probe, err := l.readFeatures(0)
	if err != nil {
		return nil, fmt.Errorf("probe first sample: %w", err)
	}
	l.inputSize = len(probe)
	return l, nil
}

func resolveColumns(header []string, col string, classes int) (pathIdx int, labelIdx []int, classNames []string, err error) {
	pathIdx = -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "path") {
			pathIdx = i
			break
		}
	}
	if pathIdx == -1 {
		return 0, nil, nil, fmt.Errorf("no path column in header %v", header)
	}

	if classes == 1 {
		for i, h := range header {
			if strings.TrimSpace(h) == col {
				return pathIdx, []int{i}, []string{col}, nil
			}
		}
		return 0, nil, nil, fmt.Errorf("label column %q not found", col)
	}

	prefix := col + "_"
	for i, h := range header {
		h = strings.TrimSpace(h)
		if strings.HasPrefix(h, prefix) {
			labelIdx = append(labelIdx, i)
			classNames = append(classNames, strings.TrimPrefix(h, prefix))
		}
	}
	if len(labelIdx) != classes {
		return 0, nil, nil, fmt.Errorf("found %d %q label columns, config says %d classes", len(labelIdx), prefix, classes)
	}
	return pathIdx, labelIdx, classNames, nil
}

// computeClassStats derives per-class positive weights (negatives over
// positives) and the raw label range.
func (l *Loader) computeClassStats() {
	classes := len(l.labels[0])
	pos := make([]float64, classes)
	total := float64(len(l.labels))

	l.labelMin = math.Inf(1)
	l.labelMax = math.Inf(-1)
	for _, row := range l.labels {
		for c, v := range row {
			if v > 0.5 {
				pos[c]++
			}
			if v < l.labelMin {
				l.labelMin = v
			}
			if v > l.labelMax {
				l.labelMax = v
			}
		}
	}

	l.posWeight = make([]float64, classes)
	for c := range pos {
		if pos[c] == 0 {
			l.posWeight[c] = 1.0
			continue
		}
		l.posWeight[c] = (total - pos[c]) / pos[c]
	}
}

func (l *Loader) normalizeLabels() {
	if l.labelMax == 0 {
		return
	}
	for _, row := range l.labels {
		for c := range row {
			row[c] = (row[c] - l.labelMin) / l.labelMax
		}
	}
}

// readFeatures loads one feature vector file.
func (l *Loader) readFeatures(idx int) ([]float64, error) {
	path := filepath.Join(l.dir, l.paths[idx]+"."+l.extension)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("feature file %s: %d bytes is not a float32 vector", path, len(raw))
	}

	features := make([]float64, len(raw)/4)
	for i := range features {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		features[i] = float64(math.Float32frombits(bits))
	}
	return features, nil
}

// Len returns the number of samples.
func (l *Loader) Len() int { return len(l.paths) }

// InputSize returns the feature vector length.
func (l *Loader) InputSize() int { return l.inputSize }

// Classes returns the number of label columns.
func (l *Loader) Classes() int { return len(l.labels[0]) }

// ClassNames returns the label column names.
func (l *Loader) ClassNames() []string { return l.classNames }

// PosWeight returns the per-class positive weights for balanced training.
func (l *Loader) PosWeight() []float64 { return l.posWeight }

// LabelMin returns the raw label minimum seen in this split.
func (l *Loader) LabelMin() float64 { return l.labelMin }

// LabelMax returns the raw label maximum seen in this split.
func (l *Loader) LabelMax() float64 { return l.labelMax }

// Get returns a single sample.
func (l *Loader) Get(idx int) ([]float64, []float64, error) {
	if idx < 0 || idx >= len(l.paths) {
		return nil, nil, fmt.Errorf("sample index %d out of range [0,%d)", idx, len(l.paths))
	}
	features, err := l.readFeatures(idx)
	if err != nil {
		return nil, nil, err
	}
	if len(features) != l.inputSize {
		return nil, nil, fmt.Errorf("sample %s: %d features, expected %d", l.paths[idx], len(features), l.inputSize)
	}
	return features, l.labels[idx], nil
}
