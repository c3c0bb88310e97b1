package cube

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"fitscube/internal/models"
)

// spacingTolerance is the absolute spread of consecutive differences below
// which an axis-value sequence counts as evenly spaced, matching the Hz-scale
// tolerance of typical channelized radio data.
const spacingTolerance = 1e-6

// AxisOverride selects one of the mutually exclusive ways to supersede
// per-file axis-value derivation. The variants are consumed exclusively by
// the axis resolver; downstream stages never see how the sequence was
// produced.
type AxisOverride interface {
	axisOverride()
}

// ValueList supplies one explicit axis value per input file, in file order.
type ValueList []float64

func (ValueList) axisOverride() {}

// ValueFile names a text file with one axis value per line. Blank lines and
// lines starting with '#' are skipped.
type ValueFile string

func (ValueFile) axisOverride() {}

// IgnoreAxis discards axis information entirely; planes are stacked in the
// given order and the output gets a placeholder channel axis.
type IgnoreAxis struct{}

func (IgnoreAxis) axisOverride() {}

// Synthesize produces Count evenly spaced values starting at Start with the
// given Step. This is the blank-cube allocation path, which has no
// corresponding input files.
type Synthesize struct {
	Count int
	Start float64
	Step  float64
}

func (Synthesize) axisOverride() {}

// axisResolution is the resolver's output: the full ordered axis-value
// sequence (one per output channel) and the slot each input file writes to.
// In the plain path Slots is the identity mapping; in blank-cube mode the
// sequence can be longer than the file list, with unmatched slots left at
// the sentinel.
type axisResolution struct {
	Values []models.AxisValue
	Slots  []int
}

// extractStrategy is one way to pull a candidate axis value out of a file's
// metadata. Strategies are tried in order; the first to succeed wins.
// Keeping them as an explicit list lets new keywords slot in without
// restructuring the resolver.
type extractStrategy struct {
	name    string
	extract func(d *models.ImageDescriptor, kind AxisKind) (float64, bool)
}

var extractStrategies = []extractStrategy{
	{
		// A dedicated coordinate axis is authoritative: take the world value
		// of its first pixel.
		name: "wcs-axis",
		extract: func(d *models.ImageDescriptor, kind AxisKind) (float64, bool) {
			idx := d.WCS.AxisIndexByType(kind.CType)
			if idx < 0 {
				return 0, false
			}
			return d.WCS.Axes[idx].WorldAt(0), true
		},
	},
	{
		// Fall back to a single representative value in a header keyword.
		name: "header-keyword",
		extract: func(d *models.ImageDescriptor, kind AxisKind) (float64, bool) {
			v, err := d.Header.Float(kind.Keyword)
			if err != nil {
				return 0, false
			}
			return v, true
		},
	},
}

// resolveAxis produces the ordered stacking-axis values for a run. An
// override supersedes per-file derivation entirely; otherwise each file's
// metadata is consulted through the strategy list. With createBlanks set, the
// derived per-file values are regridded onto an evenly spaced sequence and
// files are assigned to their nearest grid slot.
func resolveAxis(log *zap.SugaredLogger, descs []*models.ImageDescriptor, override AxisOverride, kind AxisKind, createBlanks bool) (*axisResolution, error) {
	nFiles := len(descs)

	var fileVals []models.AxisValue
	switch ov := override.(type) {
	case nil:
		derived, err := deriveFileValues(log, descs, kind)
		if err != nil {
			return nil, err
		}
		fileVals = derived

	case IgnoreAxis:
		log.Infow("ignoring axis information; stacking planes in the given order")
		res := &axisResolution{Values: make([]models.AxisValue, nFiles), Slots: identity(nFiles)}
		for i := range res.Values {
			res.Values[i] = models.AxisValue{Value: float64(i), Source: models.SourceIgnored}
		}
		return res, nil

	case ValueList:
		if len(ov) != nFiles {
			return nil, &AxisCountMismatchError{Want: nFiles, Got: len(ov), Source: "value list"}
		}
		fileVals = tagValues(ov, models.SourceUserList)

	case ValueFile:
		vals, err := readValueFile(string(ov))
		if err != nil {
			return nil, err
		}
		if len(vals) != nFiles {
			return nil, &AxisCountMismatchError{Want: nFiles, Got: len(vals), Source: string(ov)}
		}
		log.Infow("read axis values from file", "path", string(ov), "count", len(vals))
		fileVals = tagValues(vals, models.SourceUserFile)

	case Synthesize:
		if ov.Count < 1 {
			return nil, fmt.Errorf("synthesized axis needs a positive count, got %d", ov.Count)
		}
		if nFiles > 0 && ov.Count != nFiles {
			return nil, &AxisCountMismatchError{Want: nFiles, Got: ov.Count, Source: "synthesized sequence"}
		}
		vals := make([]models.AxisValue, ov.Count)
		for i := range vals {
			vals[i] = models.AxisValue{Value: ov.Start + float64(i)*ov.Step, Source: models.SourceSynthetic}
		}
		return &axisResolution{Values: vals, Slots: identity(nFiles)}, nil

	default:
		return nil, fmt.Errorf("unknown axis override %T", override)
	}

	checkOrdering(log, fileVals, kind)

	if createBlanks && nFiles > 1 {
		return regridEven(log, fileVals)
	}
	return &axisResolution{Values: fileVals, Slots: identity(nFiles)}, nil
}

// deriveFileValues extracts one axis value per file through the strategy
// list, failing with MissingAxisInfoError when no strategy applies.
func deriveFileValues(log *zap.SugaredLogger, descs []*models.ImageDescriptor, kind AxisKind) ([]models.AxisValue, error) {
	vals := make([]models.AxisValue, len(descs))
	for i, d := range descs {
		found := false
		for _, s := range extractStrategies {
			if v, ok := s.extract(d, kind); ok {
				source := models.SourceWCSAxis
				if s.name == "header-keyword" {
					source = models.SourceHeaderKeyword
				}
				vals[i] = models.AxisValue{Value: v, Source: source}
				log.Debugw("derived axis value", "path", d.Path, "value", v, "source", source.String())
				found = true
				break
			}
		}
		if !found {
			return nil, &MissingAxisInfoError{Path: d.Path, Keyword: kind.Keyword}
		}
	}
	return vals, nil
}

// checkOrdering flags non-monotonic and non-uniform sequences. Neither is
// fatal: the output axis step is taken from the first two values and is only
// exact when the spacing is uniform, since the linear WCS model cannot
// represent anything else.
func checkOrdering(log *zap.SugaredLogger, vals []models.AxisValue, kind AxisKind) {
	if len(vals) < 2 {
		return
	}
	diffs := make([]float64, len(vals)-1)
	for i := range diffs {
		diffs[i] = vals[i+1].Value - vals[i].Value
	}
	ascending, descending := true, true
	for _, d := range diffs {
		if d <= 0 {
			ascending = false
		}
		if d >= 0 {
			descending = false
		}
	}
	if !ascending && !descending {
		log.Warnw("axis values are not monotonic; planes are stacked in the given order",
			"axis", kind.CType)
	}
	if len(diffs) > 1 && stat.StdDev(diffs, nil) > spacingTolerance {
		log.Warnw("axis values are not evenly spaced; the output axis step is a linear approximation from the first two values",
			"axis", kind.CType)
	}
}

// regridEven replaces the derived values with an evenly spaced grid spanning
// their range at the smallest observed spacing, and maps each file to its
// nearest grid slot. Slots with no file stay at the no-data sentinel.
func regridEven(log *zap.SugaredLogger, fileVals []models.AxisValue) (*axisResolution, error) {
	raw := make([]float64, len(fileVals))
	for i, v := range fileVals {
		raw[i] = v.Value
	}
	sorted := append([]float64(nil), raw...)
	sort.Float64s(sorted)

	step := math.Inf(1)
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 && d < step {
			step = d
		}
	}
	if math.IsInf(step, 1) {
		return nil, fmt.Errorf("cannot regrid: axis values are all identical")
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	nsteps := math.Round((hi - lo) / step)
	if math.Abs((hi-lo)-nsteps*step) > step*1e-6 {
		return nil, fmt.Errorf("axis range %g does not fit an even grid with step %g", hi-lo, step)
	}
	count := int(nsteps) + 1
	grid := floats.Span(make([]float64, count), lo, hi)

	slots := make([]int, len(raw))
	taken := make(map[int]string, len(raw))
	for i, v := range raw {
		slot := int(math.Round((v - lo) / step))
		if slot < 0 || slot >= count || math.Abs(grid[slot]-v) > step/2 {
			return nil, fmt.Errorf("axis value %g does not land on the even grid (start %g, step %g)", v, lo, step)
		}
		if prev, ok := taken[slot]; ok {
			return nil, fmt.Errorf("axis values %s and %s map to the same grid slot %d", prev, fmt.Sprintf("%g", v), slot)
		}
		taken[slot] = fmt.Sprintf("%g", v)
		slots[i] = slot
	}
	log.Infow("regridded axis values onto an even grid",
		"channels", count, "start", lo, "step", step, "blank", count-len(raw))

	vals := make([]models.AxisValue, count)
	for i, g := range grid {
		vals[i] = models.AxisValue{Value: g, Source: models.SourceSynthetic}
	}
	return &axisResolution{Values: vals, Slots: slots}, nil
}

// readValueFile loads one scalar per line from a text file.
func readValueFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading axis values: %w", err)
	}
	defer f.Close()

	var vals []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad axis value %q: %v", path, line, err)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vals, nil
}

func tagValues(vals []float64, source models.AxisSource) []models.AxisValue {
	out := make([]models.AxisValue, len(vals))
	for i, v := range vals {
		out[i] = models.AxisValue{Value: v, Source: source}
	}
	return out
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
