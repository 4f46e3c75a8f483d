/*
Copyright © 2018 the Regimes authors.
This file is part of Regimes.

Regimes is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Regimes is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Regimes.  If not, see <http://www.gnu.org/licenses/>.
*/

package regimes

import (
	"fmt"
	"math"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
)

// ReductionMode specifies how the extra axes of a variable are collapsed to
// a single scalar per reduction unit.
type ReductionMode int

const (
	// RawScalar requires the variable to already be scalar per unit.
	RawScalar ReductionMode = iota
	// Mean averages over the remaining axes.
	Mean
	// Variance takes the population variance over the remaining axes.
	Variance
	// Min takes the minimum over the remaining axes.
	Min
	// Max takes the maximum over the remaining axes.
	Max
)

var reductionModeNames = map[ReductionMode]string{
	RawScalar: "raw-scalar",
	Mean:      "mean",
	Variance:  "variance",
	Min:       "min",
	Max:       "max",
}

func (m ReductionMode) String() string {
	if s, ok := reductionModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("ReductionMode(%d)", int(m))
}

// ParseReductionMode converts a mode name to a ReductionMode.
func ParseReductionMode(s string) (ReductionMode, error) {
	for m, name := range reductionModeNames {
		if s == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("regimes: invalid reduction mode %q (choices are raw-scalar, mean, variance, min, and max)", s)
}

// A FeatureSpec describes one component of the feature vectors to be
// extracted: either a source Variable collapsed with a ReductionMode, or a
// derived component computed by Expr, an expression over the values of the
// variable components that precede it (for example "temperature - 273.15").
type FeatureSpec struct {
	Variable string
	Mode     ReductionMode
	Name     string // component name; defaults to Variable
	Expr     string // derived-component expression; Variable and Mode are ignored when set
}

// A Feature is the feature vector extracted from one reduction unit, plus
// the unit's index and coordinate value along the unit axis. Err is non-nil
// when extraction failed for this unit; such units are excluded from
// clustering but still appear in the output table.
type Feature struct {
	Unit   int
	Coord  float64
	Values []float64
	Err    error
}

// featureCol is one resolved output component.
type featureCol struct {
	name     string
	variable string
	mode     ReductionMode
	fill     float64
	hasFill  bool
	expr     *govaluate.EvaluableExpression
}

// An Extractor produces one Feature per unit along the unit axis of a
// Dataset. The variable list and reduction modes are resolved once at
// construction; extraction itself is stateless and safe to call from
// concurrent workers.
type Extractor struct {
	ds      *Dataset
	unitDim string
	n       int
	coords  []float64
	cols    []featureCol
}

// NewExtractor prepares feature extraction over ds along unit dimension
// unitDim. Every variable named in specs must exist and have unitDim among
// its dimensions; a RawScalar variable must have no other axes.
func NewExtractor(ds *Dataset, unitDim string, specs []FeatureSpec) (*Extractor, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("regimes: no feature variables specified")
	}
	n, err := ds.Len(unitDim)
	if err != nil {
		return nil, err
	}
	coords, err := ds.Coords(unitDim)
	if err != nil {
		return nil, err
	}
	ex := &Extractor{ds: ds, unitDim: unitDim, n: n, coords: coords}
	names := make(map[string]bool)
	for _, spec := range specs {
		col := featureCol{name: spec.Name}
		if spec.Expr != "" {
			if col.name == "" {
				return nil, fmt.Errorf("regimes: derived feature %q has no name", spec.Expr)
			}
			col.expr, err = govaluate.NewEvaluableExpression(spec.Expr)
			if err != nil {
				return nil, fmt.Errorf("regimes: parsing expression for feature %s: %v", col.name, err)
			}
		} else {
			if col.name == "" {
				col.name = spec.Variable
			}
			col.variable = spec.Variable
			col.mode = spec.Mode
			if !ds.HasVariable(spec.Variable) {
				return nil, &SourceError{Path: ds.Path(), Variable: spec.Variable, Err: fmt.Errorf("no such variable")}
			}
			var hasUnit bool
			extra := 1
			for i, dim := range ds.Dims(spec.Variable) {
				if dim == unitDim {
					hasUnit = true
				} else {
					extra *= ds.Shape(spec.Variable)[i]
				}
			}
			if !hasUnit {
				return nil, &SourceError{Path: ds.Path(), Variable: spec.Variable,
					Err: fmt.Errorf("variable does not have unit dimension %s", unitDim)}
			}
			if spec.Mode == RawScalar && extra != 1 {
				return nil, fmt.Errorf("regimes: variable %s is not scalar per %s (%d values per unit); choose a reduction mode",
					spec.Variable, unitDim, extra)
			}
			col.fill, col.hasFill = ds.FillValue(spec.Variable)
		}
		if names[col.name] {
			return nil, fmt.Errorf("regimes: duplicate feature name %s", col.name)
		}
		names[col.name] = true
		ex.cols = append(ex.cols, col)
	}
	return ex, nil
}

// NumUnits returns the length of the unit axis.
func (ex *Extractor) NumUnits() int { return ex.n }

// FeatureLen returns the number of components in each feature vector.
func (ex *Extractor) FeatureLen() int { return len(ex.cols) }

// Names returns the ordered component names of the feature vectors.
func (ex *Extractor) Names() []string {
	o := make([]string, len(ex.cols))
	for i, c := range ex.cols {
		o[i] = c.name
	}
	return o
}

// UnitDim returns the name of the unit dimension.
func (ex *Extractor) UnitDim() string { return ex.unitDim }

// Coord returns the coordinate value of unit i along the unit axis.
func (ex *Extractor) Coord(i int) float64 { return ex.coords[i] }

// ExtractUnit extracts the feature vector for unit i. Failures are recorded
// on the returned Feature rather than aborting: a read error, an all-missing
// slice, or an expression evaluation error marks the unit invalid.
func (ex *Extractor) ExtractUnit(i int) Feature {
	f := Feature{Unit: i}
	if i < 0 || i >= ex.n {
		f.Err = &SourceError{Path: ex.ds.Path(),
			Err: fmt.Errorf("unit index %d out of range [0,%d)", i, ex.n)}
		return f
	}
	f.Coord = ex.coords[i]
	f.Values = make([]float64, len(ex.cols))
	params := make(map[string]interface{}, len(ex.cols))
	for j, col := range ex.cols {
		if col.expr != nil {
			result, err := col.expr.Evaluate(params)
			if err != nil {
				f.Err = fmt.Errorf("regimes: evaluating feature %s for unit %d: %v", col.name, i, err)
				return f
			}
			v, ok := result.(float64)
			if !ok {
				f.Err = fmt.Errorf("regimes: feature %s for unit %d is %T, not a number", col.name, i, result)
				return f
			}
			f.Values[j] = v
			params[col.name] = v
			continue
		}
		arr, err := ex.ds.ReadSlice(col.variable, ex.unitDim, i)
		if err != nil {
			f.Err = err
			return f
		}
		v, err := reduce(arr, col.fill, col.hasFill, col.mode)
		if err != nil {
			f.Err = fmt.Errorf("regimes: reducing %s for unit %d: %v", col.name, i, err)
			return f
		}
		f.Values[j] = v
		params[col.name] = v
	}
	return f
}

// reduce collapses a unit slice to a scalar, skipping fill and NaN cells.
func reduce(arr *sparse.DenseArray, fill float64, hasFill bool, mode ReductionMode) (float64, error) {
	var d stats.Stats
	for _, v := range arr.Elements {
		if math.IsNaN(v) || (hasFill && v == fill) {
			continue
		}
		d.Update(v)
	}
	if d.Count() == 0 {
		return math.NaN(), fmt.Errorf("all %d values are missing", len(arr.Elements))
	}
	switch mode {
	case RawScalar:
		if len(arr.Elements) != 1 {
			return math.NaN(), fmt.Errorf("%d values where 1 was expected", len(arr.Elements))
		}
		return arr.Elements[0], nil
	case Mean:
		return d.Mean(), nil
	case Variance:
		return d.PopulationVariance(), nil
	case Min:
		return d.Min(), nil
	case Max:
		return d.Max(), nil
	}
	return math.NaN(), fmt.Errorf("invalid reduction mode %v", mode)
}

// A Normalization holds the per-component statistics used to rescale
// feature vectors to zero mean and unit standard deviation. Components with
// zero variance are flagged constant, left unscaled, and excluded from
// distance computations during clustering.
type Normalization struct {
	Mean     []float64
	Std      []float64
	Constant []bool
}

// ComputeNormalization calculates per-component statistics over the valid
// features in feats.
func ComputeNormalization(feats []Feature) *Normalization {
	var ncols int
	for _, f := range feats {
		if f.Err == nil {
			ncols = len(f.Values)
			break
		}
	}
	d := make([]stats.Stats, ncols)
	for _, f := range feats {
		if f.Err != nil {
			continue
		}
		for j, v := range f.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			d[j].Update(v)
		}
	}
	norm := &Normalization{
		Mean:     make([]float64, ncols),
		Std:      make([]float64, ncols),
		Constant: make([]bool, ncols),
	}
	for j := range d {
		norm.Mean[j] = d[j].Mean()
		norm.Std[j] = d[j].SampleStandardDeviation()
		if d[j].Count() < 2 || norm.Std[j] == 0 || math.IsNaN(norm.Std[j]) {
			norm.Constant[j] = true
		}
	}
	return norm
}

// Apply rescales the values of f in place. Constant components are left
// untouched.
func (norm *Normalization) Apply(f Feature) {
	if f.Err != nil {
		return
	}
	for j, v := range f.Values {
		if norm.Constant[j] {
			continue
		}
		f.Values[j] = (v - norm.Mean[j]) / norm.Std[j]
	}
}

// ActiveComponents returns the indices of the non-constant components, which
// are the ones that contribute to clustering distances. A nil receiver
// means all components are active.
func (norm *Normalization) ActiveComponents() []int {
	var active []int
	for j, c := range norm.Constant {
		if !c {
			active = append(active, j)
		}
	}
	return active
}

// finite reports whether every component of a valid feature vector is
// finite.
func (f Feature) finite() bool {
	if f.Err != nil {
		return false
	}
	for _, v := range f.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
