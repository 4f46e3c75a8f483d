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
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// SourceError is returned when the input container is malformed, a declared
// dimension is inconsistent, a requested variable does not exist, or a slice
// index is out of range.
type SourceError struct {
	Path     string // input file, if known
	Variable string // variable involved, if any
	Err      error
}

func (e *SourceError) Error() string {
	s := "regimes: array source"
	if e.Path != "" {
		s += " " + e.Path
	}
	if e.Variable != "" {
		s += fmt.Sprintf(": variable %s", e.Variable)
	}
	return fmt.Sprintf("%s: %v", s, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Dataset provides read-only access to the named multidimensional variables
// in a NetCDF file, along with their shapes, dimension names, coordinate
// arrays, and fill values. It is safe for concurrent readers.
type Dataset struct {
	path string
	f    *cdf.File
	ff   *os.File
	size int64

	dims map[string]int
	vars []string
}

// OpenDataset opens the NetCDF file at path. The returned Dataset holds the
// file handle until Close is called.
func OpenDataset(path string) (*Dataset, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	fi, err := ff.Stat()
	if err != nil {
		ff.Close()
		return nil, &SourceError{Path: path, Err: err}
	}
	d, err := NewDataset(ff, fi.Size())
	if err != nil {
		ff.Close()
		if se, ok := err.(*SourceError); ok {
			se.Path = path
		}
		return nil, err
	}
	d.path = path
	d.ff = ff
	return d, nil
}

// NewDataset wraps an already-open NetCDF reader. size is the total size of
// the underlying file in bytes; it is needed to resolve the length of the
// record dimension.
func NewDataset(rw cdf.ReaderWriterAt, size int64) (*Dataset, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, &SourceError{Err: fmt.Errorf("reading header: %v", err)}
	}
	d := &Dataset{f: f, size: size, dims: make(map[string]int)}
	for _, v := range f.Header.Variables() {
		d.vars = append(d.vars, v)
		dims := f.Header.Dimensions(v)
		lengths := f.Header.Lengths(v)
		if len(dims) != len(lengths) {
			return nil, &SourceError{Variable: v,
				Err: fmt.Errorf("rank mismatch: %d dimensions but %d lengths", len(dims), len(lengths))}
		}
		for i, dim := range dims {
			l := lengths[i]
			if l == 0 { // record dimension
				l = int(f.Header.NumRecs(size))
			}
			if prev, ok := d.dims[dim]; ok && prev != l {
				return nil, &SourceError{Variable: v,
					Err: fmt.Errorf("inconsistent length for dimension %s: %d != %d", dim, l, prev)}
			}
			d.dims[dim] = l
		}
	}
	// A coordinate variable must match the length of its dimension.
	for _, v := range d.vars {
		dims := f.Header.Dimensions(v)
		if len(dims) == 1 && dims[0] == v {
			if l := d.lengthOf(v, 0); l != d.dims[v] {
				return nil, &SourceError{Variable: v,
					Err: fmt.Errorf("coordinate length %d does not match dimension length %d", l, d.dims[v])}
			}
		}
	}
	return d, nil
}

// Close releases the underlying file handle.
func (d *Dataset) Close() error {
	if d.ff == nil {
		return nil
	}
	return d.ff.Close()
}

// Path returns the location the Dataset was opened from, if known.
func (d *Dataset) Path() string { return d.path }

// Variables returns the names of all variables in the file, in declaration
// order, including coordinate variables.
func (d *Dataset) Variables() []string {
	o := make([]string, len(d.vars))
	copy(o, d.vars)
	return o
}

// HasVariable reports whether v exists in the file.
func (d *Dataset) HasVariable(v string) bool {
	for _, vv := range d.vars {
		if vv == v {
			return true
		}
	}
	return false
}

// Dims returns the ordered dimension names of variable v, or nil if v does
// not exist.
func (d *Dataset) Dims(v string) []string {
	if !d.HasVariable(v) {
		return nil
	}
	return d.f.Header.Dimensions(v)
}

// Shape returns the lengths of the dimensions of variable v, with the record
// dimension resolved to its actual length, or nil if v does not exist.
func (d *Dataset) Shape(v string) []int {
	if !d.HasVariable(v) {
		return nil
	}
	lengths := d.f.Header.Lengths(v)
	o := make([]int, len(lengths))
	for i, l := range lengths {
		o[i] = l
		if l == 0 {
			o[i] = d.lengthOf(v, i)
		}
	}
	return o
}

// lengthOf resolves the length of axis i of variable v, including record
// dimensions.
func (d *Dataset) lengthOf(v string, i int) int {
	l := d.f.Header.Lengths(v)[i]
	if l == 0 {
		l = int(d.f.Header.NumRecs(d.size))
	}
	return l
}

// Len returns the declared length of the named dimension.
func (d *Dataset) Len(dim string) (int, error) {
	l, ok := d.dims[dim]
	if !ok {
		return 0, &SourceError{Path: d.path, Err: fmt.Errorf("unknown dimension %s", dim)}
	}
	return l, nil
}

// Attr returns the value of attribute a of variable v, or nil if it does
// not exist. Pass an empty variable name for global attributes.
func (d *Dataset) Attr(v, a string) interface{} {
	return d.f.Header.GetAttribute(v, a)
}

// AttrString returns the value of character attribute a of variable v, or ""
// if the attribute is missing or not text.
func (d *Dataset) AttrString(v, a string) string {
	if s, ok := d.Attr(v, a).(string); ok {
		return s
	}
	return ""
}

// FillValue returns the fill or missing-value marker declared for variable v
// through the _FillValue or missing_value attributes, and whether one exists.
func (d *Dataset) FillValue(v string) (float64, bool) {
	for _, a := range []string{"_FillValue", "missing_value"} {
		if val, ok := attrFloat(d.Attr(v, a)); ok {
			return val, true
		}
	}
	return 0, false
}

func attrFloat(val interface{}) (float64, bool) {
	switch t := val.(type) {
	case []float64:
		if len(t) > 0 {
			return t[0], true
		}
	case []float32:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	case []int32:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	case []int16:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	}
	return 0, false
}

// Coords returns the coordinate values of the named dimension. If the file
// declares no coordinate variable for the dimension, integer indices
// 0..n-1 are returned.
func (d *Dataset) Coords(dim string) ([]float64, error) {
	n, err := d.Len(dim)
	if err != nil {
		return nil, err
	}
	if !d.HasVariable(dim) {
		o := make([]float64, n)
		for i := range o {
			o[i] = float64(i)
		}
		return o, nil
	}
	arr, err := d.readFull(dim)
	if err != nil {
		return nil, err
	}
	if len(arr.Elements) != n {
		return nil, &SourceError{Path: d.path, Variable: dim,
			Err: fmt.Errorf("coordinate length %d does not match dimension length %d", len(arr.Elements), n)}
	}
	return arr.Elements, nil
}

// ReadSlice reads the slice of variable v in which dimension dim is pinned
// to index. The returned array has the shape of v with dim removed; a
// variable whose only dimension is dim yields a single-element array.
// When dim is the leading axis the read is a single contiguous slab;
// otherwise the whole variable is read and subset.
func (d *Dataset) ReadSlice(v, dim string, index int) (*sparse.DenseArray, error) {
	if !d.HasVariable(v) {
		return nil, &SourceError{Path: d.path, Variable: v, Err: fmt.Errorf("no such variable")}
	}
	dims := d.f.Header.Dimensions(v)
	pos := -1
	for i, dd := range dims {
		if dd == dim {
			pos = i
		}
	}
	if pos < 0 {
		return nil, &SourceError{Path: d.path, Variable: v,
			Err: fmt.Errorf("variable does not have dimension %s", dim)}
	}
	shape := d.Shape(v)
	if index < 0 || index >= shape[pos] {
		return nil, &SourceError{Path: d.path, Variable: v,
			Err: fmt.Errorf("index %d out of range for dimension %s (length %d)", index, dim, shape[pos])}
	}
	outDims := make([]int, 0, len(shape)-1)
	nread := 1
	for i, l := range shape {
		if i == pos {
			continue
		}
		outDims = append(outDims, l)
		nread *= l
	}
	if len(outDims) == 0 {
		outDims = []int{1}
	}

	if pos == 0 {
		start, end := make([]int, len(shape)), make([]int, len(shape))
		start[0], end[0] = index, index+1
		r := d.f.Reader(v, start, end)
		buf := r.Zero(nread)
		if _, err := r.Read(buf); err != nil {
			return nil, &SourceError{Path: d.path, Variable: v, Err: err}
		}
		data := sparse.ZerosDense(outDims...)
		if err := copyBuf(data, buf); err != nil {
			return nil, &SourceError{Path: d.path, Variable: v, Err: err}
		}
		return data, nil
	}

	full, err := d.readFull(v)
	if err != nil {
		return nil, err
	}
	data := sparse.ZerosDense(outDims...)
	// Stride arithmetic: elements where axis pos equals index appear every
	// inner elements, in runs of inner, offset by index*inner.
	inner := 1
	for i := pos + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	var j int
	for outerStart := index * inner; outerStart < len(full.Elements); outerStart += inner * shape[pos] {
		for i := 0; i < inner; i++ {
			data.Elements[j] = full.Elements[outerStart+i]
			j++
		}
	}
	return data, nil
}

// readFull reads all of variable v into a dense array.
func (d *Dataset) readFull(v string) (*sparse.DenseArray, error) {
	shape := d.Shape(v)
	nread := 1
	for _, l := range shape {
		nread *= l
	}
	var start, end []int
	if d.f.Header.IsRecordVariable(v) {
		start, end = make([]int, len(shape)), make([]int, len(shape))
		end[0] = shape[0]
	}
	r := d.f.Reader(v, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, &SourceError{Path: d.path, Variable: v, Err: err}
	}
	data := sparse.ZerosDense(shape...)
	if err := copyBuf(data, buf); err != nil {
		return nil, &SourceError{Path: d.path, Variable: v, Err: err}
	}
	return data, nil
}

func copyBuf(data *sparse.DenseArray, buf interface{}) error {
	switch t := buf.(type) {
	case []float64:
		copy(data.Elements, t)
	case []float32:
		for i, val := range t {
			data.Elements[i] = float64(val)
		}
	case []int32:
		for i, val := range t {
			data.Elements[i] = float64(val)
		}
	case []int16:
		for i, val := range t {
			data.Elements[i] = float64(val)
		}
	case []uint8:
		for i, val := range t {
			data.Elements[i] = float64(val)
		}
	default:
		return fmt.Errorf("unsupported data type %T", buf)
	}
	return nil
}
