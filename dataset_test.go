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
	"errors"
	"reflect"
	"testing"
)

func TestOpenDataset(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	wantVars := []string{"time", "temperature", "pressure", "conc", "elevation"}
	if vars := ds.Variables(); !reflect.DeepEqual(vars, wantVars) {
		t.Errorf("variables: %v != %v", vars, wantVars)
	}
	if !ds.HasVariable("conc") || ds.HasVariable("missing") {
		t.Error("HasVariable is wrong")
	}
	if dims := ds.Dims("conc"); !reflect.DeepEqual(dims, []string{"time", "y", "x"}) {
		t.Errorf("conc dimensions: %v", dims)
	}
	if shape := ds.Shape("conc"); !reflect.DeepEqual(shape, []int{3, 2, 3}) {
		t.Errorf("conc shape: %v", shape)
	}
	if n, err := ds.Len("time"); err != nil || n != 3 {
		t.Errorf("time length: %d, %v", n, err)
	}
	if _, err := ds.Len("z"); err == nil {
		t.Error("expected error for unknown dimension")
	}
	if units := ds.AttrString("time", "units"); units != "hours since 2006-01-01 00:00:00" {
		t.Errorf("time units: %q", units)
	}
	if units := ds.AttrString("pressure", "units"); units != "" {
		t.Errorf("pressure units should be empty, not %q", units)
	}
}

func TestDatasetFillValue(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	fill, ok := ds.FillValue("conc")
	if !ok {
		t.Fatal("conc should have a fill value")
	}
	if fill != testFill {
		t.Errorf("conc fill value: %g != %g", fill, testFill)
	}
	if _, ok := ds.FillValue("temperature"); ok {
		t.Error("temperature should not have a fill value")
	}
}

func TestDatasetCoords(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	coords, err := ds.Coords("time")
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{0, 1, 2}; !reflect.DeepEqual(coords, want) {
		t.Errorf("time coordinates: %v != %v", coords, want)
	}

	// y has no coordinate variable, so integer indices are used.
	coords, err = ds.Coords("y")
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{0, 1}; !reflect.DeepEqual(coords, want) {
		t.Errorf("y coordinates: %v != %v", coords, want)
	}

	if _, err := ds.Coords("z"); err == nil {
		t.Error("expected error for unknown dimension")
	}
}

func TestReadSliceLeadingAxis(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	arr, err := ds.ReadSlice("conc", "time", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(arr.Shape, []int{2, 3}) {
		t.Errorf("shape: %v", arr.Shape)
	}
	want := []float64{testFill, 101, 102, 110, 111, 112}
	if !reflect.DeepEqual(arr.Elements, want) {
		t.Errorf("elements: %v != %v", arr.Elements, want)
	}
}

func TestReadSliceInnerAxis(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	arr, err := ds.ReadSlice("conc", "y", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(arr.Shape, []int{3, 3}) {
		t.Errorf("shape: %v", arr.Shape)
	}
	want := []float64{10, 11, 12, 110, 111, 112, 210, 211, 212}
	if !reflect.DeepEqual(arr.Elements, want) {
		t.Errorf("elements: %v != %v", arr.Elements, want)
	}

	arr, err = ds.ReadSlice("conc", "x", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(arr.Shape, []int{3, 2}) {
		t.Errorf("shape: %v", arr.Shape)
	}
	want = []float64{2, 12, 102, 112, 202, 212}
	if !reflect.DeepEqual(arr.Elements, want) {
		t.Errorf("elements: %v != %v", arr.Elements, want)
	}
}

func TestReadSliceScalar(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	arr, err := ds.ReadSlice("temperature", "time", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(arr.Elements) != 1 || arr.Elements[0] != 50.0 {
		t.Errorf("elements: %v", arr.Elements)
	}
}

func TestReadSliceErrors(t *testing.T) {
	ds := openTestDataset(t, writeRegimeFile(t))

	tests := []struct {
		v   string
		dim string
		i   int
	}{
		{"missing", "time", 0},
		{"temperature", "y", 0},
		{"conc", "time", 3},
		{"conc", "time", -1},
	}
	for _, test := range tests {
		_, err := ds.ReadSlice(test.v, test.dim, test.i)
		if err == nil {
			t.Errorf("ReadSlice(%s, %s, %d) should have failed", test.v, test.dim, test.i)
			continue
		}
		var se *SourceError
		if !errors.As(err, &se) {
			t.Errorf("ReadSlice(%s, %s, %d): %v is not a SourceError", test.v, test.dim, test.i, err)
		}
	}
}

func TestOpenDatasetMissingFile(t *testing.T) {
	_, err := OpenDataset("/nonexistent/file.nc")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var se *SourceError
	if !errors.As(err, &se) {
		t.Fatalf("%v is not a SourceError", err)
	}
	if se.Path != "/nonexistent/file.nc" {
		t.Errorf("path: %q", se.Path)
	}
}
