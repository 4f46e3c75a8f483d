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

package regimesutil

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spatialmodel/regimes"
)

func TestExpandCandidateK(t *testing.T) {
	tests := []struct {
		in   []int
		want []int
		err  bool
	}{
		{in: nil, err: true},
		{in: []int{4}, want: []int{4}},
		{in: []int{2, 5}, want: []int{2, 3, 4, 5}},
		{in: []int{3, 3}, want: []int{3}},
		{in: []int{5, 2}, err: true},
		{in: []int{2, 4, 8}, want: []int{2, 4, 8}},
	}
	for _, test := range tests {
		got, err := expandCandidateK(test.in)
		if test.err {
			if err == nil {
				t.Errorf("%v: expected error", test.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v: %v", test.in, err)
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%v: %v != %v", test.in, got, test.want)
		}
	}
}

func TestCheckOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	got, err := checkOutputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("%q != %q", got, path)
	}
	if _, err := checkOutputFile(""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := checkOutputFile(filepath.Join(dir, "out.txt")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := checkOutputFile(filepath.Join(dir, "missing", "out.csv")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestCheckLogFile(t *testing.T) {
	if got := checkLogFile("", "/tmp/out.csv"); got != "/tmp/out.log" {
		t.Errorf("default log file: %q", got)
	}
	if got := checkLogFile("/tmp/regimes.log", "/tmp/out.csv"); got != "/tmp/regimes.log" {
		t.Errorf("log file: %q", got)
	}
}

func TestToIntSlice(t *testing.T) {
	if got := toIntSlice([]int{2, 3}); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Errorf("from slice: %v", got)
	}
	if got := toIntSlice("[2,3]"); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Errorf("from JSON: %v", got)
	}
}

func TestGetStringMapString(t *testing.T) {
	Cfg.Set("ReductionModes", map[string]interface{}{"conc": "max"})
	got := GetStringMapString("ReductionModes", Cfg)
	if !reflect.DeepEqual(got, map[string]string{"conc": "max"}) {
		t.Errorf("from map: %v", got)
	}
	Cfg.Set("ReductionModes", `{"conc": "min"}`)
	got = GetStringMapString("ReductionModes", Cfg)
	if !reflect.DeepEqual(got, map[string]string{"conc": "min"}) {
		t.Errorf("from JSON: %v", got)
	}
	Cfg.Set("ReductionModes", map[string]string{})
}

func TestFeatureSpecs(t *testing.T) {
	ds, err := regimes.OpenDataset(writeTestInput(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	specs, err := featureSpecs(ds, "time",
		[]string{"temperature", "conc"},
		map[string]string{"conc": "max"},
		map[string]string{"ratio": "temperature / pressure"})
	if err != nil {
		t.Fatal(err)
	}
	want := []regimes.FeatureSpec{
		{Variable: "temperature", Mode: regimes.RawScalar},
		{Variable: "conc", Mode: regimes.Max},
		{Name: "ratio", Expr: "temperature / pressure"},
	}
	if !reflect.DeepEqual(specs, want) {
		t.Errorf("specs: %+v != %+v", specs, want)
	}

	// conc has extra axes, so its default reduction is the mean.
	specs, err = featureSpecs(ds, "time", []string{"conc"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if specs[0].Mode != regimes.Mean {
		t.Errorf("default mode for conc: %v", specs[0].Mode)
	}

	if _, err := featureSpecs(ds, "time", nil, nil, nil); err == nil {
		t.Error("expected error for empty variable list")
	}
	if _, err := featureSpecs(ds, "time", []string{"temperature"},
		map[string]string{"temperature": "median"}, nil); err == nil {
		t.Error("expected error for invalid reduction mode")
	}
}
