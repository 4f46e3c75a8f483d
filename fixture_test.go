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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
)

const testFill = -9999.

// writeRegimeFile creates a small NetCDF file with three time units: two
// nearly identical ones and one outlier. conc has extra y and x axes, with
// one fill cell at unit 1, and elevation has no time axis at all.
func writeRegimeFile(t *testing.T) string {
	t.Helper()

	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{3, 2, 3})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "hours since 2006-01-01 00:00:00")
	h.AddVariable("temperature", []string{"time"}, []float64{0})
	h.AddAttribute("temperature", "units", "K")
	h.AddVariable("pressure", []string{"time"}, []float64{0})
	h.AddVariable("conc", []string{"time", "y", "x"}, []float32{0})
	h.AddAttribute("conc", "_FillValue", []float32{testFill})
	h.AddVariable("elevation", []string{"y", "x"}, []float64{0})
	h.Define()
	for _, err := range h.Check() {
		t.Fatal(err)
	}

	conc := make([]float32, 3*2*3)
	for u := 0; u < 3; u++ {
		for j := 0; j < 2; j++ {
			for i := 0; i < 3; i++ {
				conc[u*6+j*3+i] = float32(u*100 + j*10 + i)
			}
		}
	}
	conc[1*6] = testFill // first cell of unit 1

	return writeTestFile(t, h, map[string]interface{}{
		"time":        []float64{0, 1, 2},
		"temperature": []float64{10.0, 10.2, 50.0},
		"pressure":    []float64{1.0, 1.1, 9.0},
		"conc":        conc,
		"elevation":   []float64{5, 5, 5, 5, 5, 5},
	})
}

// writeFillFile creates a NetCDF file with five time units where the last
// unit holds only the fill value.
func writeFillFile(t *testing.T) string {
	t.Helper()

	h := cdf.NewHeader([]string{"time"}, []int{5})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddVariable("temperature", []string{"time"}, []float64{0})
	h.AddAttribute("temperature", "_FillValue", []float64{testFill})
	h.Define()
	for _, err := range h.Check() {
		t.Fatal(err)
	}

	return writeTestFile(t, h, map[string]interface{}{
		"time":        []float64{0, 1, 2, 3, 4},
		"temperature": []float64{1, 2, 3, 4, testFill},
	})
}

func writeTestFile(t *testing.T, h *cdf.Header, data map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.nc")
	ff, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range h.Variables() {
		d, ok := data[v]
		if !ok {
			t.Fatalf("no data for variable %s", v)
		}
		end := h.Lengths(v)
		w := f.Writer(v, make([]int, len(end)), end)
		if _, err := w.Write(d); err != nil {
			t.Fatal(err)
		}
	}
	if err := ff.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func openTestDataset(t *testing.T, path string) *Dataset {
	t.Helper()
	ds, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func different(a, b float64) bool {
	const tolerance = 1.e-9
	if math.IsNaN(a) || math.IsNaN(b) {
		return !(math.IsNaN(a) && math.IsNaN(b))
	}
	return math.Abs(a-b) > tolerance*math.Max(math.Abs(a), math.Abs(b))+1.e-12
}
