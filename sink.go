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
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ctessum/cdf"
	"github.com/tealeg/xlsx"
)

// A TableSink receives the final result table.
type TableSink interface {
	Write(t *Table) error
}

// NewSink returns a sink for the given output path, selected by file
// extension: .csv for delimited text, .nc for NetCDF, and .xlsx for a
// spreadsheet.
func NewSink(path string) (TableSink, error) {
	switch filepath.Ext(path) {
	case ".csv":
		return &CSVSink{Path: path}, nil
	case ".nc", ".ncf":
		return &NetCDFSink{Path: path}, nil
	case ".xlsx":
		return &XLSXSink{Path: path}, nil
	}
	return nil, fmt.Errorf("regimes: output file path must have the extension '.csv', '.nc', or '.xlsx', not '%s'", filepath.Ext(path))
}

// CSVSink writes the result table as comma-delimited text with a header
// row. Unclustered rows have an empty distance field and a cluster index of
// -1.
type CSVSink struct {
	Path string
}

func (s *CSVSink) Write(t *Table) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("regimes: creating output file: %v", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(t.Columns()); err != nil {
		return fmt.Errorf("regimes: writing output file: %v", err)
	}
	for _, r := range t.Rows {
		rec := []string{
			strconv.Itoa(r.Unit),
			strconv.FormatFloat(r.Coord, 'g', -1, 64),
		}
		if t.HasTime {
			rec = append(rec, r.Timestamp)
		}
		dist := ""
		if !math.IsNaN(r.Distance) {
			dist = strconv.FormatFloat(r.Distance, 'g', -1, 64)
		}
		rec = append(rec, strconv.Itoa(r.Cluster), dist, r.Status)
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("regimes: writing output file: %v", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteScores writes the per-candidate validity scores of the model as
// comma-delimited text.
func WriteScores(path string, m *ClusterModel) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("regimes: creating score file: %v", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"k", "score"}); err != nil {
		return fmt.Errorf("regimes: writing score file: %v", err)
	}
	for _, s := range m.ScoreTable() {
		err := w.Write([]string{
			strconv.Itoa(s.K),
			strconv.FormatFloat(s.Score, 'g', -1, 64),
		})
		if err != nil {
			return fmt.Errorf("regimes: writing score file: %v", err)
		}
	}
	w.Flush()
	return w.Error()
}

// statusCodes maps status values to the integer codes used in NetCDF
// output, which cannot hold per-row text.
var statusCodes = map[string]int32{
	StatusClustered:    0,
	StatusNonFinite:    1,
	StatusExtraction:   2,
	StatusChunkFailure: 3,
}

// NetCDFSink writes the result table and the selected centroids to a NetCDF
// file, so results can rejoin grid-native tooling. The status column is
// encoded as integer codes with a legend attribute.
type NetCDFSink struct {
	Path string
}

func (s *NetCDFSink) Write(t *Table) error {
	if t.Model == nil {
		return fmt.Errorf("regimes: NetCDF output requires a cluster model")
	}
	n := len(t.Rows)
	k := t.Model.K
	nFeat := 0
	if k > 0 {
		nFeat = len(t.Model.Centroids[0].Center)
	}

	h := cdf.NewHeader([]string{t.UnitDim, "cluster", "feature"}, []int{n, k, nFeat})
	h.AddVariable(t.UnitDim, []string{t.UnitDim}, []float64{0})
	h.AddAttribute(t.UnitDim, "description", "Coordinate values of the unit axis")
	h.AddVariable("cluster_index", []string{t.UnitDim}, []int32{0})
	h.AddAttribute("cluster_index", "description", "Assigned centroid index; -1 when unclustered")
	h.AddVariable("distance_to_centroid", []string{t.UnitDim}, []float64{0})
	h.AddAttribute("distance_to_centroid", "description", "Euclidean distance to the assigned centroid in the clustered feature space")
	h.AddVariable("status_code", []string{t.UnitDim}, []int32{0})
	h.AddAttribute("status_code", "legend",
		fmt.Sprintf("0=%s; 1=%s; 2=%s; 3=%s", StatusClustered, StatusNonFinite, StatusExtraction, StatusChunkFailure))
	h.AddVariable("centroids", []string{"cluster", "feature"}, []float64{0})
	h.AddAttribute("centroids", "description", "Centroid means over all feature components")
	h.AddVariable("members", []string{"cluster"}, []int32{0})
	h.AddAttribute("members", "description", "Number of units assigned to each cluster")
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("regimes: creating output NetCDF file: %v", err)
	}

	ff, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("regimes: creating output NetCDF file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("regimes: creating output NetCDF file: %v", err)
	}

	coords := make([]float64, n)
	clusters := make([]int32, n)
	dists := make([]float64, n)
	codes := make([]int32, n)
	for i, r := range t.Rows {
		coords[i] = r.Coord
		clusters[i] = int32(r.Cluster)
		dists[i] = r.Distance
		codes[i] = statusCodes[r.Status]
	}
	centers := make([]float64, 0, k*nFeat)
	members := make([]int32, k)
	for c, cen := range t.Model.Centroids {
		centers = append(centers, cen.Center...)
		members[c] = int32(cen.Members)
	}

	for _, v := range []struct {
		name string
		data interface{}
		end  []int
	}{
		{t.UnitDim, coords, []int{n}},
		{"cluster_index", clusters, []int{n}},
		{"distance_to_centroid", dists, []int{n}},
		{"status_code", codes, []int{n}},
		{"centroids", centers, []int{k, nFeat}},
		{"members", members, []int{k}},
	} {
		w := f.Writer(v.name, make([]int, len(v.end)), v.end)
		if _, err := w.Write(v.data); err != nil {
			return fmt.Errorf("regimes: writing variable %s to output NetCDF file: %v", v.name, err)
		}
	}
	return nil
}

// XLSXSink writes the result table and the candidate scores to a
// spreadsheet with two sheets.
type XLSXSink struct {
	Path string
}

func (s *XLSXSink) Write(t *Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("clusters")
	if err != nil {
		return fmt.Errorf("regimes: creating spreadsheet: %v", err)
	}
	hdr := sheet.AddRow()
	for _, c := range t.Columns() {
		hdr.AddCell().SetString(c)
	}
	for _, r := range t.Rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.Unit)
		row.AddCell().SetFloat(r.Coord)
		if t.HasTime {
			row.AddCell().SetString(r.Timestamp)
		}
		row.AddCell().SetInt(r.Cluster)
		if math.IsNaN(r.Distance) {
			row.AddCell().SetString("")
		} else {
			row.AddCell().SetFloat(r.Distance)
		}
		row.AddCell().SetString(r.Status)
	}
	if t.Model != nil {
		scores, err := f.AddSheet("scores")
		if err != nil {
			return fmt.Errorf("regimes: creating spreadsheet: %v", err)
		}
		hdr := scores.AddRow()
		hdr.AddCell().SetString("k")
		hdr.AddCell().SetString("score")
		for _, sc := range t.Model.ScoreTable() {
			row := scores.AddRow()
			row.AddCell().SetInt(sc.K)
			row.AddCell().SetFloat(sc.Score)
		}
	}
	if err := f.Save(s.Path); err != nil {
		return fmt.Errorf("regimes: writing spreadsheet: %v", err)
	}
	return nil
}
