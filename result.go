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
	"fmt"
	"math"
	"strings"
	"time"
)

// Status values for the output table.
const (
	StatusClustered    = "clustered"
	StatusNonFinite    = "unclustered: non-finite feature"
	StatusExtraction   = "unclustered: extraction failure"
	StatusChunkFailure = "unclustered: chunk failure"
)

// A ResultRow is the output record for one reduction unit.
type ResultRow struct {
	Unit      int
	Coord     float64
	Timestamp string // rendered time coordinate; empty when the unit axis is not a time axis
	Cluster   int    // assigned centroid index, or -1 when unclustered
	Distance  float64
	Status    string
}

// A Table is the complete tabular result of a pipeline run: exactly one row
// per unit of the input's unit axis, in unit order, plus the cluster model
// the rows refer to.
type Table struct {
	UnitDim string
	HasTime bool
	Rows    []ResultRow
	Model   *ClusterModel
}

// Columns returns the column schema of the table.
func (t *Table) Columns() []string {
	cols := []string{"unit_id", t.UnitDim}
	if t.HasTime {
		cols = append(cols, "timestamp")
	}
	return append(cols, "cluster_index", "distance_to_centroid", "status")
}

// Counts returns the number of rows per status value.
func (t *Table) Counts() map[string]int {
	o := make(map[string]int)
	for _, r := range t.Rows {
		o[r.Status]++
	}
	return o
}

// Aggregate merges the extracted features and the finalized cluster model
// into a table. valid maps positions in the model's assignment sequence back
// to unit indices; timeUnits, when non-empty, is the time encoding of the
// unit axis ("hours since 2006-01-02 15:04:05" and similar).
//
// Every unit in feats produces exactly one row: clustered units carry their
// centroid index and distance, and excluded units carry a status naming why
// they were excluded.
func Aggregate(feats []Feature, model *ClusterModel, valid []int, unitDim, timeUnits string) *Table {
	t := &Table{UnitDim: unitDim, Model: model, Rows: make([]ResultRow, len(feats))}
	base, scale, hasTime := parseTimeUnits(timeUnits)
	t.HasTime = hasTime

	pos := make(map[int]int, len(valid)) // unit index -> model position
	for p, unit := range valid {
		pos[unit] = p
	}
	for i, f := range feats {
		row := ResultRow{
			Unit:     f.Unit,
			Coord:    f.Coord,
			Cluster:  -1,
			Distance: math.NaN(),
		}
		if hasTime {
			row.Timestamp = base.Add(time.Duration(f.Coord * float64(scale))).UTC().Format("2006-01-02 15:04:05")
		}
		switch {
		case f.Err != nil && errors.Is(f.Err, ErrChunkFailed):
			row.Status = StatusChunkFailure
		case f.Err != nil:
			row.Status = StatusExtraction
		default:
			p, ok := pos[f.Unit]
			if !ok {
				row.Status = StatusNonFinite
				break
			}
			row.Cluster = model.Assignments[p]
			row.Distance = model.Distances[p]
			row.Status = StatusClustered
		}
		t.Rows[i] = row
	}
	return t
}

// parseTimeUnits interprets a CF-style time encoding such as
// "hours since 1990-01-01 00:00:00". It returns the base time and the
// duration of one coordinate step.
func parseTimeUnits(units string) (time.Time, time.Duration, bool) {
	fields := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(fields) != 2 {
		return time.Time{}, 0, false
	}
	var scale time.Duration
	switch strings.ToLower(strings.TrimSpace(fields[0])) {
	case "seconds":
		scale = time.Second
	case "minutes":
		scale = time.Minute
	case "hours":
		scale = time.Hour
	case "days":
		scale = 24 * time.Hour
	default:
		return time.Time{}, 0, false
	}
	stamp := strings.TrimSpace(fields[1])
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05Z", "2006-01-02"} {
		if base, err := time.Parse(layout, stamp); err == nil {
			return base, scale, true
		}
	}
	return time.Time{}, 0, false
}

// ExclusionSummary formats the per-status exclusion counts for error
// context.
func (t *Table) ExclusionSummary() string {
	counts := t.Counts()
	return fmt.Sprintf("%d extraction failures, %d chunk failures, %d non-finite",
		counts[StatusExtraction], counts[StatusChunkFailure], counts[StatusNonFinite])
}
