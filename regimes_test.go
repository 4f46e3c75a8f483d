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
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
)

func testPipeline(t *testing.T, candidates ...int) *Pipeline {
	t.Helper()
	ds := openTestDataset(t, writeRegimeFile(t))
	return &Pipeline{
		Dataset:  ds,
		UnitAxis: "time",
		Specs: []FeatureSpec{
			{Variable: "temperature", Mode: RawScalar},
			{Variable: "pressure", Mode: RawScalar},
		},
		Normalize: true,
		ChunkSize: 2,
		Cluster:   ClusterConfig{K: candidates, MaxIterations: 100, Seed: 1},
	}
}

func TestPipelineRun(t *testing.T) {
	p := testPipeline(t, 2, 3)

	msgChan := make(chan string)
	done := make(chan []string)
	go func() {
		var msgs []string
		for msg := range msgChan {
			msgs = append(msgs, msg)
		}
		done <- msgs
	}()
	p.Msg = msgChan
	table, err := p.Run(context.Background())
	close(msgChan)
	msgs := <-done
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) == 0 {
		t.Error("expected progress messages")
	}

	if table.Model.K != 2 {
		t.Fatalf("selected k: %d != 2", table.Model.K)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("got %d rows for 3 units", len(table.Rows))
	}
	for i, r := range table.Rows {
		if r.Unit != i {
			t.Errorf("row %d is for unit %d", i, r.Unit)
		}
		if r.Status != StatusClustered {
			t.Errorf("row %d status: %q", i, r.Status)
		}
	}
	// The two nearly identical units share a regime and the outlier is
	// alone.
	if table.Rows[0].Cluster != table.Rows[1].Cluster {
		t.Errorf("units 0 and 1 should share a cluster: %v", table.Rows)
	}
	if table.Rows[2].Cluster == table.Rows[0].Cluster {
		t.Errorf("unit 2 should be alone: %v", table.Rows)
	}
	if !table.HasTime {
		t.Error("table should have timestamps")
	}
	if ts := table.Rows[2].Timestamp; ts != "2006-01-01 02:00:00" {
		t.Errorf("row 2 timestamp: %q", ts)
	}
}

func TestPipelineDeterminism(t *testing.T) {
	var clusters [][]int
	for i := 0; i < 2; i++ {
		p := testPipeline(t, 2, 3)
		table, err := p.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		o := make([]int, len(table.Rows))
		for j, r := range table.Rows {
			o[j] = r.Cluster
		}
		clusters = append(clusters, o)
	}
	if !reflect.DeepEqual(clusters[0], clusters[1]) {
		t.Errorf("assignments differ between runs: %v != %v", clusters[0], clusters[1])
	}
}

func TestPipelineFillValue(t *testing.T) {
	ds := openTestDataset(t, writeFillFile(t))
	p := &Pipeline{
		Dataset:   ds,
		UnitAxis:  "time",
		Specs:     []FeatureSpec{{Variable: "temperature", Mode: RawScalar}},
		Normalize: true,
		Cluster:   ClusterConfig{K: []int{2}, MaxIterations: 100, Seed: 1},
	}
	table, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 5 {
		t.Fatalf("got %d rows for 5 units", len(table.Rows))
	}
	counts := table.Counts()
	if counts[StatusClustered] != 4 {
		t.Errorf("clustered rows: %d != 4", counts[StatusClustered])
	}
	if counts[StatusExtraction] != 1 {
		t.Errorf("extraction failure rows: %d != 1", counts[StatusExtraction])
	}
	r := table.Rows[4]
	if r.Status != StatusExtraction {
		t.Errorf("row 4 status: %q", r.Status)
	}
	if r.Cluster != -1 || !math.IsNaN(r.Distance) {
		t.Errorf("row 4 should be unclustered: %+v", r)
	}
}

func TestPipelineInsufficientData(t *testing.T) {
	p := testPipeline(t, 5)
	table, err := p.Run(context.Background())
	if table != nil {
		t.Error("no table should be produced")
	}
	var insuf *InsufficientDataError
	if !errors.As(err, &insuf) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insuf.Valid != 3 || insuf.K != 5 {
		t.Errorf("error: %v", insuf)
	}
}

func TestPipelineCancellation(t *testing.T) {
	p := testPipeline(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	table, err := p.Run(ctx)
	if table != nil {
		t.Error("no table should be produced")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPipelineBadSpec(t *testing.T) {
	p := testPipeline(t, 2)
	p.Specs = []FeatureSpec{{Variable: "humidity", Mode: RawScalar}}
	if _, err := p.Run(context.Background()); err == nil {
		t.Error("expected error for unknown variable")
	}
	p = testPipeline(t, 2)
	p.UnitAxis = "z"
	if _, err := p.Run(context.Background()); err == nil {
		t.Error("expected error for unknown unit axis")
	}
}
