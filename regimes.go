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

// Package regimes implements a reduction pipeline for gridded scientific
// data: it extracts one feature vector per unit along a chosen axis of a
// NetCDF dataset, clusters the vectors into a small number of representative
// regimes with seeded k-means, and produces a complete tabular summary of
// the assignments.
package regimes

import (
	"context"
	"errors"
	"fmt"
)

// Version gives the version number of this version of Regimes.
const Version = "0.1.0"

// A Pipeline holds the configuration for one reduction run. The zero value
// is not usable; all fields except Msg, Normalize, ChunkSize, and Workers
// must be set.
type Pipeline struct {
	// Dataset is the input array source. It is shared read-only across the
	// extraction workers and is not closed by Run.
	Dataset *Dataset

	// UnitAxis is the dimension that enumerates reduction units.
	UnitAxis string

	// Specs lists the feature vector components.
	Specs []FeatureSpec

	// Normalize rescales each component to zero mean and unit standard
	// deviation before clustering.
	Normalize bool

	// ChunkSize bounds the number of units extracted together;
	// DefaultChunkSize if < 1.
	ChunkSize int

	// Workers is the extraction and clustering parallelism; GOMAXPROCS
	// if < 1.
	Workers int

	// Cluster configures the clustering engine.
	Cluster ClusterConfig

	// Msg, if non-nil, receives progress messages during the run.
	Msg chan string
}

// Run executes the pipeline: chunked parallel feature extraction, optional
// normalization, clustering with candidate-k selection, and aggregation into
// a table with exactly one row per unit. Units whose extraction failed, or
// whose features are non-finite, appear in the table as unclustered; the run
// only fails when no model can be produced at all or ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) (*Table, error) {
	ex, err := NewExtractor(p.Dataset, p.UnitAxis, p.Specs)
	if err != nil {
		return nil, err
	}
	p.report("Extracting features for %d units of %s...", ex.NumUnits(), p.UnitAxis)

	feats, err := RunChunks(ctx, ex, p.ChunkSize, p.Workers, p.Msg)
	if err != nil {
		return nil, err
	}

	cfg := p.Cluster
	if cfg.Workers < 1 {
		cfg.Workers = p.Workers
	}
	var active []int
	if p.Normalize {
		norm := ComputeNormalization(feats)
		for i := range feats {
			norm.Apply(feats[i])
		}
		active = norm.ActiveComponents()
	}
	return p.cluster(ctx, feats, active, cfg)
}

func (p *Pipeline) cluster(ctx context.Context, feats []Feature, active []int, cfg ClusterConfig) (*Table, error) {
	var valid []int
	var points [][]float64
	for _, f := range feats {
		if f.finite() {
			valid = append(valid, f.Unit)
			points = append(points, f.Values)
		}
	}
	p.report("Clustering %d of %d units...", len(points), len(feats))

	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	model, err := engine.Fit(ctx, points, active)
	if err != nil {
		if _, ok := err.(*InsufficientDataError); ok {
			var extraction, chunk, nonFinite int
			for _, f := range feats {
				switch {
				case f.Err == nil && !f.finite():
					nonFinite++
				case f.Err != nil && errors.Is(f.Err, ErrChunkFailed):
					chunk++
				case f.Err != nil:
					extraction++
				}
			}
			return nil, fmt.Errorf("regimes: %d of %d units excluded (%d extraction failures, %d chunk failures, %d non-finite): %w",
				len(feats)-len(points), len(feats), extraction, chunk, nonFinite, err)
		}
		return nil, err
	}
	p.report("Selected k=%d from candidates %v", model.K, cfg.K)

	timeUnits := p.Dataset.AttrString(p.UnitAxis, "units")
	return Aggregate(feats, model, valid, p.UnitAxis, timeUnits), nil
}

func (p *Pipeline) report(format string, args ...interface{}) {
	if p.Msg != nil {
		p.Msg <- fmt.Sprintf(format, args...)
	}
}
