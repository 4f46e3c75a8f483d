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
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/spatialmodel/regimes"
	"github.com/spf13/cobra"
)

// Run runs the reduction pipeline.
//
// CobraCommand is the cobra.Command instance where Run is called from.
//
// LogFile is the path to the desired logfile location.
//
// OutputFile is the path to the desired output table location; its
// extension selects the sink format.
//
// ScoreFile, if not blank, is the path where the per-candidate validity
// scores should be written.
//
// InputFile is the path to the NetCDF grid file to be processed.
//
// UnitAxis is the dimension that enumerates the units to be clustered, and
// Variables, ReductionModes, and Expressions specify the feature vector
// components as described in the configuration documentation.
//
// Normalize, CandidateK, ChunkSize, MaxIterations, Tolerance, Seed, and
// NumWorkers configure the clustering as described in the configuration
// documentation.
func Run(CobraCommand *cobra.Command, LogFile, OutputFile, ScoreFile, InputFile, UnitAxis string,
	Variables []string, ReductionModes, Expressions map[string]string,
	Normalize bool, CandidateK []int, ChunkSize, MaxIterations int,
	Tolerance float64, Seed int64, NumWorkers int) error {

	startTime := time.Now()

	// Start a function to receive and print log messages.
	logfile, err := os.Create(LogFile)
	if err != nil {
		return fmt.Errorf("regimes: problem creating log file: %v", err)
	}
	mw := io.MultiWriter(CobraCommand.OutOrStdout(), logfile)
	log.SetOutput(mw)
	msgLog := make(chan string)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		for msg := range msgLog {
			log.Println(msg)
		}
		wg.Done()
	}()
	defer func() { // Wait for the logging to finish.
		close(msgLog)
		wg.Wait()
		logfile.Close()
	}()

	sink, err := regimes.NewSink(OutputFile)
	if err != nil {
		return err
	}

	if InputFile == "" {
		return fmt.Errorf(`you need to specify an input file configuration variable (for example: InputFile="data.nc")`)
	}
	log.Println("Reading input data...")
	ds, err := regimes.OpenDataset(InputFile)
	if err != nil {
		return err
	}
	defer ds.Close()

	specs, err := featureSpecs(ds, UnitAxis, Variables, ReductionModes, Expressions)
	if err != nil {
		return err
	}

	p := &regimes.Pipeline{
		Dataset:   ds,
		UnitAxis:  UnitAxis,
		Specs:     specs,
		Normalize: Normalize,
		ChunkSize: ChunkSize,
		Workers:   NumWorkers,
		Cluster: regimes.ClusterConfig{
			K:             CandidateK,
			MaxIterations: MaxIterations,
			Tolerance:     Tolerance,
			Seed:          Seed,
		},
		Msg: msgLog,
	}
	table, err := p.Run(context.Background())
	if err != nil {
		return err
	}

	counts := table.Counts()
	log.Printf("Clustered %d of %d units into %d regimes (%s)",
		counts[regimes.StatusClustered], len(table.Rows), table.Model.K, table.ExclusionSummary())

	log.Println("Writing output...")
	if err := sink.Write(table); err != nil {
		return err
	}
	if ScoreFile != "" {
		if err := regimes.WriteScores(ScoreFile, table.Model); err != nil {
			return err
		}
	}

	elapsedTime := time.Since(startTime)
	log.Printf("Elapsed time: %f seconds", elapsedTime.Seconds())

	return nil
}

// Describe prints the variables in the input file along with their
// dimensions, shapes, and fill values.
func Describe(cmd *cobra.Command, InputFile string) error {
	if InputFile == "" {
		return fmt.Errorf(`you need to specify an input file configuration variable (for example: InputFile="data.nc")`)
	}
	ds, err := regimes.OpenDataset(InputFile)
	if err != nil {
		return err
	}
	defer ds.Close()
	w := cmd.OutOrStdout()
	for _, v := range ds.Variables() {
		fmt.Fprintf(w, "%s", v)
		dims := ds.Dims(v)
		shape := ds.Shape(v)
		for i, dim := range dims {
			if i == 0 {
				fmt.Fprint(w, "(")
			} else {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%s=%d", dim, shape[i])
		}
		if len(dims) > 0 {
			fmt.Fprint(w, ")")
		}
		if fill, ok := ds.FillValue(v); ok {
			fmt.Fprintf(w, " fill=%g", fill)
		}
		if units := ds.AttrString(v, "units"); units != "" {
			fmt.Fprintf(w, " [%s]", units)
		}
		fmt.Fprintln(w)
	}
	return nil
}
