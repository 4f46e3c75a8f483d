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
	"fmt"
	"runtime"
	"time"

	"github.com/cenkalti/backoff"
)

// ErrChunkFailed marks the features of a chunk whose extraction failed
// wholesale after its retry was exhausted.
var ErrChunkFailed = errors.New("regimes: chunk failed")

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 1024

// RunChunks partitions the extractor's unit range [0,N) into chunks of at
// most chunkSize units and extracts them in parallel on a pool of the given
// number of workers (GOMAXPROCS if workers < 1). Results are reassembled in
// ascending unit order regardless of completion order.
//
// A chunk whose unit reads all fail is treated as an irrecoverable chunk
// failure: it is retried once, and on second failure its units are marked
// with ErrChunkFailed while the remaining chunks proceed. RunChunks returns
// an error only when every chunk fails or ctx is canceled; on cancellation
// the features extracted so far are returned alongside the context error,
// with unprocessed units marked as failed.
func RunChunks(ctx context.Context, ex *Extractor, chunkSize, workers int, msgChan chan string) ([]Feature, error) {
	n := ex.NumUnits()
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(-1)
	}
	nChunks := (n + chunkSize - 1) / chunkSize

	// Each chunk result is owned by exactly one worker and written to its
	// own slot, so the workers share no mutable state.
	results := make([][]Feature, nChunks)
	jobChan := make(chan int, nChunks)
	errChan := make(chan error)
	for w := 0; w < workers; w++ {
		go func() {
			for c := range jobChan {
				begin := c * chunkSize
				end := begin + chunkSize
				if end > n {
					end = n
				}
				if err := ctx.Err(); err != nil {
					results[c] = failedChunk(ex, begin, end, err)
					continue
				}
				feats, err := extractChunk(ctx, ex, begin, end, msgChan)
				if err != nil {
					results[c] = failedChunk(ex, begin, end, err)
					continue
				}
				results[c] = feats
				if msgChan != nil {
					msgChan <- fmt.Sprintf("Extracted chunk [%d,%d) of %d units", begin, end, n)
				}
			}
			errChan <- nil
		}()
	}
	for c := 0; c < nChunks; c++ {
		jobChan <- c
	}
	close(jobChan)
	for w := 0; w < workers; w++ {
		<-errChan
	}

	feats := make([]Feature, 0, n)
	var failed int
	for _, chunk := range results {
		if chunkFailed(chunk) {
			failed++
		}
		feats = append(feats, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return feats, err
	}
	if nChunks > 0 && failed == nChunks {
		return nil, fmt.Errorf("regimes: all %d chunks failed", nChunks)
	}
	return feats, nil
}

// extractChunk extracts units [begin,end), retrying the whole chunk once if
// every unit read fails.
func extractChunk(ctx context.Context, ex *Extractor, begin, end int, msgChan chan string) ([]Feature, error) {
	var feats []Feature
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		feats = make([]Feature, 0, end-begin)
		sourceErrs := 0
		for i := begin; i < end; i++ {
			f := ex.ExtractUnit(i)
			var se *SourceError
			if f.Err != nil && errors.As(f.Err, &se) {
				sourceErrs++
			}
			feats = append(feats, f)
		}
		if end > begin && sourceErrs == end-begin {
			return fmt.Errorf("regimes: chunk [%d,%d): all %d unit reads failed: %v",
				begin, end, end-begin, feats[0].Err)
		}
		return nil
	}
	err := backoff.RetryNotify(op,
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1),
		func(err error, d time.Duration) {
			if msgChan != nil {
				msgChan <- fmt.Sprintf("%v: retrying in %v", err, d)
			}
		},
	)
	if err != nil {
		return nil, err
	}
	return feats, nil
}

// failedChunk synthesizes the features of a chunk that could not be
// extracted, marking each unit with the causing error.
func failedChunk(ex *Extractor, begin, end int, cause error) []Feature {
	feats := make([]Feature, 0, end-begin)
	for i := begin; i < end; i++ {
		var coord float64
		if i >= 0 && i < ex.NumUnits() {
			coord = ex.Coord(i)
		}
		feats = append(feats, Feature{
			Unit:  i,
			Coord: coord,
			Err:   fmt.Errorf("%w: %v", ErrChunkFailed, cause),
		})
	}
	return feats
}

func chunkFailed(chunk []Feature) bool {
	for _, f := range chunk {
		if f.Err == nil || !errors.Is(f.Err, ErrChunkFailed) {
			return false
		}
	}
	return len(chunk) > 0
}
