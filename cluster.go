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
	"math"
	"math/rand"
	"runtime"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// InsufficientDataError is returned when fewer valid feature vectors exist
// than the smallest candidate cluster count. It is fatal to a run because no
// meaningful model can be produced.
type InsufficientDataError struct {
	Valid int // number of valid feature vectors
	K     int // smallest candidate cluster count
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("regimes: insufficient data: %d valid feature vectors for %d clusters", e.Valid, e.K)
}

// NonFiniteFeatureError is returned when a feature vector handed to the
// clustering engine contains an infinite or not-a-number component. Callers
// are expected to exclude such vectors before fitting.
type NonFiniteFeatureError struct {
	Point     int
	Component int
}

func (e *NonFiniteFeatureError) Error() string {
	return fmt.Sprintf("regimes: non-finite value in component %d of feature vector %d", e.Component, e.Point)
}

// ClusterConfig holds the clustering engine configuration.
type ClusterConfig struct {
	// K lists the candidate cluster counts. A single value fixes k; multiple
	// values are swept and the candidate with the lowest validity score is
	// selected, ties going to the smaller k.
	K []int

	// MaxIterations bounds the assignment/recompute cycles of each fit.
	MaxIterations int

	// Tolerance optionally stops a fit early when the improvement in
	// within-cluster sum of squares between iterations falls below it.
	Tolerance float64

	// Seed parameterizes centroid initialization. Runs with the same seed,
	// candidates, and input produce identical models.
	Seed int64

	// Workers is the parallelism of the assignment step and the candidate
	// sweep. GOMAXPROCS if < 1.
	Workers int
}

// A Centroid is the mean of the feature vectors assigned to one cluster.
type Centroid struct {
	Center     []float64
	Members    int
	SumSquares float64 // sum of squared member distances
}

// A ClusterModel is the immutable result of a fit: the selected cluster
// count, its centroids, the validity score of every candidate evaluated, and
// the assignment of each input vector to a centroid index.
type ClusterModel struct {
	K           int
	Centroids   []Centroid
	Scores      map[int]float64
	Assignments []int     // per input vector, in input order
	Distances   []float64 // distance to assigned centroid
	Iterations  int       // iterations used by the selected fit
}

// A Score is one candidate cluster count and its validity score.
type Score struct {
	K     int
	Score float64
}

// ScoreTable returns the per-candidate validity scores in ascending k order.
func (m *ClusterModel) ScoreTable() []Score {
	o := make([]Score, 0, len(m.Scores))
	for k, s := range m.Scores {
		o = append(o, Score{K: k, Score: s})
	}
	sort.Slice(o, func(i, j int) bool { return o[i].K < o[j].K })
	return o
}

type engineState int

const (
	engineUninitialized engineState = iota
	engineSweep
	engineFitting
	engineScored
	engineFinalized
)

// An Engine performs centroid-based partitioning over a set of feature
// vectors, optionally sweeping candidate cluster counts. An Engine fits at
// most once; re-fitting requires a new instance.
type Engine struct {
	cfg        ClusterConfig
	candidates []int
	state      engineState
	model      *ClusterModel
}

// NewEngine validates cfg and creates an engine in its uninitialized state.
func NewEngine(cfg ClusterConfig) (*Engine, error) {
	if len(cfg.K) == 0 {
		return nil, fmt.Errorf("regimes: no candidate cluster counts specified")
	}
	candidates := make([]int, len(cfg.K))
	copy(candidates, cfg.K)
	sort.Ints(candidates)
	uniq := candidates[:0]
	for i, k := range candidates {
		if k < 1 {
			return nil, fmt.Errorf("regimes: invalid cluster count %d", k)
		}
		if i == 0 || k != candidates[i-1] {
			uniq = append(uniq, k)
		}
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("regimes: maximum iterations must be positive, not %d", cfg.MaxIterations)
	}
	return &Engine{cfg: cfg, candidates: uniq}, nil
}

// Model returns the finalized model, or nil before Fit has completed.
func (e *Engine) Model() *ClusterModel {
	if e.state != engineFinalized {
		return nil
	}
	return e.model
}

// Fit clusters the given feature vectors and finalizes the engine. active
// optionally lists the component indices that contribute to distances
// (non-constant components after normalization); nil means all components.
// The centroids of the returned model are means over all components.
func (e *Engine) Fit(ctx context.Context, points [][]float64, active []int) (*ClusterModel, error) {
	if e.state != engineUninitialized {
		return nil, fmt.Errorf("regimes: cluster engine is already finalized")
	}
	for i, p := range points {
		for j, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &NonFiniteFeatureError{Point: i, Component: j}
			}
		}
	}
	if len(points) < e.candidates[0] {
		return nil, &InsufficientDataError{Valid: len(points), K: e.candidates[0]}
	}
	proj := project(points, active)

	if len(e.candidates) > 1 {
		e.state = engineSweep
	} else {
		e.state = engineFitting
	}

	type sweepResult struct {
		k     int
		fit   *fitResult
		score float64
		err   error
	}
	resChan := make(chan sweepResult)
	for _, k := range e.candidates {
		go func(k int) {
			if k > len(points) {
				resChan <- sweepResult{k: k, err: &InsufficientDataError{Valid: len(points), K: k}}
				return
			}
			rng := rand.New(rand.NewSource(e.cfg.Seed + int64(k)))
			fit, err := e.fitOne(ctx, proj, k, rng)
			if err != nil {
				resChan <- sweepResult{k: k, err: err}
				return
			}
			resChan <- sweepResult{k: k, fit: fit, score: validityScore(proj, fit)}
		}(k)
	}
	scores := make(map[int]float64)
	fits := make(map[int]*fitResult)
	var firstErr error
	for range e.candidates {
		r := <-resChan
		if r.err != nil {
			// A candidate larger than the population is skipped; other
			// errors (cancellation) fail the fit.
			var insuf *InsufficientDataError
			if errors.As(r.err, &insuf) {
				continue
			}
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		scores[r.k] = r.score
		fits[r.k] = r.fit
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if len(fits) == 0 {
		return nil, &InsufficientDataError{Valid: len(points), K: e.candidates[0]}
	}
	e.state = engineScored

	bestK := -1
	for _, k := range e.candidates {
		s, ok := scores[k]
		if !ok {
			continue
		}
		if bestK < 0 || s < scores[bestK] { // ties go to the smaller k
			bestK = k
		}
	}
	best := fits[bestK]

	m := &ClusterModel{
		K:           bestK,
		Scores:      scores,
		Assignments: best.assign,
		Distances:   best.dist,
		Iterations:  best.iterations,
		Centroids:   make([]Centroid, bestK),
	}
	dim := len(points[0])
	for c := range m.Centroids {
		m.Centroids[c].Center = make([]float64, dim)
	}
	for i, a := range best.assign {
		cen := &m.Centroids[a]
		floats.Add(cen.Center, points[i])
		cen.Members++
		cen.SumSquares += best.dist[i] * best.dist[i]
	}
	for c := range m.Centroids {
		if n := m.Centroids[c].Members; n > 0 {
			floats.Scale(1/float64(n), m.Centroids[c].Center)
		}
	}
	e.model = m
	e.state = engineFinalized
	return m, nil
}

// project copies points down to the active components. It always copies so
// that fitting never aliases caller memory.
func project(points [][]float64, active []int) [][]float64 {
	proj := make([][]float64, len(points))
	for i, p := range points {
		if active == nil {
			proj[i] = append([]float64(nil), p...)
			continue
		}
		v := make([]float64, len(active))
		for j, a := range active {
			v[j] = p[a]
		}
		proj[i] = v
	}
	return proj
}

type fitResult struct {
	centers    [][]float64
	assign     []int
	dist       []float64
	wcss       float64
	iterations int
}

// fitOne runs iterative refinement for a single candidate k: assign every
// vector to its nearest centroid, recompute each centroid as the mean of its
// members, reseed empty centroids from the globally worst-fit point, and
// stop when no assignment changes or MaxIterations is reached.
func (e *Engine) fitOne(ctx context.Context, proj [][]float64, k int, rng *rand.Rand) (*fitResult, error) {
	n := len(proj)
	f := &fitResult{
		centers: seedCentroids(proj, k, rng),
		assign:  make([]int, n),
		dist:    make([]float64, n),
	}
	for i := range f.assign {
		f.assign[i] = -1
	}
	prevWCSS := math.Inf(1)
	for it := 0; it < e.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.iterations = it + 1
		changed := assignPoints(proj, f.centers, f.assign, f.dist, e.cfg.Workers)
		f.wcss = 0
		for _, d := range f.dist {
			f.wcss += d * d
		}
		if !changed {
			break
		}
		if e.cfg.Tolerance > 0 && prevWCSS-f.wcss < e.cfg.Tolerance {
			break
		}
		prevWCSS = f.wcss
		if it == e.cfg.MaxIterations-1 {
			// Iteration cap: exit with the assignment consistent with the
			// current centroids.
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(proj[0]))
		}
		for i, a := range f.assign {
			counts[a]++
			floats.Add(sums[a], proj[i])
		}
		claimed := make(map[int]bool)
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), sums[c])
				f.centers[c] = sums[c]
				continue
			}
			// Reseed an empty centroid from the globally worst-fit point.
			worst := -1
			for i := range proj {
				if claimed[i] {
					continue
				}
				if worst < 0 || f.dist[i] > f.dist[worst] {
					worst = i
				}
			}
			if worst < 0 {
				break // more centroids than points
			}
			claimed[worst] = true
			f.centers[c] = append([]float64(nil), proj[worst]...)
		}
	}
	return f, nil
}

// seedCentroids selects k distinct starting vectors using the given
// pseudo-random source. Vectors are distinct by value when the population
// allows; otherwise distinct indices are used.
func seedCentroids(proj [][]float64, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(proj))
	centers := make([][]float64, 0, k)
	chosen := make(map[int]bool)
	for _, i := range perm {
		if len(centers) == k {
			break
		}
		dup := false
		for _, c := range centers {
			if floats.Equal(c, proj[i]) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		chosen[i] = true
		centers = append(centers, append([]float64(nil), proj[i]...))
	}
	for _, i := range perm { // population has duplicate values
		if len(centers) == k {
			break
		}
		if chosen[i] {
			continue
		}
		chosen[i] = true
		centers = append(centers, append([]float64(nil), proj[i]...))
	}
	return centers
}

// assignPoints assigns every vector to its nearest centroid by Euclidean
// distance, ties going to the lowest centroid index, sharding the work
// across parallel goroutines. It reports whether any assignment changed.
func assignPoints(proj, centers [][]float64, assign []int, dist []float64, workers int) bool {
	n := len(proj)
	if workers < 1 {
		workers = runtime.GOMAXPROCS(-1)
	}
	if workers > n {
		workers = n
	}
	shard := (n + workers - 1) / workers
	changedChan := make(chan bool)
	for w := 0; w < workers; w++ {
		go func(begin, end int) {
			changed := false
			for i := begin; i < end; i++ {
				best, bd := nearestCentroid(proj[i], centers)
				if best != assign[i] {
					changed = true
				}
				assign[i] = best
				dist[i] = bd
			}
			changedChan <- changed
		}(w*shard, imin((w+1)*shard, n))
	}
	var changed bool
	for w := 0; w < workers; w++ {
		changed = <-changedChan || changed
	}
	return changed
}

// nearestCentroid returns the index of and distance to the nearest centroid.
// Strict comparison keeps the lowest index on ties.
func nearestCentroid(p []float64, centers [][]float64) (int, float64) {
	best, bd := 0, math.Inf(1)
	for c, ctr := range centers {
		if d := floats.Distance(p, ctr, 2); d < bd {
			best, bd = c, d
		}
	}
	return best, bd
}

// validityScore computes the dispersion-ratio score used for candidate
// selection: within-cluster sum of squares over between-cluster sum of
// squares, each normalized by its degrees of freedom. Lower is better. This
// is the inverse of the Calinski-Harabasz variance ratio.
func validityScore(proj [][]float64, f *fitResult) float64 {
	n := len(proj)
	k := len(f.centers)
	// The score is undefined for k == 1 (no between-cluster dispersion) and
	// for n <= k (no within-cluster degrees of freedom); such fits never win
	// a sweep against a defined score.
	if k <= 1 || n <= k {
		return math.Inf(1)
	}
	grand := make([]float64, len(proj[0]))
	for _, p := range proj {
		floats.Add(grand, p)
	}
	floats.Scale(1/float64(n), grand)
	counts := make([]int, k)
	for _, a := range f.assign {
		counts[a]++
	}
	var between float64
	for c, ctr := range f.centers {
		d := floats.Distance(ctr, grand, 2)
		between += float64(counts[c]) * d * d
	}
	if between == 0 {
		return math.Inf(1)
	}
	return (f.wcss / float64(n-k)) / (between / float64(k-1))
}

func imin(a, b int) int {
	if a < b {
		return a
	}
	return b
}
