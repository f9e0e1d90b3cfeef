// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package cluster partitions protein quantification profiles with k-means.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/524D/mzquant/quant"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// ErrInvalidClusterCount is returned when k is not positive or exceeds the
// number of distinct clusterable profiles.
var ErrInvalidClusterCount = fmt.Errorf("%w: cluster count", quant.ErrInvalidParameter)

// ErrNoSource is returned by Builder.Build without a profile source.
var ErrNoSource = errors.New("cluster: no profile source")

const defaultMaxIterations = 100

// Options controls KMeans.
type Options struct {
	K             int
	Seed          int64
	MaxIterations int // 100 if <= 0
}

// Result is an immutable clustering.
type Result struct {
	K           int
	Seed        int64
	Assignments map[string]int // Profile key to cluster index
	Centroids   [][]float64
	Sizes       []int
	Excluded    []string // Keys of profiles with undefined values
	Iterations  int
}

// Members returns the keys assigned to cluster i in sorted order.
func (r *Result) Members(i int) []string {
	var keys []string
	for k, c := range r.Assignments {
		if c == i {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func complete(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// distinct returns the number of distinct points.
func distinct(points [][]float64) int {
	n := 0
	for i := range points {
		dup := false
		for j := 0; j < i; j++ {
			if floats.Equal(points[i], points[j]) {
				dup = true
				break
			}
		}
		if !dup {
			n++
		}
	}
	return n
}

// KMeans partitions the complete profiles into opts.K clusters. Profiles
// with NaN or infinite values are listed in Result.Excluded. The result
// only depends on the set of profiles and opts.
func KMeans(ctx context.Context, profiles []quant.Profile, opts Options) (*Result, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	sorted := make([]quant.Profile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	res := &Result{
		K:           opts.K,
		Seed:        opts.Seed,
		Assignments: make(map[string]int),
	}
	var keys []string
	var points [][]float64
	for _, p := range sorted {
		if !complete(p.Values) {
			res.Excluded = append(res.Excluded, p.Key)
			continue
		}
		if len(points) > 0 && len(p.Values) != len(points[0]) {
			return nil, fmt.Errorf("%w: profile %s has %d values, want %d",
				quant.ErrInvalidParameter, p.Key, len(p.Values), len(points[0]))
		}
		keys = append(keys, p.Key)
		points = append(points, p.Values)
	}
	if opts.K <= 0 {
		return nil, fmt.Errorf("%w: k=%d must be positive", ErrInvalidClusterCount, opts.K)
	}
	if n := distinct(points); opts.K > n {
		return nil, fmt.Errorf("%w: k=%d exceeds %d distinct profiles", ErrInvalidClusterCount, opts.K, n)
	}

	src := rand.NewSource(uint64(opts.Seed))
	centroids := seed(points, opts.K, src)
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}
	dim := len(points[0])
	sizes := make([]int, opts.K)

	iter := 0
	for iter < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, quantCanceled(err)
		}
		iter++
		changed := false
		for i, p := range points {
			c := nearest(p, centroids)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		moved, err := reseed(points, assign, centroids, opts.K)
		if err != nil {
			return nil, err
		}
		changed = changed || moved
		for c := range centroids {
			centroids[c] = make([]float64, dim)
			sizes[c] = 0
		}
		for i, p := range points {
			floats.Add(centroids[assign[i]], p)
			sizes[assign[i]]++
		}
		for c := range centroids {
			floats.Scale(1/float64(sizes[c]), centroids[c])
		}
		if !changed {
			break
		}
	}

	for i, k := range keys {
		res.Assignments[k] = assign[i]
	}
	res.Centroids = centroids
	res.Sizes = sizes
	res.Iterations = iter
	return res, nil
}

func quantCanceled(err error) error {
	return fmt.Errorf("%w: %w", quant.ErrCanceled, err)
}

// seed selects k initial centroids with k-means++.
func seed(points [][]float64, k int, src rand.Source) [][]float64 {
	rnd := rand.New(src)
	centroids := make([][]float64, 0, k)
	first := rnd.Intn(len(points))
	centroids = append(centroids, append([]float64(nil), points[first]...))

	w := make([]float64, len(points))
	for len(centroids) < k {
		for i, p := range points {
			d := floats.Distance(p, centroids[nearest(p, centroids)], 2)
			w[i] = d * d
		}
		idx, ok := sampleuv.NewWeighted(w, src).Take()
		if !ok {
			// All remaining points coincide with a centroid
			break
		}
		centroids = append(centroids, append([]float64(nil), points[idx]...))
	}
	for len(centroids) < k {
		centroids = append(centroids, farthestDistinct(points, centroids))
	}
	return centroids
}

// farthestDistinct returns the point farthest from its nearest centroid.
func farthestDistinct(points, centroids [][]float64) []float64 {
	best, bestDist := 0, -1.0
	for i, p := range points {
		d := floats.Distance(p, centroids[nearest(p, centroids)], 2)
		if d > bestDist {
			best, bestDist = i, d
		}
	}
	return append([]float64(nil), points[best]...)
}

// nearest returns the index of the centroid nearest to p, lowest index on
// ties.
func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(p, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// reseed moves a point into every empty cluster. The point taken is the one
// farthest from its centroid among clusters with more than one member.
// It reports whether any point was moved.
func reseed(points [][]float64, assign []int, centroids [][]float64, k int) (bool, error) {
	moved := false
	for {
		sizes := make([]int, k)
		for _, c := range assign {
			sizes[c]++
		}
		empty := -1
		for c, n := range sizes {
			if n == 0 {
				empty = c
				break
			}
		}
		if empty < 0 {
			return moved, nil
		}
		best, bestDist := -1, -1.0
		for i, p := range points {
			if sizes[assign[i]] < 2 {
				continue
			}
			if d := floats.Distance(p, centroids[assign[i]], 2); d > bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			return moved, fmt.Errorf("%w: cannot fill empty cluster %d", ErrInvalidClusterCount, empty)
		}
		assign[best] = empty
		moved = true
		centroids[empty] = append([]float64(nil), points[best]...)
	}
}

// Source returns the profiles to cluster, typically the filtered proteins
// of a project.
type Source func(ctx context.Context) ([]quant.Profile, error)

// Builder runs KMeans on the profiles of a Source and keeps the last result.
// It is safe for concurrent use.
type Builder struct {
	Source Source
	Seed   int64
	// MaxIterations is passed to KMeans.
	MaxIterations int

	mu       sync.Mutex
	profiles []quant.Profile
	loaded   bool
	result   atomic.Pointer[Result]
}

// Build clusters the profiles into k clusters. With reload set, or on the
// first call, the profiles are fetched from the Source; otherwise the
// profiles of the previous call are reused. On success the result replaces
// the previous one.
func (b *Builder) Build(ctx context.Context, k int, reload bool) (*Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k=%d must be positive", ErrInvalidClusterCount, k)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if reload || !b.loaded {
		if b.Source == nil {
			return nil, ErrNoSource
		}
		p, err := b.Source(ctx)
		if err != nil {
			return nil, err
		}
		b.profiles = p
		b.loaded = true
	}
	res, err := KMeans(ctx, b.profiles, Options{K: k, Seed: b.Seed, MaxIterations: b.MaxIterations})
	if err != nil {
		return nil, err
	}
	b.result.Store(res)
	return res, nil
}

// Result returns the last successful clustering, or nil.
func (b *Builder) Result() *Result {
	return b.result.Load()
}
