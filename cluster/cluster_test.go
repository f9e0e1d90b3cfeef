// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/524D/mzquant/quant"
	"github.com/google/go-cmp/cmp"
)

// groups returns n profiles around each of the centers, with small offsets.
func groups(centers [][]float64, n int) []quant.Profile {
	var profiles []quant.Profile
	for g, c := range centers {
		for i := 0; i < n; i++ {
			v := make([]float64, len(c))
			for d := range c {
				v[d] = c[d] + 0.01*float64((i+d)%5-2)
			}
			profiles = append(profiles, quant.Profile{Key: fmt.Sprintf("G%d_P%02d", g, i), Values: v})
		}
	}
	return profiles
}

var threeCenters = [][]float64{{0, 0, 0}, {5, 5, -1}, {-5, 4, 2}}

func TestKMeansSeparated(t *testing.T) {
	profiles := groups(threeCenters, 10)
	res, err := KMeans(context.Background(), profiles, Options{K: 3, Seed: 42})
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	for g := range threeCenters {
		first := res.Assignments[fmt.Sprintf("G%d_P00", g)]
		for i := 1; i < 10; i++ {
			key := fmt.Sprintf("G%d_P%02d", g, i)
			if res.Assignments[key] != first {
				t.Errorf("%s in cluster %d, want %d", key, res.Assignments[key], first)
			}
		}
		if len(res.Members(first)) != 10 {
			t.Errorf("Cluster %d has %d members, want 10", first, len(res.Members(first)))
		}
	}
	for c, centroid := range res.Centroids {
		found := false
		for _, center := range threeCenters {
			if dist(centroid, center) < 0.1 {
				found = true
			}
		}
		if !found {
			t.Errorf("Centroid %d %v is not near any group center", c, centroid)
		}
	}
}

func dist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return math.Sqrt(s)
}

func TestKMeansDeterministic(t *testing.T) {
	profiles := groups([][]float64{{0, 1}, {0.5, 0.5}, {1, 0}, {0.2, 0.2}}, 7)
	a, err := KMeans(context.Background(), profiles, Options{K: 4, Seed: 7})
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	// Input order must not matter
	reversed := make([]quant.Profile, len(profiles))
	for i, p := range profiles {
		reversed[len(profiles)-1-i] = p
	}
	b, err := KMeans(context.Background(), reversed, Options{K: 4, Seed: 7})
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Results differ (-first +second):\n%s", diff)
	}
}

func TestKMeansCompleteness(t *testing.T) {
	profiles := groups(threeCenters, 6)
	profiles = append(profiles,
		quant.Profile{Key: "nan", Values: []float64{0, math.NaN(), 1}},
		quant.Profile{Key: "inf", Values: []float64{math.Inf(-1), 0, 1}},
	)
	for k := 1; k <= 5; k++ {
		res, err := KMeans(context.Background(), profiles, Options{K: k, Seed: 1})
		if err != nil {
			t.Fatalf("KMeans k=%d: %v", k, err)
		}
		if diff := cmp.Diff([]string{"inf", "nan"}, res.Excluded); diff != "" {
			t.Errorf("k=%d: Excluded mismatch (-want +got):\n%s", k, diff)
		}
		if len(res.Assignments) != 18 {
			t.Errorf("k=%d: %d assignments, want 18", k, len(res.Assignments))
		}
		total := 0
		for c, n := range res.Sizes {
			if n == 0 {
				t.Errorf("k=%d: cluster %d is empty", k, c)
			}
			if len(res.Members(c)) != n {
				t.Errorf("k=%d: cluster %d size %d, %d members", k, c, n, len(res.Members(c)))
			}
			total += n
		}
		if total != 18 {
			t.Errorf("k=%d: cluster sizes sum to %d, want 18", k, total)
		}
		if len(res.Centroids) != k {
			t.Errorf("k=%d: %d centroids", k, len(res.Centroids))
		}
	}
}

func TestKMeansInvalidK(t *testing.T) {
	profiles := []quant.Profile{
		{Key: "a", Values: []float64{1, 1}},
		{Key: "b", Values: []float64{1, 1}},
		{Key: "c", Values: []float64{2, 1}},
		{Key: "d", Values: []float64{math.NaN(), 1}},
	}
	for _, k := range []int{-1, 0, 3, 4} {
		_, err := KMeans(context.Background(), profiles, Options{K: k})
		if !errors.Is(err, ErrInvalidClusterCount) {
			t.Errorf("k=%d: expected ErrInvalidClusterCount, got %v", k, err)
		}
		if !errors.Is(err, quant.ErrInvalidParameter) {
			t.Errorf("k=%d: expected ErrInvalidParameter, got %v", k, err)
		}
	}
	res, err := KMeans(context.Background(), profiles, Options{K: 2})
	if err != nil {
		t.Fatalf("k=2: %v", err)
	}
	if res.Assignments["a"] != res.Assignments["b"] || res.Assignments["a"] == res.Assignments["c"] {
		t.Errorf("Unexpected assignments %v", res.Assignments)
	}
	if _, err := KMeans(context.Background(), nil, Options{K: 1}); !errors.Is(err, ErrInvalidClusterCount) {
		t.Errorf("No profiles: expected ErrInvalidClusterCount, got %v", err)
	}
}

func TestKMeansCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := KMeans(ctx, groups(threeCenters, 3), Options{K: 2})
	if !errors.Is(err, quant.ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected canceled error, got %v", err)
	}
}

func TestReseed(t *testing.T) {
	points := [][]float64{{0}, {1}, {10}, {11}}
	assign := []int{0, 0, 0, 0}
	centroids := [][]float64{{5.5}, {100}, {200}}
	moved, err := reseed(points, assign, centroids, 3)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if !moved {
		t.Errorf("Expected points to be moved")
	}
	sizes := make([]int, 3)
	for _, c := range assign {
		sizes[c]++
	}
	for c, n := range sizes {
		if n == 0 {
			t.Errorf("Cluster %d still empty: %v", c, assign)
		}
	}
	// Single member clusters can't give up their point
	_, err = reseed([][]float64{{0}, {1}}, []int{0, 1}, [][]float64{{0}, {1}, {2}}, 3)
	if !errors.Is(err, ErrInvalidClusterCount) {
		t.Errorf("Expected ErrInvalidClusterCount, got %v", err)
	}
}

func TestBuilder(t *testing.T) {
	loads := 0
	profiles := groups(threeCenters, 4)
	b := &Builder{
		Seed: 3,
		Source: func(ctx context.Context) ([]quant.Profile, error) {
			loads++
			return profiles, nil
		},
	}
	if b.Result() != nil {
		t.Errorf("Expected no result before Build")
	}
	first, err := b.Build(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if b.Result() != first {
		t.Errorf("Result does not return the last clustering")
	}
	if _, err := b.Build(context.Background(), 2, false); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if loads != 1 {
		t.Errorf("Expected cached profiles to be reused, %d loads", loads)
	}
	again, err := b.Build(context.Background(), 3, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if loads != 2 {
		t.Errorf("Expected profiles to be reloaded, %d loads", loads)
	}
	if diff := cmp.Diff(first, again); diff != "" {
		t.Errorf("Rebuild differs (-first +again):\n%s", diff)
	}

	// A failed build keeps the previous result
	if _, err := b.Build(context.Background(), 100, false); !errors.Is(err, ErrInvalidClusterCount) {
		t.Errorf("Expected ErrInvalidClusterCount, got %v", err)
	}
	if b.Result() != again {
		t.Errorf("Failed build replaced the result")
	}

	// k is checked before the profiles are reloaded
	if _, err := b.Build(context.Background(), 0, true); !errors.Is(err, ErrInvalidClusterCount) {
		t.Errorf("Expected ErrInvalidClusterCount, got %v", err)
	}
	if loads != 2 {
		t.Errorf("Invalid k reloaded the profiles, %d loads", loads)
	}

	var empty Builder
	if _, err := empty.Build(context.Background(), 1, true); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
}
