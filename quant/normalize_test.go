// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"testing"
)

func testMethod() Method {
	return Method{
		Name: "test3",
		Channels: []Channel{
			{Index: 0, Mz: 114.1112, Name: "114"},
			{Index: 1, Mz: 115.1083, Name: "115"},
			{Index: 2, Mz: 116.1116, Name: "116"},
		},
		Reference: 0,
	}
}

func TestNormalizerFactors(t *testing.T) {
	ratios := map[string][]float64{
		"a": {1, 2, 0.5},
		"b": {1, 4, math.NaN()},
		"c": {1, 1, 0.5},
	}
	var buf bytes.Buffer
	n := Normalizer{Method: testMethod(), Logger: log.New(&buf, "", 0)}
	f, err := n.Factors(context.Background(), LevelSpectrum, []string{"a", "b", "c"},
		func(key string, channel int) (float64, bool) {
			return ratios[key][channel], true
		})
	if err != nil {
		t.Fatalf("Factors: %v", err)
	}
	if f[0] != 1 {
		t.Errorf("Reference factor %v, want 1", f[0])
	}
	if math.Abs(f[1]-0.5) > 1e-12 {
		t.Errorf("Channel 1 factor %v, want 0.5", f[1])
	}
	if math.Abs(f[2]-2) > 1e-12 {
		t.Errorf("Channel 2 factor %v, want 2", f[2])
	}
	if buf.Len() != 0 {
		t.Errorf("Unexpected warning: %s", buf.String())
	}
}

func TestNormalizerTooFewObservations(t *testing.T) {
	var buf bytes.Buffer
	n := Normalizer{Method: testMethod(), MinObservations: 2, Logger: log.New(&buf, "", 0)}
	f, err := n.Factors(context.Background(), LevelPeptide, []string{"a"},
		func(key string, channel int) (float64, bool) {
			return 4, channel != 2
		})
	if err != nil {
		t.Fatalf("Factors: %v", err)
	}
	for c, v := range f {
		if v != 1 {
			t.Errorf("Channel %d factor %v, want 1", c, v)
		}
	}
	if !strings.Contains(buf.String(), "WARNING") {
		t.Errorf("Expected a warning, got %q", buf.String())
	}
}

func TestNormalizerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := Normalizer{Method: testMethod()}
	_, err := n.Factors(ctx, LevelSpectrum, []string{"a"},
		func(key string, channel int) (float64, bool) { return 1, true })
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected canceled error, got %v", err)
	}
}

func TestFactorsGet(t *testing.T) {
	f := Factors{1: 0.5}
	if f.Get(1) != 0.5 || f.Get(7) != 1 {
		t.Errorf("Get: unexpected values %v, %v", f.Get(1), f.Get(7))
	}
}
