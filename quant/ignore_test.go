// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIgnoreIdempotent(t *testing.T) {
	r, err := NewIgnoreRegistry(0.01, 100)
	if err != nil {
		t.Fatalf("NewIgnoreRegistry: %v", err)
	}
	var changes []Change
	r.Notify(func(c Change) { changes = append(changes, c) })

	if !r.Ignore(LevelPeptide, "PEPTIDEK", 2) {
		t.Errorf("First Ignore should change state")
	}
	if r.Ignore(LevelPeptide, "PEPTIDEK", 2) {
		t.Errorf("Second Ignore should not change state")
	}
	if !r.IsIgnored(LevelPeptide, "PEPTIDEK", 2) {
		t.Errorf("Channel 2 should be ignored")
	}
	if r.IsIgnored(LevelProtein, "PEPTIDEK", 2) {
		t.Errorf("Ignore flags must be kept per level")
	}
	if !r.Account(LevelPeptide, "PEPTIDEK", 2) {
		t.Errorf("Account after Ignore should change state")
	}
	if r.Account(LevelPeptide, "PEPTIDEK", 2) {
		t.Errorf("Second Account should not change state")
	}
	if r.IsIgnored(LevelPeptide, "PEPTIDEK", 2) {
		t.Errorf("Channel 2 should be accounted")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d entries", r.Len())
	}

	want := []Change{
		{Level: LevelPeptide, Key: "PEPTIDEK", Channel: 2},
		{Level: LevelPeptide, Key: "PEPTIDEK", Channel: 2},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}
}

func TestIgnored(t *testing.T) {
	r, _ := NewIgnoreRegistry(0.01, 100)
	r.Ignore(LevelSpectrum, "scan=12", 3)
	r.Ignore(LevelSpectrum, "scan=12", 1)
	r.Ignore(LevelSpectrum, "scan=13", 2)
	if diff := cmp.Diff([]int{1, 3}, r.Ignored(LevelSpectrum, "scan=12")); diff != "" {
		t.Errorf("Ignored mismatch (-want +got):\n%s", diff)
	}
	if got := r.Ignored(LevelSpectrum, "scan=14"); len(got) != 0 {
		t.Errorf("Expected no ignored channels, got %v", got)
	}
}

func TestBounds(t *testing.T) {
	r, _ := NewIgnoreRegistry(0.5, 10)
	tests := []struct {
		ratio float64
		in    bool
	}{
		{0.49, false},
		{0.5, true},
		{1, true},
		{10, true},
		{10.01, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}
	for _, tt := range tests {
		if got := r.InBounds(tt.ratio); got != tt.in {
			t.Errorf("InBounds(%v) = %v, want %v", tt.ratio, got, tt.in)
		}
		// Out of bounds ratios are excluded regardless of the manual flags
		if got := r.Excluded(LevelSpectrum, "scan=1", 1, tt.ratio); got != !tt.in {
			t.Errorf("Excluded(%v) = %v, want %v", tt.ratio, got, !tt.in)
		}
	}
	r.Ignore(LevelSpectrum, "scan=1", 1)
	if !r.Excluded(LevelSpectrum, "scan=1", 1, 1) {
		t.Errorf("Ignored in-bounds ratio should be excluded")
	}
	if r.Len() != 1 {
		t.Errorf("Bounds must not modify the manual flags, got %d entries", r.Len())
	}
}

func TestSetBounds(t *testing.T) {
	r, _ := NewIgnoreRegistry(0.01, 100)
	all := 0
	r.Notify(func(c Change) {
		if c.All {
			all++
		}
	})
	invalid := [][2]float64{
		{0, 10},
		{-1, 10},
		{2, 2},
		{3, 2},
		{math.NaN(), 10},
		{1, math.Inf(1)},
	}
	for _, b := range invalid {
		err := r.SetBounds(b[0], b[1])
		if !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("SetBounds(%v, %v): expected ErrInvalidParameter, got %v", b[0], b[1], err)
		}
	}
	if min, max := r.Bounds(); min != 0.01 || max != 100 {
		t.Errorf("Invalid bounds must not be applied, got %v:%v", min, max)
	}
	if err := r.SetBounds(0.1, 10); err != nil {
		t.Errorf("SetBounds: %v", err)
	}
	if err := r.SetBounds(0.1, 10); err != nil {
		t.Errorf("SetBounds: %v", err)
	}
	if all != 1 {
		t.Errorf("Expected 1 bounds change signal, got %d", all)
	}
	if _, err := NewIgnoreRegistry(5, 1); err == nil {
		t.Errorf("NewIgnoreRegistry(5, 1): expected error")
	}
}
