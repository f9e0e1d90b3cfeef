// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package quant computes isobaric reporter ion (iTRAQ/TMT) ratio estimates.
//
// Raw per-spectrum ratios (channel intensity divided by reference channel
// intensity) are normalized per channel, combined into robust estimates at
// spectrum, peptide and protein level, and scored for quality. Missing data
// is represented by NaN ratios, never by errors.
package quant

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// MatchLevel is the level of a match in the identification hierarchy.
// A protein owns peptides, a peptide owns spectra.
type MatchLevel int

const (
	LevelSpectrum MatchLevel = iota
	LevelPeptide
	LevelProtein
)

// Levels lists all match levels from fine to coarse, which is also the
// order in which they must be processed.
var Levels = []MatchLevel{LevelSpectrum, LevelPeptide, LevelProtein}

func (l MatchLevel) String() string {
	switch l {
	case LevelSpectrum:
		return "spectrum"
	case LevelPeptide:
		return "peptide"
	case LevelProtein:
		return "protein"
	}
	return fmt.Sprintf("MatchLevel(%d)", int(l))
}

// Valid reports whether l is one of the defined levels.
func (l MatchLevel) Valid() bool {
	return l >= LevelSpectrum && l <= LevelProtein
}

// Child returns the level of the matches owned by a match at level l.
// Spectra have no children.
func (l MatchLevel) Child() (MatchLevel, bool) {
	if l == LevelPeptide || l == LevelProtein {
		return l - 1, true
	}
	return 0, false
}

// Parent returns the level of the matches that own a match at level l.
func (l MatchLevel) Parent() (MatchLevel, bool) {
	if l == LevelSpectrum || l == LevelPeptide {
		return l + 1, true
	}
	return 0, false
}

// ParseLevel converts a level name as returned by String back to a MatchLevel.
func ParseLevel(s string) (MatchLevel, error) {
	for _, l := range Levels {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown match level %q", s)
}

// Channel is a single reporter ion reagent.
type Channel struct {
	Index int     // Reporter ion index, unique within a method
	Mz    float64 // Theoretical m/z of the reporter ion
	Name  string  // Display name, e.g. "114" or "127N"
}

// Method is a set of reagents, ordered by mass, with one channel designated
// as the ratio denominator.
type Method struct {
	Name      string
	Channels  []Channel
	Reference int // Index of the reference channel
}

// Validate checks that the method can be used for quantification.
func (m Method) Validate() error {
	if len(m.Channels) == 0 {
		return &ParameterError{Name: "method", Reason: "no channels"}
	}
	seen := make(map[int]bool, len(m.Channels))
	refFound := false
	for i, c := range m.Channels {
		if seen[c.Index] {
			return &ParameterError{Name: "method", Value: float64(c.Index),
				Reason: "duplicate channel index"}
		}
		seen[c.Index] = true
		if c.Index == m.Reference {
			refFound = true
		}
		if i > 0 && c.Mz < m.Channels[i-1].Mz {
			return &ParameterError{Name: "method", Value: c.Mz,
				Reason: "channels must be ordered by mass"}
		}
	}
	if !refFound {
		return &ParameterError{Name: "reference", Value: float64(m.Reference),
			Reason: "reference channel is not part of the method"}
	}
	return nil
}

// Channel returns the channel with the given index.
func (m Method) Channel(index int) (Channel, bool) {
	for _, c := range m.Channels {
		if c.Index == index {
			return c, true
		}
	}
	return Channel{}, false
}

// ChannelByName returns the channel with the given display name.
func (m Method) ChannelByName(name string) (Channel, bool) {
	for _, c := range m.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return Channel{}, false
}

// Indices returns all channel indices in mass order.
func (m Method) Indices() []int {
	idx := make([]int, len(m.Channels))
	for i, c := range m.Channels {
		idx[i] = c.Index
	}
	return idx
}

// Status tells why an estimate does or does not carry a ratio.
type Status int

const (
	StatusOK      Status = iota // Ratio computed from at least one observation
	StatusNoData                // No observation available
	StatusIgnored               // Observations available, but all of them excluded
	StatusFailed                // Numeric failure during estimation
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no data"
	case StatusIgnored:
		return "ignored"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// RatioEstimate is the result of estimating one channel of one match.
type RatioEstimate struct {
	Ratio      float64 // Linear ratio, NaN if no usable observations
	Center     float64 // Robust center in log2 space
	MAD        float64 // Median absolute deviation (log2) about the final center
	Scale      float64 // K*MAD, the threshold beyond which observations are down-weighted
	Retained   int     // Observations that entered estimation
	Discarded  int     // Retained observations whose final weight is near zero
	Excluded   int     // Observations excluded by ignore flags or ratio bounds
	Iterations int
	Status     Status
}

// Usable reports whether the estimate carries a finite ratio.
func (e RatioEstimate) Usable() bool {
	return e.Status == StatusOK && !math.IsNaN(e.Ratio) && !math.IsInf(e.Ratio, 0)
}

// scaled returns the estimate multiplied by a normalization factor.
func (e RatioEstimate) scaled(factor float64) RatioEstimate {
	if factor == 1 || !e.Usable() {
		return e
	}
	e.Ratio *= factor
	e.Center += math.Log2(factor)
	return e
}

func noData() RatioEstimate {
	return RatioEstimate{Ratio: math.NaN(), Center: math.NaN(), Status: StatusNoData}
}

// Parameters controls ratio estimation.
type Parameters struct {
	Resolution    float64 // Convergence tolerance of the center, in log2 units
	K             float64 // Multiple of the MAD used as outlier threshold
	RatioMin      float64 // Observations below RatioMin are excluded
	RatioMax      float64 // Observations above RatioMax are excluded
	MaxIterations int     // Iteration cap for the M-estimator
}

// DefaultParameters returns the default estimation parameters.
// K defaults to the Gaussian consistency constant for the MAD.
func DefaultParameters() Parameters {
	return Parameters{
		Resolution:    0.01,
		K:             1.4826,
		RatioMin:      0.01,
		RatioMax:      100,
		MaxIterations: 50,
	}
}

// Validate returns a *ParameterError for the first invalid parameter.
func (p Parameters) Validate() error {
	if !(p.Resolution > 0) || math.IsInf(p.Resolution, 0) {
		return &ParameterError{Name: "resolution", Value: p.Resolution, Reason: "must be positive"}
	}
	if !(p.K > 0) || math.IsInf(p.K, 0) {
		return &ParameterError{Name: "k", Value: p.K, Reason: "must be positive"}
	}
	if err := validateBounds(p.RatioMin, p.RatioMax); err != nil {
		return err
	}
	if p.MaxIterations <= 0 {
		return &ParameterError{Name: "max iterations", Value: float64(p.MaxIterations),
			Reason: "must be positive"}
	}
	return nil
}

func validateBounds(min, max float64) error {
	if !(min > 0) || math.IsInf(min, 0) {
		return &ParameterError{Name: "ratio min", Value: min, Reason: "must be positive"}
	}
	if !(max > min) || math.IsInf(max, 0) {
		return &ParameterError{Name: "ratio max", Value: max, Reason: "must exceed ratio min"}
	}
	return nil
}

var (
	// ErrInvalidParameter is wrapped by all parameter validation errors
	ErrInvalidParameter = errors.New("quant: invalid parameter")
	// ErrCanceled is returned (joined with the context error) when a pass is aborted
	ErrCanceled = errors.New("quant: canceled")
	// ErrUnknownLevel means a match level outside the hierarchy was supplied
	ErrUnknownLevel = errors.New("quant: unknown match level")
	// ErrUnknownChannel means a channel index that is not part of the method was supplied
	ErrUnknownChannel = errors.New("quant: unknown channel")
)

// ParameterError describes an invalid parameter value.
type ParameterError struct {
	Name   string
	Value  float64
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s (%g): %s", e.Name, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// canceled wraps a context error so that both ErrCanceled and the context
// error can be detected with errors.Is.
func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

// sortedKeys returns the keys of a set in sorted order.
func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
