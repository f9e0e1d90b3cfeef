// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Observations with a final weight below discardWeight count as discarded.
const discardWeight = 0.1

// median returns the median of x, or NaN if x is empty.
// For an even number of values the two middle values are averaged.
func median(x []float64) float64 {
	m, err := stats.Median(x)
	if err != nil {
		return math.NaN()
	}
	return m
}

// mad returns the median absolute deviation of x about center.
func mad(x []float64, center float64) float64 {
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - center)
	}
	return median(dev)
}

// huberWeights sets w[i] to the Huber weight of x[i] relative to center.
// Values within scale get weight 1, values beyond it get scale/|d|.
func huberWeights(w, x []float64, center, scale float64) {
	for i, v := range x {
		d := math.Abs(v - center)
		switch {
		case d <= scale:
			w[i] = 1
		default:
			w[i] = scale / d
		}
	}
}

// Estimate returns the robust ratio estimate of values, which must already
// be normalized and filtered. Estimation is done in log2 space, starting
// from the median and reweighting with Huber weights until the center moves
// less than p.Resolution or p.MaxIterations is reached.
func Estimate(values []float64, p Parameters) RatioEstimate {
	return estimate(values, p, nil)
}

// estimate is Estimate with an optional trace function that receives each
// successive center.
func estimate(values []float64, p Parameters, trace func(center float64)) RatioEstimate {
	if len(values) == 0 {
		return noData()
	}
	if len(values) == 1 {
		return RatioEstimate{
			Ratio:    values[0],
			Center:   math.Log2(values[0]),
			Retained: 1,
			Status:   StatusOK,
		}
	}

	x := make([]float64, len(values))
	for i, v := range values {
		x[i] = math.Log2(v)
	}
	w := make([]float64, len(x))

	center := median(x)
	if trace != nil {
		trace(center)
	}
	maxStep := math.Inf(1)
	iter := 0
	for iter < p.MaxIterations {
		scale := p.K * mad(x, center)
		huberWeights(w, x, center, scale)
		next := stat.Mean(x, w)
		if math.IsNaN(next) {
			// All weights zero
			break
		}
		iter++
		step := next - center
		// Steps may only shrink, so the iteration can't oscillate
		if math.Abs(step) > maxStep {
			step = math.Copysign(maxStep, step)
		}
		center += step
		if trace != nil {
			trace(center)
		}
		if math.Abs(step) < p.Resolution {
			break
		}
		maxStep = math.Abs(step)
	}

	m := mad(x, center)
	scale := p.K * m
	huberWeights(w, x, center, scale)
	discarded := 0
	for _, wi := range w {
		if wi < discardWeight {
			discarded++
		}
	}
	return RatioEstimate{
		Ratio:      math.Exp2(center),
		Center:     center,
		MAD:        m,
		Scale:      scale,
		Retained:   len(x),
		Discarded:  discarded,
		Iterations: iter,
		Status:     StatusOK,
	}
}
