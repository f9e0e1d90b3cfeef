// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import "math"

// ChannelScore is the quality of a single channel estimate. It grows with
// the number of non-discarded observations and shrinks with the robust
// scale. An estimate without a usable ratio scores 0.
func ChannelScore(e RatioEstimate) float64 {
	if !e.Usable() {
		return 0
	}
	return float64(e.Retained-e.Discarded) / (1 + e.Scale)
}

// QualityScore returns the quality of a match: the lowest ChannelScore over
// all channels except ref. It returns NaN if there is no such channel.
func QualityScore(estimates map[int]RatioEstimate, ref int) float64 {
	score := math.NaN()
	for c, e := range estimates {
		if c == ref {
			continue
		}
		s := ChannelScore(e)
		if math.IsNaN(score) || s < score {
			score = s
		}
	}
	return score
}
