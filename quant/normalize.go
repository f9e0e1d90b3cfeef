// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import (
	"context"
	"log"
	"math"
)

// Factors maps a channel index to its multiplicative normalization factor.
type Factors map[int]float64

// UnitFactors returns factors of 1.0 for every channel of m.
func UnitFactors(m Method) Factors {
	f := make(Factors, len(m.Channels))
	for _, c := range m.Channels {
		f[c.Index] = 1
	}
	return f
}

// Get returns the factor of a channel, 1.0 if it has none.
func (f Factors) Get(channel int) float64 {
	if v, ok := f[channel]; ok {
		return v
	}
	return 1
}

func (f Factors) clone() Factors {
	c := make(Factors, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Normalizer computes the per channel normalization factors of one match
// level, such that the median ratio of each channel becomes 1.0.
type Normalizer struct {
	Method Method
	// Channels with fewer usable ratios than MinObservations get factor 1.0.
	MinObservations int
	Logger          *log.Logger
}

// Factors computes the factors of level from the ratios of the matches in
// keys. value returns the ratio of a match channel, and false if the ratio is
// unusable or excluded. The reference channel always gets factor 1.0.
func (n Normalizer) Factors(ctx context.Context, level MatchLevel,
	keys []string, value func(key string, channel int) (float64, bool)) (Factors, error) {

	logs := make(map[int][]float64, len(n.Method.Channels))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err)
		}
		for _, c := range n.Method.Channels {
			if c.Index == n.Method.Reference {
				continue
			}
			r, ok := value(key, c.Index)
			if !ok || !(r > 0) || math.IsInf(r, 0) {
				continue
			}
			logs[c.Index] = append(logs[c.Index], math.Log2(r))
		}
	}

	minObs := n.MinObservations
	if minObs < 1 {
		minObs = 1
	}
	f := UnitFactors(n.Method)
	for _, c := range n.Method.Channels {
		if c.Index == n.Method.Reference {
			continue
		}
		x := logs[c.Index]
		if len(x) < minObs {
			n.logger().Printf("WARNING: %d usable %s ratios for channel %s, need %d, using factor 1",
				len(x), level, c.Name, minObs)
			continue
		}
		f[c.Index] = math.Exp2(-median(x))
	}
	return f, nil
}

func (n Normalizer) logger() *log.Logger {
	if n.Logger == nil {
		return log.Default()
	}
	return n.Logger
}
