// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import (
	"math"
	"sync"
)

type matchRef struct {
	level MatchLevel
	key   string
}

// Change describes a modification of the IgnoreRegistry. When All is set,
// the global ratio bounds changed and every match is affected.
type Change struct {
	Level   MatchLevel
	Key     string
	Channel int
	All     bool
}

// IgnoreRegistry keeps the manually ignored ratio observations, and the
// global ratio bounds outside of which observations are ignored automatically.
// It is safe for concurrent use; writes are serialized.
type IgnoreRegistry struct {
	mu        sync.RWMutex
	ignored   map[matchRef]map[int]bool
	ratioMin  float64
	ratioMax  float64
	listeners []func(Change)
}

// NewIgnoreRegistry returns an empty registry with the given ratio bounds.
func NewIgnoreRegistry(ratioMin, ratioMax float64) (*IgnoreRegistry, error) {
	if err := validateBounds(ratioMin, ratioMax); err != nil {
		return nil, err
	}
	return &IgnoreRegistry{
		ignored:  make(map[matchRef]map[int]bool),
		ratioMin: ratioMin,
		ratioMax: ratioMax,
	}, nil
}

// Notify registers fn to be called after every change of the registry.
// fn is called without the registry lock held.
func (r *IgnoreRegistry) Notify(fn func(Change)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *IgnoreRegistry) signal(c Change) {
	r.mu.RLock()
	listeners := make([]func(Change), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Ignore marks the channel of a match as ignored. It returns true if the
// state changed.
func (r *IgnoreRegistry) Ignore(level MatchLevel, key string, channel int) bool {
	ref := matchRef{level, key}
	r.mu.Lock()
	set, ok := r.ignored[ref]
	if !ok {
		set = make(map[int]bool)
		r.ignored[ref] = set
	}
	changed := !set[channel]
	set[channel] = true
	r.mu.Unlock()
	if changed {
		r.signal(Change{Level: level, Key: key, Channel: channel})
	}
	return changed
}

// Account removes the ignore mark of the channel of a match. It returns
// true if the state changed.
func (r *IgnoreRegistry) Account(level MatchLevel, key string, channel int) bool {
	ref := matchRef{level, key}
	r.mu.Lock()
	set := r.ignored[ref]
	changed := set[channel]
	if changed {
		delete(set, channel)
		if len(set) == 0 {
			delete(r.ignored, ref)
		}
	}
	r.mu.Unlock()
	if changed {
		r.signal(Change{Level: level, Key: key, Channel: channel})
	}
	return changed
}

// IsIgnored reports whether the channel of a match was manually ignored.
func (r *IgnoreRegistry) IsIgnored(level MatchLevel, key string, channel int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ignored[matchRef{level, key}][channel]
}

// Ignored returns the manually ignored channels of a match in ascending order.
func (r *IgnoreRegistry) Ignored(level MatchLevel, key string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.ignored[matchRef{level, key}])
}

// Len returns the number of matches with at least one ignored channel.
func (r *IgnoreRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ignored)
}

// SetBounds changes the global ratio bounds.
func (r *IgnoreRegistry) SetBounds(ratioMin, ratioMax float64) error {
	if err := validateBounds(ratioMin, ratioMax); err != nil {
		return err
	}
	r.mu.Lock()
	changed := r.ratioMin != ratioMin || r.ratioMax != ratioMax
	r.ratioMin = ratioMin
	r.ratioMax = ratioMax
	r.mu.Unlock()
	if changed {
		r.signal(Change{All: true})
	}
	return nil
}

// Bounds returns the global ratio bounds.
func (r *IgnoreRegistry) Bounds() (float64, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ratioMin, r.ratioMax
}

// InBounds reports whether ratio lies within the global bounds. NaN is
// never in bounds.
func (r *IgnoreRegistry) InBounds(ratio float64) bool {
	if math.IsNaN(ratio) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ratio >= r.ratioMin && ratio <= r.ratioMax
}

// Excluded reports whether an observation must be left out of estimation,
// either because it was ignored manually or because it is out of bounds.
// The manual flags are not modified by out of bounds observations.
// The engine checks spectra against their raw ratio and peptides against
// their normalized ratio.
func (r *IgnoreRegistry) Excluded(level MatchLevel, key string, channel int, ratio float64) bool {
	return r.IsIgnored(level, key, channel) || !r.InBounds(ratio)
}
