// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package quant

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RatioProvider supplies the raw reporter ion ratio (channel intensity over
// reference intensity) of a spectrum. NaN means the ratio is undefined.
type RatioProvider interface {
	RawRatio(spectrumKey string, channel int) float64
}

// Store gives access to the identification hierarchy.
type Store interface {
	// Matches returns the keys of all matches at level.
	Matches(level MatchLevel) []string
	// ChildMatches returns the keys of the matches owned by the match at
	// level. Spectra have no children.
	ChildMatches(level MatchLevel, key string) []string
}

// Config holds everything needed to create an Engine. Only Method, Store
// and Ratios are required.
type Config struct {
	Method   Method
	Store    Store
	Ratios   RatioProvider
	Registry *IgnoreRegistry // Created from Params bounds if nil
	Params   Parameters      // DefaultParameters if zero
	Workers  int             // runtime.NumCPU() if <= 0
	// MinObservations is the minimum number of ratios a channel needs
	// to get a normalization factor other than 1.0.
	MinObservations int
	Logger          *log.Logger
}

// MatchFailure records a match channel whose estimation failed during Run.
type MatchFailure struct {
	Level   MatchLevel
	Key     string
	Channel int
	Err     error
}

func (f MatchFailure) Error() string {
	return fmt.Sprintf("%s %s channel %d: %v", f.Level, f.Key, f.Channel, f.Err)
}

// BatchReport summarizes a Run.
type BatchReport struct {
	Estimated [len(levelNames)]int // Matches estimated per level
	Failures  []MatchFailure
}

var levelNames = [...]string{"spectrum", "peptide", "protein"}

// Profile is the log2 ratio vector of a match over a list of channels.
type Profile struct {
	Key    string
	Values []float64
}

type cacheKey struct {
	level   MatchLevel
	key     string
	channel int
}

// Engine computes and caches ratio estimates for all matches of a project.
// Estimates are computed lazily on read and can be computed in bulk with Run.
// The cache holds estimates before applying the normalization factor of
// their own level, the factor is applied on read. All methods are safe for
// concurrent use.
type Engine struct {
	method   Method
	store    Store
	ratios   RatioProvider
	registry *IgnoreRegistry
	workers  int
	minObs   int
	logger   *log.Logger
	parents  map[matchRef][]string

	mu      sync.RWMutex
	params  Parameters
	factors [len(levelNames)]Factors
	cache   map[cacheKey]RatioEstimate
	gen     uint64 // Incremented on every invalidation
}

// NewEngine returns an Engine for cfg. The match hierarchy is read once
// from cfg.Store.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Method.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil || cfg.Ratios == nil {
		return nil, fmt.Errorf("%w: store and ratio provider are required", ErrInvalidParameter)
	}
	if cfg.Params == (Parameters{}) {
		cfg.Params = DefaultParameters()
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Registry == nil {
		r, err := NewIgnoreRegistry(cfg.Params.RatioMin, cfg.Params.RatioMax)
		if err != nil {
			return nil, err
		}
		cfg.Registry = r
	} else if err := cfg.Registry.SetBounds(cfg.Params.RatioMin, cfg.Params.RatioMax); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	e := &Engine{
		method:   cfg.Method,
		store:    cfg.Store,
		ratios:   cfg.Ratios,
		registry: cfg.Registry,
		workers:  cfg.Workers,
		minObs:   cfg.MinObservations,
		logger:   cfg.Logger,
		parents:  make(map[matchRef][]string),
		params:   cfg.Params,
		cache:    make(map[cacheKey]RatioEstimate),
	}
	for _, l := range Levels {
		e.factors[l] = UnitFactors(cfg.Method)
		child, ok := l.Child()
		if !ok {
			continue
		}
		for _, key := range cfg.Store.Matches(l) {
			for _, c := range cfg.Store.ChildMatches(l, key) {
				ref := matchRef{child, c}
				e.parents[ref] = append(e.parents[ref], key)
			}
		}
	}
	e.registry.Notify(e.invalidate)
	return e, nil
}

// Method returns the reagent method of the engine.
func (e *Engine) Method() Method {
	return e.method
}

// Registry returns the ignore registry used by the engine.
func (e *Engine) Registry() *IgnoreRegistry {
	return e.registry
}

// Parameters returns the current estimation parameters.
func (e *Engine) Parameters() Parameters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// Factors returns a copy of the normalization factors of level.
func (e *Engine) Factors(level MatchLevel) Factors {
	if !level.Valid() {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.factors[level].clone()
}

func (e *Engine) check(level MatchLevel, channel int) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownLevel, int(level))
	}
	if _, ok := e.method.Channel(channel); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	return nil
}

// RatioEstimate returns the normalized estimate of a match channel. Missing
// data results in a NaN ratio, not in an error.
func (e *Engine) RatioEstimate(level MatchLevel, key string, channel int) (RatioEstimate, error) {
	if err := e.check(level, channel); err != nil {
		return RatioEstimate{}, err
	}
	est, _ := e.estimate(level, key, channel)
	return est, nil
}

// Estimates returns the normalized estimates of all channels of a match.
func (e *Engine) Estimates(level MatchLevel, key string) (map[int]RatioEstimate, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLevel, int(level))
	}
	est := make(map[int]RatioEstimate, len(e.method.Channels))
	for _, c := range e.method.Channels {
		est[c.Index], _ = e.estimate(level, key, c.Index)
	}
	return est, nil
}

// QualityScore returns the quality score of a match, see QualityScore.
func (e *Engine) QualityScore(level MatchLevel, key string) (float64, error) {
	est, err := e.Estimates(level, key)
	if err != nil {
		return math.NaN(), err
	}
	return QualityScore(est, e.method.Reference), nil
}

// Ignore excludes the channel of a match from the estimates of its parents.
// Only the estimates that depend on it are invalidated.
func (e *Engine) Ignore(level MatchLevel, key string, channel int) error {
	if err := e.check(level, channel); err != nil {
		return err
	}
	e.registry.Ignore(level, key, channel)
	return nil
}

// Account reverts Ignore.
func (e *Engine) Account(level MatchLevel, key string, channel int) error {
	if err := e.check(level, channel); err != nil {
		return err
	}
	e.registry.Account(level, key, channel)
	return nil
}

// SetEstimatorParameters changes the estimation parameters and ratio bounds.
// Invalid values are rejected before anything changes. All cached
// estimates are invalidated; normalization factors are kept until the next
// Run.
func (e *Engine) SetEstimatorParameters(resolution, k, ratioMin, ratioMax float64) error {
	e.mu.RLock()
	p := e.params
	e.mu.RUnlock()
	p.Resolution = resolution
	p.K = k
	p.RatioMin = ratioMin
	p.RatioMax = ratioMax
	if err := p.Validate(); err != nil {
		return err
	}
	if err := e.registry.SetBounds(ratioMin, ratioMax); err != nil {
		return err
	}
	e.mu.Lock()
	e.params = p
	e.clearLocked()
	e.mu.Unlock()
	return nil
}

// invalidate is called by the registry on every change.
func (e *Engine) invalidate(c Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.All {
		e.clearLocked()
		return
	}
	e.gen++
	// The flag only affects the estimates that consume the match
	queue := []matchRef{{c.Level, c.Key}}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		delete(e.cache, cacheKey{ref.level, ref.key, c.Channel})
		parent, ok := ref.level.Parent()
		if !ok {
			continue
		}
		for _, p := range e.parents[ref] {
			queue = append(queue, matchRef{parent, p})
		}
	}
}

func (e *Engine) clearLocked() {
	e.gen++
	e.cache = make(map[cacheKey]RatioEstimate)
}

// dropAboveLocked removes the cached estimates of the levels above level,
// which were computed with its previous factors.
func (e *Engine) dropAboveLocked(level MatchLevel) {
	e.gen++
	for ck := range e.cache {
		if ck.level > level {
			delete(e.cache, ck)
		}
	}
}

// estimate returns the normalized estimate of a match channel.
func (e *Engine) estimate(level MatchLevel, key string, channel int) (RatioEstimate, error) {
	est, err := e.cached(level, key, channel)
	e.mu.RLock()
	f := e.factors[level].Get(channel)
	e.mu.RUnlock()
	return est.scaled(f), err
}

// cached returns the estimate before normalization at its own level,
// computing and storing it if needed. Results computed while an
// invalidation happened are returned but not stored.
func (e *Engine) cached(level MatchLevel, key string, channel int) (RatioEstimate, error) {
	ck := cacheKey{level, key, channel}
	e.mu.RLock()
	est, ok := e.cache[ck]
	gen := e.gen
	p := e.params
	e.mu.RUnlock()
	if ok {
		return est, nil
	}

	est, err := e.safeCompute(level, key, channel, p)
	e.mu.Lock()
	if e.gen == gen {
		e.cache[ck] = est
	}
	e.mu.Unlock()
	return est, err
}

// safeCompute turns panics and non-finite results into a failed estimate.
func (e *Engine) safeCompute(level MatchLevel, key string, channel int, p Parameters) (est RatioEstimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			est = noData()
			est.Status = StatusFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	est = e.compute(level, key, channel, p)
	if est.Status == StatusOK && (math.IsNaN(est.Ratio) || math.IsInf(est.Ratio, 0)) {
		err = fmt.Errorf("non-finite ratio %g", est.Ratio)
		est.Status = StatusFailed
	}
	return est, err
}

func (e *Engine) compute(level MatchLevel, key string, channel int, p Parameters) RatioEstimate {
	if level == LevelSpectrum {
		r := e.ratios.RawRatio(key, channel)
		if !(r > 0) || math.IsInf(r, 0) {
			return noData()
		}
		if !e.registry.InBounds(r) {
			est := noData()
			est.Excluded = 1
			est.Status = StatusIgnored
			return est
		}
		return estimate([]float64{r}, p, nil)
	}

	child, _ := level.Child()
	var values []float64
	excluded := 0
	for _, c := range e.store.ChildMatches(level, key) {
		ce, _ := e.estimate(child, c, channel)
		switch {
		case ce.Status == StatusIgnored:
			excluded++
		case !ce.Usable():
		case child == LevelSpectrum && e.registry.IsIgnored(child, c, channel):
			// Spectrum bounds were checked on the raw ratio
			excluded++
		case child != LevelSpectrum && e.registry.Excluded(child, c, channel, ce.Ratio):
			excluded++
		default:
			values = append(values, ce.Ratio)
		}
	}
	est := estimate(values, p, nil)
	est.Excluded = excluded
	if len(values) == 0 && excluded > 0 {
		est.Status = StatusIgnored
	}
	return est
}

// Run computes all estimates and normalization factors level by level:
// spectrum estimates, PSM factors, peptide estimates, peptide factors,
// protein estimates and protein factors. Within a level matches are
// estimated in parallel. Failures of single matches are recorded in the
// report and do not stop the run. If ctx is canceled, Run returns an error
// wrapping ErrCanceled and ctx.Err(); estimates finished so far stay cached.
func (e *Engine) Run(ctx context.Context) (*BatchReport, error) {
	e.mu.Lock()
	for _, l := range Levels {
		e.factors[l] = UnitFactors(e.method)
	}
	e.clearLocked()
	e.mu.Unlock()

	report := &BatchReport{}
	norm := Normalizer{Method: e.method, MinObservations: e.minObs, Logger: e.logger}
	for _, l := range Levels {
		keys := e.store.Matches(l)
		if err := e.estimateLevel(ctx, l, keys, report); err != nil {
			return report, err
		}
		f, err := norm.Factors(ctx, l, keys, func(key string, channel int) (float64, bool) {
			est, _ := e.cached(l, key, channel)
			if !est.Usable() || e.registry.Excluded(l, key, channel, est.Ratio) {
				return 0, false
			}
			return est.Ratio, true
		})
		if err != nil {
			return report, err
		}
		e.mu.Lock()
		e.factors[l] = f
		e.dropAboveLocked(l)
		e.mu.Unlock()
	}
	return report, nil
}

func (e *Engine) estimateLevel(ctx context.Context, level MatchLevel, keys []string, report *BatchReport) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		key := key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, c := range e.method.Channels {
				if _, err := e.cached(level, key, c.Index); err != nil {
					mu.Lock()
					report.Failures = append(report.Failures,
						MatchFailure{Level: level, Key: key, Channel: c.Index, Err: err})
					mu.Unlock()
				}
			}
			mu.Lock()
			report.Estimated[level]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return canceled(err)
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	return nil
}

// Profile returns the log2 protein ratios of a protein for the channels in
// order, skipping the reference channel. Channels without a usable ratio
// are NaN.
func (e *Engine) Profile(key string, order []int) []float64 {
	v := make([]float64, 0, len(order))
	for _, c := range order {
		if c == e.method.Reference {
			continue
		}
		if _, ok := e.method.Channel(c); !ok {
			v = append(v, math.NaN())
			continue
		}
		est, _ := e.estimate(LevelProtein, key, c)
		if !est.Usable() {
			v = append(v, math.NaN())
			continue
		}
		v = append(v, math.Log2(est.Ratio))
	}
	return v
}

// Profiles returns the profiles of the proteins in keys, see Profile.
func (e *Engine) Profiles(ctx context.Context, keys []string, order []int) ([]Profile, error) {
	profiles := make([]Profile, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err)
		}
		profiles = append(profiles, Profile{Key: key, Values: e.Profile(key, order)})
	}
	return profiles, nil
}
