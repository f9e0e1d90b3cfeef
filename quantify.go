// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/524D/mzquant/cluster"
	"github.com/524D/mzquant/internal/mzidentml"
	"github.com/524D/mzquant/internal/mzml"
	"github.com/524D/mzquant/quant"
)

// quantResult holds everything that is reported after quantification
type quantResult struct {
	method   quant.Method
	order    []int // Channels of protein profiles
	proj     *project
	engine   *quant.Engine
	report   *quant.BatchReport
	clusters *cluster.Result
	// Proteins that passed the cluster filter
	candidates []string
}

// stageTimer prints the duration of processing stages in verbose mode
type stageTimer struct {
	verbosity int
	t         time.Time
}

func (s *stageTimer) start(format string, a ...any) {
	if s.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, format+": ", a...)
	}
	s.t = time.Now()
}

func (s *stageTimer) done() {
	if s.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(s.t))
	}
}

func readMzIdentML(filename string) (mzidentml.MzIdentML, error) {
	f, err := os.Open(filename)
	if err != nil {
		return mzidentml.MzIdentML{}, err
	}
	defer f.Close()
	mzIdentML, err := mzidentml.Read(f)
	if err != nil {
		return mzIdentML, fmt.Errorf("mzidentml.Read %s: %w", filename, err)
	}
	return mzIdentML, nil
}

func readMzML(filename string) (mzml.MzML, error) {
	f, err := os.Open(filename)
	if err != nil {
		return mzml.MzML{}, err
	}
	defer f.Close()
	mzML, err := mzml.Read(f)
	if err != nil {
		return mzML, fmt.Errorf("mzml.Read %s: %w", filename, err)
	}
	return mzML, nil
}

// quantify glues together all the steps of the quantification:
// Read identifications and select the spectra that pass the score filter
// Extract reporter ions of the selected spectra from the MS data
// Estimate and normalize ratios at spectrum, peptide and protein level
// Cluster the protein ratio profiles
func quantify(ctx context.Context, par params) (*quantResult, error) {
	scoreFilt, err := parseScoreFilter(par.scoreFilter)
	if err != nil {
		return nil, fmt.Errorf("invalid parameter 'scorefilter': %w", err)
	}
	method, err := newMethod(par.method, par.reference)
	if err != nil {
		return nil, err
	}
	order, err := channelOrder(method, par.order)
	if err != nil {
		return nil, err
	}
	ignores := make([]ignoreSpec, 0, len(par.ignore))
	for _, s := range par.ignore {
		ig, err := parseIgnore(s, method)
		if err != nil {
			return nil, err
		}
		ignores = append(ignores, ig)
	}

	st := stageTimer{verbosity: par.verbosity}
	st.start("Reading identifications from %s", par.mzIdentMlFilename)
	mzIdentML, err := readMzIdentML(par.mzIdentMlFilename)
	if err != nil {
		return nil, err
	}
	st.done()

	st.start("Selecting identified spectra")
	proj, err := buildProject(&mzIdentML, scoreFilt)
	if err != nil {
		return nil, fmt.Errorf("buildProject: %w", err)
	}
	st.done()

	st.start("Reading MS data from %s", par.mzMLFilename)
	mzML, err := readMzML(par.mzMLFilename)
	if err != nil {
		return nil, err
	}
	st.done()

	st.start("Extracting reporter ions")
	ratios, err := extractReporters(&mzML, proj, method, par)
	if err != nil {
		return nil, err
	}
	debugListUnquantified(par)
	st.done()

	engine, err := quant.NewEngine(quant.Config{
		Method:          method,
		Store:           proj,
		Ratios:          ratios,
		Params:          par.estimatorParams(),
		Workers:         par.workers,
		MinObservations: par.minObs,
	})
	if err != nil {
		return nil, err
	}
	for _, ig := range ignores {
		if err := engine.Ignore(ig.level, ig.key, ig.channel); err != nil {
			return nil, err
		}
	}

	st.start("Estimating ratios")
	report, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}
	st.done()
	if len(report.Failures) > 0 && par.verbosity != infoSilent {
		log.Printf("WARNING: estimation failed for %d ratios", len(report.Failures))
		if par.verbosity == infoVerbose {
			for _, f := range report.Failures {
				log.Printf("WARNING: %v", f)
			}
		}
	}

	res := &quantResult{
		method: method,
		order:  order,
		proj:   proj,
		engine: engine,
		report: report,
	}
	if par.clusters > 0 {
		st.start("Clustering proteins")
		b := cluster.Builder{
			Seed: par.seed,
			Source: func(ctx context.Context) ([]quant.Profile, error) {
				res.candidates = clusterCandidates(res, par)
				return engine.Profiles(ctx, res.candidates, order)
			},
		}
		res.clusters, err = b.Build(ctx, par.clusters, true)
		if errors.Is(err, cluster.ErrInvalidClusterCount) {
			log.Printf("WARNING: proteins not clustered, %d clusters requested for %d proteins",
				par.clusters, len(res.candidates))
			err = nil
		}
		if err != nil {
			return nil, err
		}
		st.done()
	}
	return res, nil
}

// clusterCandidates returns the proteins that are clustered: not decoy,
// with sufficient quality and enough quantified channels
func clusterCandidates(res *quantResult, par params) []string {
	minChannels := par.minChannels
	if minChannels <= 0 || minChannels > len(res.order) {
		minChannels = len(res.order)
	}
	var keys []string
	for _, prot := range res.proj.Matches(quant.LevelProtein) {
		if res.proj.decoy[prot] {
			continue
		}
		q, err := res.engine.QualityScore(quant.LevelProtein, prot)
		if err != nil || math.IsNaN(q) || q < par.minQuality {
			continue
		}
		n := 0
		for _, c := range res.order {
			e, err := res.engine.RatioEstimate(quant.LevelProtein, prot, c)
			if err == nil && e.Usable() {
				n++
			}
		}
		if n >= minChannels {
			keys = append(keys, prot)
		}
	}
	return keys
}
