// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/524D/mzquant/internal/resultdb"
	"github.com/524D/mzquant/quant"
	"github.com/aybabtme/uniplot/histogram"
	"github.com/gocarina/gocsv"
	"gopkg.in/guregu/null.v3"
)

// quantOutput is the JSON document written after quantification
type quantOutput struct {
	// Version of the output format, so that output of different versions
	// of the software can be told apart
	MzQuantVersion string
	Method         string
	Reference      string
	Channels       []string
	Parameters     quant.Parameters
	Factors        map[string]map[string]float64 // Per level, channel name to factor
	Summary        summaryOutput
	Proteins       []matchOutput
	Peptides       []matchOutput
	Spectra        []matchOutput   `json:",omitempty"`
	Clusters       *clustersOutput `json:",omitempty"`
}

type summaryOutput struct {
	Identifications int
	Spectra         int
	Peptides        int
	Proteins        int
	Failures        int
}

type matchOutput struct {
	Key      string
	Decoy    bool            `json:",omitempty"`
	Children []string        `json:",omitempty"`
	Spectrum *spectrumOutput `json:",omitempty"`
	Quality  null.Float
	Ratios   []channelOutput
}

type spectrumOutput struct {
	ScanIndex     int
	RetentionTime null.Float // Seconds
	PrecursorMz   null.Float
	Charge        int      `json:",omitempty"`
	Activation    []string `json:",omitempty"`
	Centroid      bool
}

type channelOutput struct {
	Channel   string
	Ratio     null.Float
	MAD       null.Float
	Retained  int
	Discarded int
	Excluded  int
	Status    string
	Ignored   bool           `json:",omitempty"`
	DebugInfo *estimateDebug `json:",omitempty"`
}

type estimateDebug struct {
	Center     null.Float
	Scale      null.Float
	Iterations int
}

type clustersOutput struct {
	K          int
	Seed       int64
	Iterations int
	Channels   []string // Dimensions of the centroids
	Clusters   []clusterOutput
	Excluded   []string `json:",omitempty"`
	Candidates int      // Proteins that passed the cluster filter
}

type clusterOutput struct {
	Centroid []float64 // log2 ratios
	Members  []string
}

// ratioRow is a line of the tab separated protein ratio report
type ratioRow struct {
	Protein   string     `csv:"protein"`
	Channel   string     `csv:"channel"`
	Ratio     null.Float `csv:"ratio"`
	Log2Ratio null.Float `csv:"log2ratio"`
	MAD       null.Float `csv:"mad"`
	Retained  int        `csv:"retained"`
	Discarded int        `csv:"discarded"`
	Excluded  int        `csv:"excluded"`
	Status    string     `csv:"status"`
	Quality   null.Float `csv:"quality"`
	Cluster   null.Int   `csv:"cluster"`
	Decoy     bool       `csv:"decoy"`
}

func nullFloat(f float64) null.Float {
	return null.NewFloat(f, !math.IsNaN(f) && !math.IsInf(f, 0))
}

func channelNames(m quant.Method, idx []int) []string {
	names := make([]string, len(idx))
	for i, c := range idx {
		ch, _ := m.Channel(c)
		names[i] = ch.Name
	}
	return names
}

// matchOutputs reports all matches at a level
func matchOutputs(res *quantResult, level quant.MatchLevel, debug bool) ([]matchOutput, error) {
	e := res.engine
	reg := e.Registry()
	keys := res.proj.Matches(level)
	out := make([]matchOutput, 0, len(keys))
	for _, key := range keys {
		est, err := e.Estimates(level, key)
		if err != nil {
			return nil, err
		}
		q, err := e.QualityScore(level, key)
		if err != nil {
			return nil, err
		}
		mo := matchOutput{
			Key:      key,
			Decoy:    level == quant.LevelProtein && res.proj.decoy[key],
			Children: res.proj.ChildMatches(level, key),
			Quality:  nullFloat(q),
		}
		if info, ok := res.proj.info[key]; ok && level == quant.LevelSpectrum {
			mo.Spectrum = &spectrumOutput{
				ScanIndex:     info.scanIndex,
				RetentionTime: nullFloat(info.retentionTime),
				PrecursorMz:   nullFloat(info.precursorMz),
				Charge:        info.charge,
				Activation:    info.activation,
				Centroid:      info.centroid,
			}
		}
		for _, c := range res.method.Channels {
			r := est[c.Index]
			co := channelOutput{
				Channel:   c.Name,
				Ratio:     nullFloat(r.Ratio),
				MAD:       nullFloat(r.MAD),
				Retained:  r.Retained,
				Discarded: r.Discarded,
				Excluded:  r.Excluded,
				Status:    r.Status.String(),
				Ignored:   reg.IsIgnored(level, key, c.Index),
			}
			if debug {
				co.DebugInfo = &estimateDebug{
					Center:     nullFloat(r.Center),
					Scale:      nullFloat(r.Scale),
					Iterations: r.Iterations,
				}
			}
			mo.Ratios = append(mo.Ratios, co)
		}
		out = append(out, mo)
	}
	return out, nil
}

func buildOutput(res *quantResult, par params) (quantOutput, error) {
	m := res.method
	ref, _ := m.Channel(m.Reference)
	out := quantOutput{
		MzQuantVersion: outputFormatVersion,
		Method:         m.Name,
		Reference:      ref.Name,
		Channels:       channelNames(m, m.Indices()),
		Parameters:     res.engine.Parameters(),
		Factors:        make(map[string]map[string]float64),
		Summary: summaryOutput{
			Identifications: res.proj.idents,
			Spectra:         len(res.proj.Matches(quant.LevelSpectrum)),
			Peptides:        len(res.proj.Matches(quant.LevelPeptide)),
			Proteins:        len(res.proj.Matches(quant.LevelProtein)),
			Failures:        len(res.report.Failures),
		},
	}
	for _, level := range quant.Levels {
		f := res.engine.Factors(level)
		lf := make(map[string]float64, len(m.Channels))
		for _, c := range m.Channels {
			lf[c.Name] = f.Get(c.Index)
		}
		out.Factors[level.String()] = lf
	}

	var err error
	out.Proteins, err = matchOutputs(res, quant.LevelProtein, par.debug)
	if err != nil {
		return out, err
	}
	out.Peptides, err = matchOutputs(res, quant.LevelPeptide, par.debug)
	if err != nil {
		return out, err
	}
	if par.debug {
		out.Spectra, err = matchOutputs(res, quant.LevelSpectrum, par.debug)
		if err != nil {
			return out, err
		}
	}

	if cr := res.clusters; cr != nil {
		co := &clustersOutput{
			K:          cr.K,
			Seed:       cr.Seed,
			Iterations: cr.Iterations,
			Channels:   channelNames(m, res.order),
			Excluded:   cr.Excluded,
			Candidates: len(res.candidates),
		}
		for i, c := range cr.Centroids {
			co.Clusters = append(co.Clusters, clusterOutput{Centroid: c, Members: cr.Members(i)})
		}
		out.Clusters = co
	}
	return out, nil
}

func writeJSON(res *quantResult, par params) error {
	out, err := buildOutput(res, par)
	if err != nil {
		return err
	}
	f, err := os.Create(par.outFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	e := json.NewEncoder(f)
	e.SetIndent(``, `  `) // Make output easier to read for humans
	if err := e.Encode(out); err != nil {
		return fmt.Errorf("writing %s: %w", par.outFilename, err)
	}
	return f.Close()
}

// ratioRows returns one row per protein and non-reference channel
func ratioRows(res *quantResult) ([]*ratioRow, error) {
	var rows []*ratioRow
	for _, prot := range res.proj.Matches(quant.LevelProtein) {
		est, err := res.engine.Estimates(quant.LevelProtein, prot)
		if err != nil {
			return nil, err
		}
		q, err := res.engine.QualityScore(quant.LevelProtein, prot)
		if err != nil {
			return nil, err
		}
		var cl null.Int
		if res.clusters != nil {
			if i, ok := res.clusters.Assignments[prot]; ok {
				cl = null.IntFrom(int64(i))
			}
		}
		for _, c := range res.method.Channels {
			if c.Index == res.method.Reference {
				continue
			}
			r := est[c.Index]
			log2 := math.NaN()
			if r.Usable() {
				log2 = math.Log2(r.Ratio)
			}
			rows = append(rows, &ratioRow{
				Protein:   prot,
				Channel:   c.Name,
				Ratio:     nullFloat(r.Ratio),
				Log2Ratio: nullFloat(log2),
				MAD:       nullFloat(r.MAD),
				Retained:  r.Retained,
				Discarded: r.Discarded,
				Excluded:  r.Excluded,
				Status:    r.Status.String(),
				Quality:   nullFloat(q),
				Cluster:   cl,
				Decoy:     res.proj.decoy[prot],
			})
		}
	}
	return rows, nil
}

func writeTSV(res *quantResult, par params) error {
	rows, err := ratioRows(res)
	if err != nil {
		return err
	}
	f, err := os.Create(par.tsvFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		return fmt.Errorf("writing %s: %w", par.tsvFilename, err)
	}
	return f.Close()
}

func writeDB(res *quantResult, par params) error {
	w, err := resultdb.NewWriter(par.dbFilename)
	if err != nil {
		return fmt.Errorf("failed to create result database: %w", err)
	}
	defer w.Close()

	p := res.engine.Parameters()
	err = w.WriteRun(map[string]string{
		"Program":       progName,
		"Version":       progVersion,
		"MzML":          par.mzMLFilename,
		"MzIdentML":     par.mzIdentMlFilename,
		"Method":        res.method.Name,
		"Resolution":    strconv.FormatFloat(p.Resolution, 'g', -1, 64),
		"K":             strconv.FormatFloat(p.K, 'g', -1, 64),
		"RatioMin":      strconv.FormatFloat(p.RatioMin, 'g', -1, 64),
		"RatioMax":      strconv.FormatFloat(p.RatioMax, 'g', -1, 64),
		"MaxIterations": strconv.Itoa(p.MaxIterations),
	})
	if err != nil {
		return err
	}
	factors := make(map[quant.MatchLevel]quant.Factors, len(quant.Levels))
	for _, level := range quant.Levels {
		factors[level] = res.engine.Factors(level)
	}
	if err := w.WriteChannels(res.method, factors); err != nil {
		return err
	}
	for _, key := range res.proj.Matches(quant.LevelSpectrum) {
		info, ok := res.proj.info[key]
		if !ok {
			continue
		}
		err := w.WriteSpectrum(resultdb.Spectrum{
			Key:           key,
			ScanIndex:     info.scanIndex,
			RetentionTime: info.retentionTime,
			PrecursorMz:   info.precursorMz,
			Charge:        info.charge,
			Activation:    info.activation,
			Centroid:      info.centroid,
		})
		if err != nil {
			return err
		}
	}
	reg := res.engine.Registry()
	for _, level := range quant.Levels {
		for _, key := range res.proj.Matches(level) {
			est, err := res.engine.Estimates(level, key)
			if err != nil {
				return err
			}
			q, err := res.engine.QualityScore(level, key)
			if err != nil {
				return err
			}
			err = w.WriteMatch(resultdb.Match{
				Level:     level,
				Key:       key,
				Children:  res.proj.ChildMatches(level, key),
				Decoy:     level == quant.LevelProtein && res.proj.decoy[key],
				Quality:   q,
				Estimates: est,
				Ignored:   reg.Ignored(level, key),
			})
			if err != nil {
				return err
			}
		}
	}
	if res.clusters != nil {
		if err := w.WriteClusters(res.clusters, res.order); err != nil {
			return err
		}
	}
	return w.Finalize()
}

// printHistograms prints the distribution of protein log2 ratios per channel
func printHistograms(w io.Writer, res *quantResult) error {
	for _, c := range res.method.Channels {
		if c.Index == res.method.Reference {
			continue
		}
		var data []float64
		for _, prot := range res.proj.Matches(quant.LevelProtein) {
			if res.proj.decoy[prot] {
				continue
			}
			e, err := res.engine.RatioEstimate(quant.LevelProtein, prot, c.Index)
			if err != nil {
				return err
			}
			if e.Usable() {
				data = append(data, math.Log2(e.Ratio))
			}
		}
		if len(data) == 0 {
			fmt.Fprintf(w, "Channel %s: no quantified proteins\n", c.Name)
			continue
		}
		fmt.Fprintf(w, "Channel %s: log2 ratio of %d proteins\n", c.Name, len(data))
		if err := histogram.Fprint(w, histogram.Hist(20, data), histogram.Linear(40)); err != nil {
			return err
		}
	}
	return nil
}

// writeOutputs writes all requested result files
func writeOutputs(res *quantResult, par params) error {
	st := stageTimer{verbosity: par.verbosity}
	st.start("Writing %s", par.outFilename)
	if err := writeJSON(res, par); err != nil {
		return err
	}
	st.done()
	if par.tsvFilename != `` {
		st.start("Writing %s", par.tsvFilename)
		if err := writeTSV(res, par); err != nil {
			return err
		}
		st.done()
	}
	if par.dbFilename != `` {
		st.start("Writing %s", par.dbFilename)
		if err := writeDB(res, par); err != nil {
			return err
		}
		st.done()
	}
	if par.verbosity == infoVerbose {
		return printHistograms(os.Stderr, res)
	}
	return nil
}
