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
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/524D/mzquant/internal/mzml"
	"github.com/524D/mzquant/quant"
	"github.com/spf13/cobra"
)

// Program name and version, reported in the output
const progName = "mzQuant"

var progVersion = `Unknown`

// Format of output, if it ever changes we should still be able to parse
// output from old versions
const outputFormatVersion = "1.0"

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

const defaultScoreFilter = "MS:1002257(0.0:1e-2)MS:1001330(0.0:1e-2)MS:1001159(0.0:1e-2)MS:1002466(0.99:)"

// Command line parameters
type params struct {
	mzMLFilename      string
	mzIdentMlFilename string
	outFilename       string   // Filename where the JSON result is written
	dbFilename        string   // SQLite result database, none if empty
	tsvFilename       string   // Tab separated protein ratios, none if empty
	method            string   // Name of the reagent table
	reference         string   // Name of the reference channel
	order             string   // Channel order of profiles and clusters
	reporterPPM       float64  // Max mz error (ppm) of reporter ion peaks
	scoreFilter       string   // PSM score filter to apply
	resolution        float64  // Convergence tolerance of the estimator
	k                 float64  // Outlier threshold as multiple of the MAD
	maxIter           int      // Iteration cap of the estimator
	ratios            string   // Accepted ratio range
	ratioMin          float64  // lower bound of accepted ratios
	ratioMax          float64  // upper bound of accepted ratios
	ignore            []string // Manually ignored ratios, level:key:channel
	workers           int      // Number of parallel estimations
	minObs            int      // Minimum observations for a normalization factor
	clusters          int      // Number of protein clusters, 0 disables clustering
	seed              int64    // Seed for cluster initialization
	minQuality        float64  // Minimum quality of proteins that are clustered
	minChannels       int      // Minimum quantified channels of proteins that are clustered
	verbosity         int      // Verbosity of progress messages (infoDefault...)
	debug             bool     // Enable debug info (environment variable MZQUANT_DEBUG=1)
	debugSpecs        string   // Print debug output for given spectrum range
}

var ErrRangeSpec = errors.New("invalid range specified")

// Parse string like "-12:6" into 2 values, -12 and 6
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// Parse string like "-12.01e1:+6" into 2 values, -120.1 and 6.0
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12.01e1:"), the default is assigned
func parseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

func parseScoreFilter(scoreFilterStr string) (scoreFilter, error) {
	scoreFilt := make(scoreFilter)

	re := regexp.MustCompile(`([^\(]+)\(([^\)]*)\)`)
	matchedStringsList := re.FindAllStringSubmatch(scoreFilterStr, -1)
	for n, matchedStrings := range matchedStringsList {

		scoreName := matchedStrings[1]
		scoreRangeStr := matchedStrings[2]
		_, ok := scoreFilt[scoreName]
		if ok {
			return nil, errors.New(scoreName + ` defined more than once.`)
		}
		minScore, maxScore, err := parseFloat64Range(scoreRangeStr,
			-math.MaxFloat64, math.MaxFloat64)

		if err != nil {
			return nil, errors.New(`Invalid range for score ` + scoreName)
		}
		scRange := scoreRange{minScore: minScore, maxScore: maxScore, priority: n}
		scoreFilt[scoreName] = scRange
	}

	return scoreFilt, nil
}

// ignoreSpec is a manually ignored ratio
type ignoreSpec struct {
	level   quant.MatchLevel
	key     string
	channel int
}

// parseIgnore parses "level:key:channel", e.g. "peptide:PEPTIDEK:115".
// The key may contain colons.
func parseIgnore(s string, m quant.Method) (ignoreSpec, error) {
	var ig ignoreSpec
	i := strings.Index(s, `:`)
	j := strings.LastIndex(s, `:`)
	if i < 0 || j == i || j == len(s)-1 {
		return ig, fmt.Errorf("invalid ignore %q, format is level:key:channel", s)
	}
	level, err := quant.ParseLevel(s[:i])
	if err != nil {
		return ig, fmt.Errorf("invalid ignore %q: %w", s, err)
	}
	c, ok := m.ChannelByName(s[j+1:])
	if !ok {
		return ig, fmt.Errorf("invalid ignore %q: channel %s is not part of method %s", s, s[j+1:], m.Name)
	}
	ig.level = level
	ig.key = s[i+1 : j]
	ig.channel = c.Index
	return ig, nil
}

// maxPeakInMzWindow returns the highest intensity peak in a given mz window.
// Peaks must be ordered by mz prior to calling this function
// If no peak was found, peak.intensity will be 0
func maxPeakInMzWindow(mzMin, mzMax float64, peaks []mzml.Peak) mzml.Peak {

	// Find the indices of the peaks within the mz window
	i1 := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= mzMin })
	i2 := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz > mzMax })

	var peak mzml.Peak // auto initialzed to 0.0, 0.0
	for i := i1; i < i2; i++ {
		if peaks[i].Intens > peak.Intens {
			peak = peaks[i]
		}
	}
	return peak
}

// sanitizeParams does some checks on parameters, and fills missing
// filenames if possible
func sanitizeParams(par *params, args []string) error {
	if len(args) != 1 {
		return errors.New("last argument must be name of mzML file")
	}

	mzml := args[0]
	par.mzMLFilename = mzml
	var extension = filepath.Ext(mzml)
	var startName = mzml[0 : len(mzml)-len(extension)]

	if par.mzIdentMlFilename == "" {
		par.mzIdentMlFilename = startName + ".mzid"
	}
	if par.outFilename == "" {
		par.outFilename = startName + "-quant.json"
	}

	var err error
	par.ratioMin, par.ratioMax, err = parseFloat64Range(par.ratios, 0, math.MaxFloat64)
	if err != nil {
		return fmt.Errorf("invalid ratio range %q: %w", par.ratios, err)
	}
	if par.reporterPPM <= 0 {
		return fmt.Errorf("invalid reporter ion tolerance %g ppm", par.reporterPPM)
	}
	if par.clusters < 0 {
		return fmt.Errorf("invalid number of clusters %d", par.clusters)
	}
	if par.debugSpecs != `` {
		if _, _, err := parseIntRange(par.debugSpecs, 0, math.MaxInt32); err != nil {
			return fmt.Errorf("invalid debug range %q: %w", par.debugSpecs, err)
		}
	}
	// Check if debug output should be enabled
	par.debug = os.Getenv("MZQUANT_DEBUG") == `1`
	return nil
}

// estimatorParams returns the estimator parameters set on the command line
func (par *params) estimatorParams() quant.Parameters {
	return quant.Parameters{
		Resolution:    par.resolution,
		K:             par.k,
		RatioMin:      par.ratioMin,
		RatioMax:      par.ratioMax,
		MaxIterations: par.maxIter,
	}
}

var par params

var verbose, quiet bool

var rootCmd = &cobra.Command{
	Use:   "mzquant",
	Short: "mzQuant - isobaric reporter ion quantification",
	Long: `mzQuant quantifies iTRAQ/TMT labeled MS data in an mzML file using
peptide identifications in an accompanying mzIdentML file.

Reporter ion ratios are normalized per channel, combined into outlier
resistant estimates at spectrum, peptide and protein level, scored for
quality, and protein ratio profiles are clustered.`,
	Version:       progVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var quantifyCmd = &cobra.Command{
	Use:   "quantify [flags] <mzMLfile>",
	Short: "Quantify reporter ions of identified spectra",
	Long: `Quantify reporter ions of the spectra identified in the mzIdentML file.

ENVIRONMENT VARIABLES:
    When environment variable MZQUANT_DEBUG=1, spectrum level estimates and
    extra estimator information are added to the JSON file.

Examples:
  # Quantify yeast.mzML using identifications in yeast.mzid, write result
  # to yeast-quant.json
  mzquant quantify --method itraq4 yeast.mzML

  # Idem, TMT 10-plex with channel 131N as reference, write an SQLite
  # database and cluster proteins in 6 groups
  mzquant quantify --method tmt10 --reference 131N --db yeast.db --clusters 6 yeast.mzML

  # Ignore channel 115 of one peptide when estimating its proteins
  mzquant quantify --method itraq4 --ignore peptide:PEPTIDEK:115 yeast.mzML`,
	Args: cobra.ExactArgs(1),
	RunE: runQuantify,
}

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List build-in reagent tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		for _, name := range methodNames() {
			fmt.Fprintf(w, "%s:\n", name)
			for _, r := range reagentTables[name] {
				fmt.Fprintf(w, "     %s (%f)\n", r.name, r.mz)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quantifyCmd)
	rootCmd.AddCommand(methodsCmd)

	def := quant.DefaultParameters()
	f := quantifyCmd.Flags()
	f.StringVar(&par.mzIdentMlFilename, "mzid", "", "mzIdentMl `filename`")
	f.StringVarP(&par.outFilename, "out", "o", "", "`filename` for JSON output of the quantification")
	f.StringVar(&par.dbFilename, "db", "", "`filename` of SQLite result database (none if empty)")
	f.StringVar(&par.tsvFilename, "tsv", "", "`filename` of tab separated protein ratios (none if empty)")
	f.StringVar(&par.method, "method", "itraq4", "reagent `table`: "+strings.Join(methodNames(), ", "))
	f.StringVar(&par.reference, "reference", "", "`name` of the reference channel (default lightest channel)")
	f.StringVar(&par.order, "order", "", "comma separated channel `names` of protein profiles (default all non-reference channels)")
	f.Float64Var(&par.reporterPPM, "ppm", 20.0, "max mz error (ppm) of reporter ion peaks")
	f.StringVar(&par.scoreFilter, "scorefilter", defaultScoreFilter,
		`filter for PSM scores to accept. Format:
<CVterm1|scorename1>([<minscore1>]:[<maxscore1>])...
When multiple score names/CV terms are specified, the first one on the list
that matches a score in the input file will be used. Empty accepts all.`)
	f.Float64Var(&par.resolution, "resolution", def.Resolution, "convergence tolerance (log2) of ratio estimation")
	f.Float64Var(&par.k, "k", def.K, "outlier threshold as multiple of the median absolute deviation")
	f.IntVar(&par.maxIter, "maxiter", def.MaxIterations, "maximum iterations of ratio estimation")
	f.StringVar(&par.ratios, "ratios", fmt.Sprintf("%g:%g", def.RatioMin, def.RatioMax),
		"`range` of accepted ratios, ratios outside are ignored")
	f.StringArrayVar(&par.ignore, "ignore", nil, "ignore a ratio, `level:key:channel` (repeatable)")
	f.IntVar(&par.workers, "workers", 0, "number of parallel estimations (default number of CPUs)")
	f.IntVar(&par.minObs, "minobs", 1, "minimum ratios per channel for a normalization factor")
	f.IntVar(&par.clusters, "clusters", 0, "number of protein clusters (0 disables clustering)")
	f.Int64Var(&par.seed, "seed", 1, "seed for cluster initialization")
	f.Float64Var(&par.minQuality, "min-quality", 0, "minimum quality of proteins to cluster")
	f.IntVar(&par.minChannels, "min-channels", 0, "minimum quantified channels of proteins to cluster (default all)")
	f.StringVar(&par.debugSpecs, "debug", "", "Print debug output for given spectrum `range` e.g. 3:6")
	f.BoolVar(&verbose, "verbose", false, `Print more verbose progress information`)
	f.BoolVar(&quiet, "quiet", false, `Don't print any output except for errors`)
}

func runQuantify(cmd *cobra.Command, args []string) error {
	if verbose {
		par.verbosity = infoVerbose
	}
	if quiet {
		par.verbosity = infoSilent
	}
	if err := sanitizeParams(&par, args); err != nil {
		return err
	}
	res, err := quantify(cmd.Context(), par)
	if err != nil {
		return err
	}
	return writeOutputs(res, par)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if progVersion == `Unknown` {
		rootCmd.Version = `Unknown
Build with -ldflags "-X main.progVersion=<version>" to set the version shown here.`
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
