// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/524D/mzquant/internal/mzidentml"
	"github.com/524D/mzquant/internal/mzml"
	"github.com/524D/mzquant/quant"
)

type scoreRange struct {
	minScore float64 // Minimum score to accept
	maxScore float64 // Maximum score to accept
	priority int     // Priority of the score, lowest is best
}

type scoreFilter map[string]scoreRange

// accept checks the scores of an identification against the filter. The
// score with the best priority that is present decides. An empty filter
// accepts everything.
func (f scoreFilter) accept(ident *mzidentml.Identification) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}
	scoreOK := false
	curPrio := math.MaxInt32
	for _, cv := range ident.Cv {
		// Check if the CV accession number or CV name matches scorefilter
		filt, ok := f[cv.Accession]
		if !ok {
			filt, ok = f[cv.Name]
		}
		if ok && filt.priority < curPrio {
			score, err := strconv.ParseFloat(cv.Value, 64)
			if err != nil {
				return false, fmt.Errorf("invalid score value %s for %s", cv.Value, ident.PepID)
			}
			scoreOK = score >= filt.minScore && score <= filt.maxScore
			curPrio = filt.priority
		}
	}
	return scoreOK, nil
}

// peptideKey identifies a peptide by sequence and total modification mass,
// so that differently modified forms are quantified separately
func peptideKey(ident *mzidentml.Identification) string {
	if ident.ModMass == 0 {
		return ident.PepSeq
	}
	return fmt.Sprintf("%s%+.4f", ident.PepSeq, ident.ModMass)
}

// project is the identification hierarchy of one experiment:
// proteins own peptides, peptides own spectra
type project struct {
	children [3]map[string][]string // Per level, match key to child keys
	spectra  []string
	decoy    map[string]bool // Decoy proteins
	idents   int             // Identifications accepted by the score filter
	info     map[string]*spectrumInfo
}

// spectrumInfo describes an identified spectrum. Retention time and
// precursor m/z are NaN when unknown.
type spectrumInfo struct {
	scanIndex     int
	retentionTime float64 // Seconds
	precursorMz   float64
	charge        int
	activation    []string
	centroid      bool
}

// buildProject collects the identifications that pass the score filter.
// Only the best ranked identification of a spectrum is used.
func buildProject(mzIdentML *mzidentml.MzIdentML, filt scoreFilter) (*project, error) {
	p := &project{
		decoy: make(map[string]bool),
		info:  make(map[string]*spectrumInfo),
	}
	for i := range p.children {
		p.children[i] = make(map[string][]string)
	}
	pep2spec := p.children[quant.LevelPeptide]
	prot2pep := p.children[quant.LevelProtein]
	specSeen := make(map[string]bool)
	pepProt := make(map[[2]string]bool)
	protTarget := make(map[string]bool)

	for i := 0; i < mzIdentML.NumIdents(); i++ {
		ident, err := mzIdentML.Ident(i)
		if err != nil {
			return nil, err
		}
		if ident.Rank > 1 || specSeen[ident.SpecID] {
			continue
		}
		ok, err := filt.accept(&ident)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		specSeen[ident.SpecID] = true
		p.idents++
		p.spectra = append(p.spectra, ident.SpecID)
		info := &spectrumInfo{
			scanIndex:     -1,
			retentionTime: math.NaN(),
			precursorMz:   math.NaN(),
			charge:        ident.Charge,
		}
		if ident.RetentionTime >= 0 {
			info.retentionTime = ident.RetentionTime
		}
		p.info[ident.SpecID] = info

		pep := peptideKey(&ident)
		pep2spec[pep] = append(pep2spec[pep], ident.SpecID)
		for _, prot := range ident.Proteins {
			if !ident.Decoy {
				protTarget[prot] = true
			}
			if !pepProt[[2]string{pep, prot}] {
				pepProt[[2]string{pep, prot}] = true
				prot2pep[prot] = append(prot2pep[prot], pep)
			}
		}
	}
	for prot := range prot2pep {
		if !protTarget[prot] {
			p.decoy[prot] = true
		}
	}
	if p.idents == 0 {
		log.Print("No identified spectra will be used for quantification. Is the specified scorefilter applicable for this file?")
	}
	p.sort()
	return p, nil
}

func (p *project) sort() {
	sort.Strings(p.spectra)
	for _, m := range p.children {
		for _, c := range m {
			sort.Strings(c)
		}
	}
}

// removeSpectra drops spectra (e.g. not present in the MS data) and the
// peptides and proteins left without children
func (p *project) removeSpectra(drop map[string]bool) {
	if len(drop) == 0 {
		return
	}
	keep := p.spectra[:0]
	for _, s := range p.spectra {
		if !drop[s] {
			keep = append(keep, s)
			continue
		}
		delete(p.info, s)
	}
	p.spectra = keep
	for _, level := range []quant.MatchLevel{quant.LevelPeptide, quant.LevelProtein} {
		m := p.children[level]
		for key, children := range m {
			left := children[:0]
			for _, c := range children {
				if !drop[c] {
					left = append(left, c)
				}
			}
			if len(left) == 0 {
				delete(m, key)
				drop[key] = true
				continue
			}
			m[key] = left
		}
	}
}

// Matches implements quant.Store
func (p *project) Matches(level quant.MatchLevel) []string {
	if level == quant.LevelSpectrum {
		return p.spectra
	}
	if !level.Valid() {
		return nil
	}
	keys := make([]string, 0, len(p.children[level]))
	for k := range p.children[level] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChildMatches implements quant.Store
func (p *project) ChildMatches(level quant.MatchLevel, key string) []string {
	if !level.Valid() {
		return nil
	}
	return p.children[level][key]
}

// reporterIntensities holds the reporter ion intensities of the identified
// spectra, in channel order of the method
type reporterIntensities struct {
	method quant.Method
	pos    map[int]int // Channel index to position in intensity slices
	refPos int
	intens map[string][]float64
}

func newReporterIntensities(method quant.Method) *reporterIntensities {
	r := &reporterIntensities{
		method: method,
		pos:    make(map[int]int, len(method.Channels)),
		intens: make(map[string][]float64),
	}
	for i, c := range method.Channels {
		r.pos[c.Index] = i
	}
	r.refPos = r.pos[method.Reference]
	return r
}

// RawRatio implements quant.RatioProvider. The ratio is undefined if
// either reporter ion was not observed.
func (r *reporterIntensities) RawRatio(spectrumKey string, channel int) float64 {
	in, ok := r.intens[spectrumKey]
	if !ok {
		return math.NaN()
	}
	i, ok := r.pos[channel]
	if !ok {
		return math.NaN()
	}
	ref := in[r.refPos]
	if ref <= 0 || in[i] <= 0 {
		return math.NaN()
	}
	return in[i] / ref
}

// reporterPeaks returns, for each channel of the method, the most intense
// peak within ppm of the reporter ion m/z. Peaks must be ordered by mz.
func reporterPeaks(method quant.Method, peaks []mzml.Peak, ppm float64) []mzml.Peak {
	rp := make([]mzml.Peak, len(method.Channels))
	for i, c := range method.Channels {
		d := c.Mz * ppm * 1e-6
		rp[i] = maxPeakInMzWindow(c.Mz-d, c.Mz+d, peaks)
	}
	return rp
}

// extractReporters reads the reporter ion intensities of all spectra in the
// project. Spectra that cannot be found in the MS data are removed from the
// project.
func extractReporters(mzML *mzml.MzML, p *project, method quant.Method, par params) (*reporterIntensities, error) {
	r := newReporterIntensities(method)
	missing := make(map[string]bool)
	profile, electron := 0, 0
	for _, key := range p.spectra {
		idx, err := mzML.ScanIndex(key)
		if err != nil {
			missing[key] = true
			continue
		}
		msLevel, err := mzML.MSLevel(idx)
		if err != nil {
			return nil, err
		}
		if msLevel < 2 {
			log.Printf("WARNING: identified spectrum %s has MS level %d", key, msLevel)
		}
		info, err := readSpectrumInfo(mzML, idx, p.info[key])
		if err != nil {
			return nil, fmt.Errorf("reading spectrum %s: %w", key, err)
		}
		p.info[key] = info
		if !info.centroid {
			profile++
		}
		if !collisionActivated(info.activation) {
			electron++
		}
		peaks, err := mzML.ReadScan(idx)
		if err != nil {
			return nil, fmt.Errorf("reading spectrum %s: %w", key, err)
		}
		rp := reporterPeaks(method, peaks, par.reporterPPM)
		in := make([]float64, len(rp))
		for i := range rp {
			in[i] = rp[i].Intens
		}
		r.intens[key] = in
		debugLogReporters(idx, mzML.NumSpecs(), key, info.retentionTime, method, rp, par)
	}
	if profile > 0 && par.verbosity != infoSilent {
		log.Printf("WARNING: %d identified spectra contain profile data, reporter intensities are profile maxima", profile)
	}
	if electron > 0 && par.verbosity != infoSilent {
		log.Printf("WARNING: %d identified spectra were not fragmented by collision, reporter ions may be missing", electron)
	}
	if len(missing) > 0 {
		log.Printf("WARNING: %d identified spectra not found in MS data", len(missing))
		p.removeSpectra(missing)
	}
	return r, nil
}

// readSpectrumInfo completes the information of an identified spectrum from
// the MS data. The retention time of the MS data takes precedence over the
// one reported with the identification.
func readSpectrumInfo(mzML *mzml.MzML, idx int, ident *spectrumInfo) (*spectrumInfo, error) {
	info := &spectrumInfo{
		scanIndex:     idx,
		retentionTime: math.NaN(),
		precursorMz:   math.NaN(),
	}
	if ident != nil {
		info.retentionTime = ident.retentionTime
		info.charge = ident.charge
	}
	rt, err := mzML.RetentionTime(idx)
	if err != nil {
		return nil, err
	}
	if rt >= 0 {
		info.retentionTime = rt
	}
	if info.centroid, err = mzML.Centroid(idx); err != nil {
		return nil, err
	}
	precursors, err := mzML.Precursors(idx)
	if err != nil {
		return nil, err
	}
	if len(precursors) > 0 {
		info.precursorMz = precursors[0].Mz
		if info.charge == 0 {
			info.charge = precursors[0].Charge
		}
	}
	for _, pr := range precursors {
		info.activation = append(info.activation, pr.Activation...)
	}
	return info, nil
}

// collisionActivated reports whether a spectrum was fragmented by one of
// the collision induced dissociation methods that release reporter ions.
// Spectra without activation information are assumed to be.
func collisionActivated(activation []string) bool {
	if len(activation) == 0 {
		return true
	}
	for _, a := range activation {
		if strings.Contains(a, "collision") {
			return true
		}
	}
	return false
}
