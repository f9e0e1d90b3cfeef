// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package mzidentml

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"golang.org/x/net/html/charset"
)

// Read reads mzIdentML content from io.reader
func Read(reader io.Reader) (MzIdentML, error) {
	var mzIdentML MzIdentML
	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel
	err := d.Decode(&mzIdentML.content)
	if err != nil {
		return mzIdentML, err
	}
	mzIdentML.buildIndex()
	mzIdentML.buildIdentList()
	return mzIdentML, nil
}

func (m *MzIdentML) buildIndex() {
	c := &m.content
	m.pepID2Idx = make(map[string]int, len(c.Peptide))
	for i, p := range c.Peptide {
		m.pepID2Idx[p.ID] = i
	}
	m.evidenceID2Idx = make(map[string]int, len(c.PeptideEvidence))
	for i, e := range c.PeptideEvidence {
		m.evidenceID2Idx[e.ID] = i
	}
	m.dbSeqID2Idx = make(map[string]int, len(c.DBSequence))
	for i, s := range c.DBSequence {
		m.dbSeqID2Idx[s.ID] = i
	}
}

func (m *MzIdentML) buildIdentList() {
	for i := range m.content.SpectrumIdentificationResult {
		for j := range m.content.SpectrumIdentificationResult[i].SpectrumIdentificationItem {
			m.identList = append(m.identList, identRef{specResultIdx: i, specItemIdx: j})
		}
	}
}

// NumIdents returns the total number of identifications in the mzIdentML file
// Note that for some spectra, multiple identifications may be present
// The identifications can be accessed using the Ident() method, which takes
// an index as argument. The index runs from 0 to NumIdents()-1
func (m *MzIdentML) NumIdents() int {
	return len(m.identList)
}

// retentionTime returns the retention time in seconds from the CV terms of a
// spectrum identification result, or -1 if not present.
// There are multiple CV terms that can be used to report the
// retention time. In order of decreasing preference we use:
// 1. MS:1000016 - scan start time
// 2. MS:1000894 - retention time
// 3. MS:1000826 - elution time
// 4. MS:1001114 - retention time (deprecated)
func retentionTime(cvPar []CvParam) (float64, error) {
	prio := map[string]int{
		"MS:1000016": 1,
		"MS:1000894": 2,
		"MS:1000826": 3,
		"MS:1001114": 4,
	}
	best := math.MaxInt32
	rt := float64(-1)
	for _, cv := range cvPar {
		p, ok := prio[cv.Accession]
		if !ok || p >= best {
			continue
		}
		t, err := strconv.ParseFloat(cv.Value, 64)
		if err != nil {
			return rt, err
		}
		// Check if the retention time is in minutes, otherwise assume it's seconds
		if cv.UnitAccession == "UO:0000031" || cv.UnitAccession == "MS:1000038" {
			t *= 60
		}
		best = p
		rt = t
	}
	return rt, nil
}

// Ident returns a spectrum identification from the mzIdentML file.
// Parameter i is the index of the identification to return. The index runs
// from 0 to NumIdents()-1
func (m *MzIdentML) Ident(i int) (Identification, error) {
	var ident Identification

	if i < 0 || i >= len(m.identList) {
		return ident, ErrInvalidIdentIndex
	}
	result := &m.content.SpectrumIdentificationResult[m.identList[i].specResultIdx]
	item := &result.SpectrumIdentificationItem[m.identList[i].specItemIdx]

	pepIdx, ok := m.pepID2Idx[item.PeptideRef]
	if !ok {
		return ident, fmt.Errorf("%w: peptide %s", ErrUnknownReference, item.PeptideRef)
	}
	pep := &m.content.Peptide[pepIdx]
	ident.PepSeq = pep.PeptideSequence
	ident.PepID = pep.ID
	for _, mod := range pep.Modification {
		ident.ModMass += mod.MonoisotopicMassDelta
	}
	ident.Charge = item.ChargeState
	ident.Rank = item.Rank
	ident.PassThreshold = item.PassThreshold
	ident.SpecID = result.SpectrumID

	rt, err := retentionTime(result.CvPar)
	if err != nil {
		return ident, err
	}
	ident.RetentionTime = rt

	// A peptide is decoy only if all of its evidence is decoy
	seen := make(map[string]bool)
	ident.Decoy = len(item.PeptideEvidenceRef) > 0
	for _, ref := range item.PeptideEvidenceRef {
		evIdx, ok := m.evidenceID2Idx[ref.PeptideEvidenceRef]
		if !ok {
			return ident, fmt.Errorf("%w: peptide evidence %s", ErrUnknownReference, ref.PeptideEvidenceRef)
		}
		ev := &m.content.PeptideEvidence[evIdx]
		if !ev.IsDecoy {
			ident.Decoy = false
		}
		seqIdx, ok := m.dbSeqID2Idx[ev.DBSequenceRef]
		if !ok {
			return ident, fmt.Errorf("%w: DB sequence %s", ErrUnknownReference, ev.DBSequenceRef)
		}
		acc := m.content.DBSequence[seqIdx].Accession
		if !seen[acc] {
			seen[acc] = true
			ident.Proteins = append(ident.Proteins, acc)
		}
	}
	sort.Strings(ident.Proteins)

	// Collect CV terms/values for the identification, the scores are in there
	ident.Cv = append(ident.Cv, item.CvPar...)
	return ident, nil
}
