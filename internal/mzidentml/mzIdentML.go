// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package mzidentml

import (
	"encoding/xml"
	"errors"
)

// Types for parsing mzIdentML

// MzIdentML holds only the part of mzIdentML files
// in which we are interrested
type MzIdentML struct {
	pepID2Idx      map[string]int
	evidenceID2Idx map[string]int
	dbSeqID2Idx    map[string]int
	identList      []identRef
	content        mzIdentMLContent
}

type identRef struct {
	specResultIdx int // Index into SpectrumIdentificationResult
	specItemIdx   int // Index into SpectrumIdentificationItem
}

// Identification is a single peptide spectrum match
type Identification struct {
	PepSeq        string
	PepID         string
	Charge        int
	ModMass       float64
	SpecID        string
	RetentionTime float64
	Rank          int
	PassThreshold bool
	Proteins      []string // Accessions of the proteins the peptide maps to
	Decoy         bool     // All peptide evidence is decoy
	Cv            []CvParam
}

type mzIdentMLContent struct {
	XMLName                      xml.Name                       `xml:"MzIdentML"`
	DBSequence                   []dbSequence                   `xml:"SequenceCollection>DBSequence"`
	Peptide                      []peptide                      `xml:"SequenceCollection>Peptide"`
	PeptideEvidence              []peptideEvidence              `xml:"SequenceCollection>PeptideEvidence"`
	SpectrumIdentificationResult []spectrumIdentificationResult `xml:"DataCollection>AnalysisData>SpectrumIdentificationList>SpectrumIdentificationResult"`
}

type dbSequence struct {
	ID        string `xml:"id,attr"`
	Accession string `xml:"accession,attr"`
}

type peptide struct {
	ID              string `xml:"id,attr"`
	PeptideSequence string
	Modification    []modification
}

type modification struct {
	// Note: monoisotopicMassDelta is optional according the the schema, but
	// appears to be no other way to determine mass shift, as other
	// corresponding cvParam's don't carry this info either
	MonoisotopicMassDelta float64 `xml:"monoisotopicMassDelta,attr"`
}

type peptideEvidence struct {
	ID            string `xml:"id,attr"`
	PeptideRef    string `xml:"peptide_ref,attr"`
	DBSequenceRef string `xml:"dBSequence_ref,attr"`
	IsDecoy       bool   `xml:"isDecoy,attr"`
}

type spectrumIdentificationResult struct {
	SpectrumID                 string `xml:"spectrumID,attr"`
	SpectrumIdentificationItem []spectrumIdentificationItem
	CvPar                      []CvParam `xml:"cvParam"`
}

type spectrumIdentificationItem struct {
	ChargeState        int                  `xml:"chargeState,attr"`
	PeptideRef         string               `xml:"peptide_ref,attr"`
	Rank               int                  `xml:"rank,attr"`
	PassThreshold      bool                 `xml:"passThreshold,attr"`
	PeptideEvidenceRef []peptideEvidenceRef `xml:"PeptideEvidenceRef"`
	CvPar              []CvParam            `xml:"cvParam"`
}

type peptideEvidenceRef struct {
	PeptideEvidenceRef string `xml:"peptideEvidence_ref,attr"`
}

// CvParam is a controlled vocabulary term, the scores of an identification
// are reported this way
type CvParam struct {
	Accession     string `xml:"accession,attr"`
	Name          string `xml:"name,attr"`
	Value         string `xml:"value,attr"`
	UnitAccession string `xml:"unitAccession,attr"`
}

var (
	// ErrInvalidIdentIndex means an invalid identification index is supplied
	ErrInvalidIdentIndex = errors.New("mzIdentML: invalid identification index")
	// ErrUnknownReference means an element refers to an id that does not exist
	ErrUnknownReference = errors.New("mzIdentML: unknown reference")
)
