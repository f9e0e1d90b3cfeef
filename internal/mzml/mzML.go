// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package mzml

import (
	"encoding/xml"
	"errors"
)

// MzML wraps the spectra of an mzML file
type MzML struct {
	content  mzMLContent
	id2Index map[string]int
}

// Peak contains the actual ms peak info
type Peak struct {
	Mz     float64
	Intens float64
}

// The part of the mzML content that we need for reporter ion extraction.
type mzMLContent struct {
	XMLName xml.Name `xml:"mzML"`
	Run     run      `xml:"run"`
}

type run struct {
	ID           string       `xml:"id,attr"`
	SpectrumList spectrumList `xml:"spectrumList"`
}

type spectrumList struct {
	Count    int        `xml:"count,attr"`
	Spectrum []spectrum `xml:"spectrum"`
}

type spectrum struct {
	Index               int                 `xml:"index,attr"`
	ID                  string              `xml:"id,attr"`
	DefaultArrayLength  int64               `xml:"defaultArrayLength,attr"`
	CvPar               []CVParam           `xml:"cvParam"`
	ScanList            scanList            `xml:"scanList"`
	PrecursorList       []precursorList     `xml:"precursorList"`
	BinaryDataArrayList binaryDataArrayList `xml:"binaryDataArrayList"`
}

type binaryDataArrayList struct {
	Count           int               `xml:"count,attr"`
	BinaryDataArray []binaryDataArray `xml:"binaryDataArray"`
}

type binaryDataArray struct {
	EncodedLength int       `xml:"encodedLength,attr"`
	CvPar         []CVParam `xml:"cvParam"`
	Binary        string    `xml:"binary"`
}

type scanList struct {
	Count int    `xml:"count,attr"`
	Scan  []scan `xml:"scan"`
}

type scan struct {
	CvPar []CVParam `xml:"cvParam"`
}

type precursorList struct {
	Count     int         `xml:"count,attr"`
	Precursor []precursor `xml:"precursor"`
}

type precursor struct {
	SpectrumRef string     `xml:"spectrumRef,attr"`
	SelectedIon []CVParams `xml:"selectedIonList>selectedIon"`
	Activation  CVParams   `xml:"activation"`
}

// CVParams is an element that only holds CV terms
type CVParams struct {
	CvPar []CVParam `xml:"cvParam"`
}

// CVParam contains values and attributes of a mzML Controlled Vocabulary term
// (http://www.peptideatlas.org/tmp/mzML1.1.0.html)
type CVParam struct {
	Accession     string `xml:"accession,attr"`
	Name          string `xml:"name,attr"`
	Value         string `xml:"value,attr"`
	UnitAccession string `xml:"unitAccession,attr"`
}

// Precursor describes the precursor ion of an MSn spectrum
type Precursor struct {
	SpectrumRef string
	Mz          float64
	Charge      int
	Activation  []string // Names of the dissociation methods
}

var (
	// ErrInvalidScanID means an invalid scan id is supplied
	ErrInvalidScanID = errors.New("MzML: invalid scan id")
	// ErrInvalidScanIndex means an invalid scan index is supplied
	ErrInvalidScanIndex = errors.New("MzML: invalid scan index")
	// ErrUnsupportedCompression means the binary data uses MS-Numpress
	ErrUnsupportedCompression = errors.New("MzML: unsupported binary data compression")
)
