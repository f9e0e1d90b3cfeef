// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package mzidentml

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testMzID = `<?xml version="1.0" encoding="UTF-8"?>
<MzIdentML xmlns="http://psidev.info/psi/pi/mzIdentML/1.1" id="test" version="1.1.0">
 <SequenceCollection>
  <DBSequence id="DBSeq1" accession="P12345" length="100"/>
  <DBSequence id="DBSeq2" accession="Q99999" length="80"/>
  <DBSequence id="DBSeq3" accession="DECOY_P12345" length="100"/>
  <Peptide id="PEP_1">
   <PeptideSequence>PEPTIDEK</PeptideSequence>
   <Modification location="0" monoisotopicMassDelta="144.102063"/>
   <Modification location="8" monoisotopicMassDelta="144.102063"/>
  </Peptide>
  <Peptide id="PEP_2">
   <PeptideSequence>KEDITPEP</PeptideSequence>
  </Peptide>
  <PeptideEvidence id="PE_1" peptide_ref="PEP_1" dBSequence_ref="DBSeq2" isDecoy="false"/>
  <PeptideEvidence id="PE_2" peptide_ref="PEP_1" dBSequence_ref="DBSeq1" isDecoy="false"/>
  <PeptideEvidence id="PE_3" peptide_ref="PEP_2" dBSequence_ref="DBSeq3" isDecoy="true"/>
 </SequenceCollection>
 <DataCollection>
  <AnalysisData>
   <SpectrumIdentificationList id="SIL_1">
    <SpectrumIdentificationResult id="SIR_1" spectrumID="scan=2">
     <SpectrumIdentificationItem id="SII_1_1" chargeState="2" peptide_ref="PEP_1" rank="1" passThreshold="true">
      <PeptideEvidenceRef peptideEvidence_ref="PE_1"/>
      <PeptideEvidenceRef peptideEvidence_ref="PE_2"/>
      <cvParam accession="MS:1002053" name="MS-GF:EValue" value="1.5e-10"/>
     </SpectrumIdentificationItem>
     <SpectrumIdentificationItem id="SII_1_2" chargeState="2" peptide_ref="PEP_2" rank="2" passThreshold="false">
      <PeptideEvidenceRef peptideEvidence_ref="PE_3"/>
      <cvParam accession="MS:1002053" name="MS-GF:EValue" value="0.5"/>
     </SpectrumIdentificationItem>
     <cvParam accession="MS:1000894" name="retention time" value="100.5" unitAccession="UO:0000010"/>
     <cvParam accession="MS:1000016" name="scan start time" value="1.75" unitAccession="UO:0000031"/>
    </SpectrumIdentificationResult>
    <SpectrumIdentificationResult id="SIR_2" spectrumID="scan=5">
     <SpectrumIdentificationItem id="SII_2_1" chargeState="3" peptide_ref="PEP_2" rank="1" passThreshold="true">
      <PeptideEvidenceRef peptideEvidence_ref="PE_3"/>
     </SpectrumIdentificationItem>
    </SpectrumIdentificationResult>
   </SpectrumIdentificationList>
  </AnalysisData>
 </DataCollection>
</MzIdentML>
`

func TestRead(t *testing.T) {
	f, err := Read(strings.NewReader(testMzID))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if n := f.NumIdents(); n != 3 {
		t.Errorf("NumIdents is %d, expected 3", n)
	}

	want := []Identification{
		{
			PepSeq:        "PEPTIDEK",
			PepID:         "PEP_1",
			Charge:        2,
			ModMass:       288.204126,
			SpecID:        "scan=2",
			RetentionTime: 105,
			Rank:          1,
			PassThreshold: true,
			Proteins:      []string{"P12345", "Q99999"},
			Cv:            []CvParam{{Accession: "MS:1002053", Name: "MS-GF:EValue", Value: "1.5e-10"}},
		},
		{
			PepSeq:        "KEDITPEP",
			PepID:         "PEP_2",
			Charge:        2,
			SpecID:        "scan=2",
			RetentionTime: 105,
			Rank:          2,
			Proteins:      []string{"DECOY_P12345"},
			Decoy:         true,
			Cv:            []CvParam{{Accession: "MS:1002053", Name: "MS-GF:EValue", Value: "0.5"}},
		},
		{
			PepSeq:        "KEDITPEP",
			PepID:         "PEP_2",
			Charge:        3,
			SpecID:        "scan=5",
			RetentionTime: -1,
			Rank:          1,
			PassThreshold: true,
			Proteins:      []string{"DECOY_P12345"},
			Decoy:         true,
		},
	}
	approx := cmp.Comparer(func(x, y float64) bool {
		d := x - y
		return d < 1e-9 && d > -1e-9
	})
	for i := range want {
		ident, err := f.Ident(i)
		if err != nil {
			t.Errorf("Ident(%d): error return %v", i, err)
			continue
		}
		if diff := cmp.Diff(want[i], ident, approx); diff != "" {
			t.Errorf("Ident(%d) mismatch (-want +got):\n%s", i, diff)
		}
	}

	if _, err := f.Ident(3); err != ErrInvalidIdentIndex {
		t.Errorf("Ident: error return %v, should be ErrInvalidIdentIndex", err)
	}
	if _, err := f.Ident(-1); err != ErrInvalidIdentIndex {
		t.Errorf("Ident: error return %v, should be ErrInvalidIdentIndex", err)
	}
}

func TestUnknownReference(t *testing.T) {
	bad := strings.Replace(testMzID, `peptideEvidence_ref="PE_2"`, `peptideEvidence_ref="PE_9"`, 1)
	f, err := Read(strings.NewReader(bad))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if _, err := f.Ident(0); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("Ident: error return %v, should be ErrUnknownReference", err)
	}
}
