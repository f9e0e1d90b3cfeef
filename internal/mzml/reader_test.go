// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package mzml

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// Two spectra: a profile MS1 scan with uncompressed 64 bit arrays and a
// centroided MS2 scan with zlib compressed 32 bit arrays.
const testMzML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<indexedmzML xmlns="http://psi.hupo.org/ms/mzml">
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
 <run id="test">
  <spectrumList count="2">
   <spectrum index="0" id="scan=1" defaultArrayLength="3">
    <cvParam accession="MS:1000511" name="ms level" value="1"/>
    <cvParam accession="MS:1000128" name="profile spectrum"/>
    <scanList count="1">
     <scan>
      <cvParam accession="MS:1000016" name="scan start time" value="1.5" unitAccession="UO:0000031"/>
     </scan>
    </scanList>
    <binaryDataArrayList count="2">
     <binaryDataArray encodedLength="32">
      <cvParam accession="MS:1000523" name="64-bit float"/>
      <cvParam accession="MS:1000576" name="no compression"/>
      <cvParam accession="MS:1000514" name="m/z array"/>
      <binary>AAAAAAAAeUAAAAAAAEh/QAAAAAAAwoJA</binary>
     </binaryDataArray>
     <binaryDataArray encodedLength="32">
      <cvParam accession="MS:1000523" name="64-bit float"/>
      <cvParam accession="MS:1000576" name="no compression"/>
      <cvParam accession="MS:1000515" name="intensity array"/>
      <binary>AAAAAAAAJEAAAAAAAAA0QAAAAAAAAD5A</binary>
     </binaryDataArray>
    </binaryDataArrayList>
   </spectrum>
   <spectrum index="1" id="scan=2" defaultArrayLength="5">
    <cvParam accession="MS:1000511" name="ms level" value="2"/>
    <cvParam accession="MS:1000127" name="centroid spectrum"/>
    <scanList count="1">
     <scan>
      <cvParam accession="MS:1000016" name="scan start time" value="95.25" unitAccession="UO:0000010"/>
     </scan>
    </scanList>
    <precursorList count="1">
     <precursor spectrumRef="scan=1">
      <selectedIonList count="1">
       <selectedIon>
        <cvParam accession="MS:1000744" name="selected ion m/z" value="500.5"/>
        <cvParam accession="MS:1000041" name="charge state" value="2"/>
       </selectedIon>
      </selectedIonList>
      <activation>
       <cvParam accession="MS:1000422" name="beam-type collision-induced dissociation"/>
       <cvParam accession="MS:1000045" name="collision energy" value="35"/>
      </activation>
     </precursor>
    </precursorList>
    <binaryDataArrayList count="2">
     <binaryDataArray encodedLength="44">
      <cvParam accession="MS:1000521" name="32-bit float"/>
      <cvParam accession="MS:1000574" name="zlib compression"/>
      <cvParam accession="MS:1000514" name="m/z array"/>
      <binary>eJx7b/HEqdj8mZOK5Qunh1avnBgcpjkDAGbBCQc=</binary>
     </binaryDataArray>
     <binaryDataArray encodedLength="32">
      <cvParam accession="MS:1000521" name="32-bit float"/>
      <cvParam accession="MS:1000574" name="zlib compression"/>
      <cvParam accession="MS:1000515" name="intensity array"/>
      <binary>eJxjYKhyYWD45cLQsBtIg4CHEwAuUAQG</binary>
     </binaryDataArray>
    </binaryDataArrayList>
   </spectrum>
  </spectrumList>
 </run>
</mzML>
</indexedmzML>
`

func TestRead(t *testing.T) {
	f, err := Read(strings.NewReader(testMzML))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if n := f.NumSpecs(); n != 2 {
		t.Errorf("NumSpecs: %d, should be 2", n)
	}

	p, err := f.ReadScan(0)
	if err != nil {
		t.Fatalf("ReadScan: error return %v", err)
	}
	wantMS1 := []Peak{{400, 10}, {500.5, 20}, {600.25, 30}}
	if len(p) != len(wantMS1) {
		t.Fatalf("ReadScan: %d peaks, should be %d", len(p), len(wantMS1))
	}
	for i := range p {
		if p[i] != wantMS1[i] {
			t.Errorf("ReadScan: peak %d is %+v, should be %+v", i, p[i], wantMS1[i])
		}
	}

	p, err = f.ReadScan(1)
	if err != nil {
		t.Fatalf("ReadScan: error return %v", err)
	}
	wantMS2 := []Peak{{114.1112, 1000}, {115.1083, 2000}, {116.1116, 1500}, {117.1150, 0}, {300.5, 50}}
	if len(p) != len(wantMS2) {
		t.Fatalf("ReadScan: %d peaks, should be %d", len(p), len(wantMS2))
	}
	for i := range p {
		if math.Abs(p[i].Mz-wantMS2[i].Mz) > 1e-4 || p[i].Intens != wantMS2[i].Intens {
			t.Errorf("ReadScan: peak %d is %+v, should be %+v", i, p[i], wantMS2[i])
		}
	}

	_, err = f.ReadScan(2)
	if err != ErrInvalidScanIndex {
		t.Errorf("ReadScan: error return %v, should be ErrInvalidScanIndex", err)
	}
}

func TestScanInfo(t *testing.T) {
	f, err := Read(strings.NewReader(testMzML))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	tests := []struct {
		index    int
		id       string
		msLevel  int
		centroid bool
		rt       float64
	}{
		{0, "scan=1", 1, false, 90},
		{1, "scan=2", 2, true, 95.25},
	}
	for _, tt := range tests {
		msLevel, err := f.MSLevel(tt.index)
		if err != nil || msLevel != tt.msLevel {
			t.Errorf("MSLevel(%d): %d, %v, should be %d", tt.index, msLevel, err, tt.msLevel)
		}
		centroid, err := f.Centroid(tt.index)
		if err != nil || centroid != tt.centroid {
			t.Errorf("Centroid(%d): %v, %v, should be %v", tt.index, centroid, err, tt.centroid)
		}
		rt, err := f.RetentionTime(tt.index)
		if err != nil || math.Abs(rt-tt.rt) > 1e-9 {
			t.Errorf("RetentionTime(%d): %v, %v, should be %v", tt.index, rt, err, tt.rt)
		}
		index, err := f.ScanIndex(tt.id)
		if err != nil || index != tt.index {
			t.Errorf("ScanIndex(%s): %d, %v, should be %d", tt.id, index, err, tt.index)
		}
	}

	if _, err := f.ScanIndex("scan=3"); err != ErrInvalidScanID {
		t.Errorf("ScanIndex: error return %v, should be ErrInvalidScanID", err)
	}
	if _, err := f.MSLevel(-1); err != ErrInvalidScanIndex {
		t.Errorf("MSLevel: error return %v, should be ErrInvalidScanIndex", err)
	}
	if _, err := f.Centroid(2); err != ErrInvalidScanIndex {
		t.Errorf("Centroid: error return %v, should be ErrInvalidScanIndex", err)
	}
}

func TestPrecursors(t *testing.T) {
	f, err := Read(strings.NewReader(testMzML))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	p, err := f.Precursors(0)
	if err != nil || len(p) != 0 {
		t.Errorf("Precursors(0): %v, %v, should be empty", p, err)
	}
	p, err = f.Precursors(1)
	if err != nil {
		t.Fatalf("Precursors(1): error return %v", err)
	}
	if len(p) != 1 {
		t.Fatalf("Precursors(1): %d precursors, should be 1", len(p))
	}
	if p[0].Mz != 500.5 || p[0].Charge != 2 || p[0].SpectrumRef != "scan=1" {
		t.Errorf("Precursors(1): %+v", p[0])
	}
	if len(p[0].Activation) != 1 || p[0].Activation[0] != "beam-type collision-induced dissociation" {
		t.Errorf("Precursors(1): activation %v", p[0].Activation)
	}
}

func TestNumpress(t *testing.T) {
	numpress := strings.Replace(testMzML,
		`<cvParam accession="MS:1000574" name="zlib compression"/>
      <cvParam accession="MS:1000514" name="m/z array"/>`,
		`<cvParam accession="MS:1002312" name="MS-Numpress linear prediction compression"/>
      <cvParam accession="MS:1000514" name="m/z array"/>`, 1)
	f, err := Read(strings.NewReader(numpress))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if _, err := f.ReadScan(1); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("ReadScan: error return %v, should be ErrUnsupportedCompression", err)
	}
}

func TestReadInvalidIndex(t *testing.T) {
	bad := strings.Replace(testMzML, `<spectrum index="1"`, `<spectrum index="5"`, 1)
	if _, err := Read(strings.NewReader(bad)); err != ErrInvalidScanIndex {
		t.Errorf("Read: error return %v, should be ErrInvalidScanIndex", err)
	}
}
