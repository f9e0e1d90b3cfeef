// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package resultdb writes quantification results to an SQLite database.
package resultdb

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/524D/mzquant/cluster"
	"github.com/524D/mzquant/quant"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/guregu/null.v3"
)

const schemaVersion = 1

// Match is the result record of one match.
type Match struct {
	Level     quant.MatchLevel
	Key       string
	Children  []string
	Decoy     bool
	Quality   float64
	Estimates map[int]quant.RatioEstimate
	Ignored   []int // Manually ignored channels
}

// Spectrum describes an identified spectrum in the MS data.
type Spectrum struct {
	Key           string
	ScanIndex     int
	RetentionTime float64 // Seconds, NaN if unknown
	PrecursorMz   float64
	Charge        int
	Activation    []string
	Centroid      bool
}

// Writer writes results to an SQLite database file. All rows are written in
// a single transaction that is committed by Finalize.
type Writer struct {
	db         *sql.DB
	tx         *sql.Tx
	outputPath string
	matchStmt  *sql.Stmt
	ratioStmt  *sql.Stmt
	childStmt  *sql.Stmt
	matches    int
}

// NewWriter creates a new database, replacing an existing file.
func NewWriter(outputPath string) (*Writer, error) {
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove old database: %w", err)
	}
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
	}
	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	w.tx, err = db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := w.prepareStatements(); err != nil {
		w.tx.Rollback()
		db.Close()
		return nil, err
	}
	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS RunTable (
		Name TEXT PRIMARY KEY,
		Value TEXT
	);

	CREATE TABLE IF NOT EXISTS ChannelTable (
		ChannelIndex INTEGER PRIMARY KEY,
		Name TEXT,
		Mz DOUBLE,
		Reference BOOL,
		SpectrumFactor DOUBLE,
		PeptideFactor DOUBLE,
		ProteinFactor DOUBLE
	);

	CREATE TABLE IF NOT EXISTS MatchTable (
		Level TEXT,
		MatchKey TEXT,
		Decoy BOOL,
		Quality DOUBLE,
		PRIMARY KEY (Level, MatchKey)
	);

	CREATE TABLE IF NOT EXISTS SpectrumTable (
		SpectrumKey TEXT PRIMARY KEY,
		ScanIndex INTEGER,
		RetentionTime DOUBLE,
		PrecursorMz DOUBLE,
		Charge INTEGER,
		Activation TEXT,
		Centroid BOOL
	);

	CREATE TABLE IF NOT EXISTS HierarchyTable (
		Level TEXT,
		MatchKey TEXT,
		ChildKey TEXT
	);

	CREATE TABLE IF NOT EXISTS RatioTable (
		Level TEXT,
		MatchKey TEXT,
		ChannelIndex INTEGER REFERENCES ChannelTable(ChannelIndex),
		Ratio DOUBLE,
		Center DOUBLE,
		MAD DOUBLE,
		Scale DOUBLE,
		Retained INTEGER,
		Discarded INTEGER,
		Excluded INTEGER,
		Iterations INTEGER,
		Status TEXT,
		Ignored BOOL,
		PRIMARY KEY (Level, MatchKey, ChannelIndex)
	);

	CREATE TABLE IF NOT EXISTS ClusterTable (
		Protein TEXT PRIMARY KEY,
		Cluster INTEGER
	);

	CREATE TABLE IF NOT EXISTS CentroidTable (
		Cluster INTEGER,
		ChannelIndex INTEGER,
		Log2Ratio DOUBLE,
		Size INTEGER,
		PRIMARY KEY (Cluster, ChannelIndex)
	);
	`
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// prepareStatements prepares SQL statements for batch insertion
func (w *Writer) prepareStatements() error {
	var err error
	w.matchStmt, err = w.tx.Prepare(`
		INSERT INTO MatchTable (Level, MatchKey, Decoy, Quality) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare match statement: %w", err)
	}
	w.ratioStmt, err = w.tx.Prepare(`
		INSERT INTO RatioTable (
			Level, MatchKey, ChannelIndex, Ratio, Center, MAD, Scale,
			Retained, Discarded, Excluded, Iterations, Status, Ignored
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ratio statement: %w", err)
	}
	w.childStmt, err = w.tx.Prepare(`
		INSERT INTO HierarchyTable (Level, MatchKey, ChildKey) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare hierarchy statement: %w", err)
	}
	return nil
}

// nullFloat maps NaN and infinities to SQL NULL.
func nullFloat(f float64) null.Float {
	return null.NewFloat(f, !math.IsNaN(f) && !math.IsInf(f, 0))
}

// WriteRun stores run parameters as name/value pairs.
func (w *Writer) WriteRun(params map[string]string) error {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, err := w.tx.Exec(`INSERT INTO RunTable (Name, Value) VALUES (?, ?)`, n, params[n]); err != nil {
			return fmt.Errorf("failed to insert run parameter: %w", err)
		}
	}
	return nil
}

// WriteChannels stores the channels of the method and their normalization
// factors per level.
func (w *Writer) WriteChannels(m quant.Method, factors map[quant.MatchLevel]quant.Factors) error {
	for _, c := range m.Channels {
		_, err := w.tx.Exec(`
			INSERT INTO ChannelTable (
				ChannelIndex, Name, Mz, Reference, SpectrumFactor, PeptideFactor, ProteinFactor
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			c.Index,
			c.Name,
			c.Mz,
			c.Index == m.Reference,
			nullFloat(factors[quant.LevelSpectrum].Get(c.Index)),
			nullFloat(factors[quant.LevelPeptide].Get(c.Index)),
			nullFloat(factors[quant.LevelProtein].Get(c.Index)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert channel: %w", err)
		}
	}
	return nil
}

// WriteSpectrum stores the scan information of an identified spectrum.
// Activation methods are stored separated by semicolons.
func (w *Writer) WriteSpectrum(s Spectrum) error {
	_, err := w.tx.Exec(`
		INSERT INTO SpectrumTable (
			SpectrumKey, ScanIndex, RetentionTime, PrecursorMz, Charge, Activation, Centroid
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		s.Key,
		s.ScanIndex,
		nullFloat(s.RetentionTime),
		nullFloat(s.PrecursorMz),
		s.Charge,
		strings.Join(s.Activation, ";"),
		s.Centroid,
	)
	if err != nil {
		return fmt.Errorf("failed to insert spectrum: %w", err)
	}
	return nil
}

// WriteMatch writes a single match with its estimates
func (w *Writer) WriteMatch(m Match) error {
	level := m.Level.String()
	if _, err := w.matchStmt.Exec(level, m.Key, m.Decoy, nullFloat(m.Quality)); err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	for _, child := range m.Children {
		if _, err := w.childStmt.Exec(level, m.Key, child); err != nil {
			return fmt.Errorf("failed to insert hierarchy: %w", err)
		}
	}
	ignored := make(map[int]bool, len(m.Ignored))
	for _, c := range m.Ignored {
		ignored[c] = true
	}
	channels := make([]int, 0, len(m.Estimates))
	for c := range m.Estimates {
		channels = append(channels, c)
	}
	sort.Ints(channels)
	for _, c := range channels {
		e := m.Estimates[c]
		_, err := w.ratioStmt.Exec(
			level,
			m.Key,
			c,
			nullFloat(e.Ratio),
			nullFloat(e.Center),
			nullFloat(e.MAD),
			nullFloat(e.Scale),
			e.Retained,
			e.Discarded,
			e.Excluded,
			e.Iterations,
			e.Status.String(),
			ignored[c],
		)
		if err != nil {
			return fmt.Errorf("failed to insert ratio: %w", err)
		}
	}
	w.matches++
	return nil
}

// WriteClusters stores a clustering. order lists the channels of the
// centroid dimensions.
func (w *Writer) WriteClusters(res *cluster.Result, order []int) error {
	keys := make([]string, 0, len(res.Assignments))
	for k := range res.Assignments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := w.tx.Exec(`INSERT INTO ClusterTable (Protein, Cluster) VALUES (?, ?)`,
			k, res.Assignments[k]); err != nil {
			return fmt.Errorf("failed to insert cluster: %w", err)
		}
	}
	for i, centroid := range res.Centroids {
		if len(centroid) != len(order) {
			return fmt.Errorf("centroid %d has %d dimensions, %d channels given", i, len(centroid), len(order))
		}
		for d, v := range centroid {
			if _, err := w.tx.Exec(`
				INSERT INTO CentroidTable (Cluster, ChannelIndex, Log2Ratio, Size) VALUES (?, ?, ?, ?)
			`, i, order[d], nullFloat(v), res.Sizes[i]); err != nil {
				return fmt.Errorf("failed to insert centroid: %w", err)
			}
		}
	}
	return nil
}

// Finalize writes the run metadata, commits and closes the database
func (w *Writer) Finalize() error {
	if w.tx == nil {
		return nil
	}
	err := w.WriteRun(map[string]string{
		"SchemaVersion": fmt.Sprint(schemaVersion),
		"CreationDate":  time.Now().Format(time.RFC3339),
		"Matches":       fmt.Sprint(w.matches),
	})
	if err != nil {
		w.tx.Rollback()
		w.db.Close()
		w.tx = nil
		return err
	}

	// Close prepared statements
	for _, stmt := range []*sql.Stmt{w.matchStmt, w.ratioStmt, w.childStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		w.tx = nil
		return fmt.Errorf("failed to commit: %w", err)
	}
	w.tx = nil

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Close closes the database connection (alias for Finalize)
func (w *Writer) Close() error {
	return w.Finalize()
}
