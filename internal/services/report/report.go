// Package report writes scan results and verification reports as CSV.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/weekscan/internal/models"
)

// ScanHeader is the header row of the scan result file
var ScanHeader = []string{"ticker", "price"}

// VerificationHeader is the header row of the verification report
var VerificationHeader = []string{"ticker", "exists", "rows", "elapsed_s", "note"}

// WriteScan writes matches as ticker,price rows. Matches are expected in
// report order; an unresolved price is written as an empty field.
func WriteScan(w io.Writer, matches []models.ScanMatch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ScanHeader); err != nil {
		return err
	}
	for _, m := range matches {
		price := ""
		if m.Price != nil {
			price = strconv.FormatFloat(*m.Price, 'f', 2, 64)
		}
		if err := cw.Write([]string{m.Ticker, price}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteScanFile writes the scan result file atomically.
func WriteScanFile(path string, matches []models.ScanMatch) error {
	var buf bytes.Buffer
	if err := WriteScan(&buf, matches); err != nil {
		return fmt.Errorf("failed to encode scan results: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// WriteVerification writes verification records.
func WriteVerification(w io.Writer, records []models.VerificationRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(VerificationHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Ticker,
			r.Exists,
			strconv.Itoa(r.Rows),
			strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 3, 64),
			r.Note,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteVerificationFile writes the verification report atomically.
func WriteVerificationFile(path string, records []models.VerificationRecord) error {
	var buf bytes.Buffer
	if err := WriteVerification(&buf, records); err != nil {
		return fmt.Errorf("failed to encode verification report: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// ReadVerification parses a verification report. Columns are located by
// header name; only ticker and exists are required.
func ReadVerification(r io.Reader) ([]models.VerificationRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse verification report: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int)
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	tickerCol, ok1 := col["ticker"]
	existsCol, ok2 := col["exists"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("verification report needs ticker and exists columns")
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []models.VerificationRecord
	for _, row := range rows[1:] {
		if tickerCol >= len(row) || existsCol >= len(row) {
			continue
		}
		rec := models.VerificationRecord{
			Ticker: strings.TrimSpace(row[tickerCol]),
			Exists: strings.ToLower(strings.TrimSpace(row[existsCol])),
			Note:   field(row, "note"),
		}
		if rec.Ticker == "" {
			continue
		}
		rec.Rows, _ = strconv.Atoi(field(row, "rows"))
		if secs, err := strconv.ParseFloat(field(row, "elapsed_s"), 64); err == nil {
			rec.Elapsed = time.Duration(secs * float64(time.Second))
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadVerificationFile reads a verification report from path.
func ReadVerificationFile(path string) ([]models.VerificationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open verification report %s: %w", path, err)
	}
	defer f.Close()
	return ReadVerification(f)
}

// Summary renders the counts and top matches of a scan for terminal output.
func Summary(r *models.ScanReport, top int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)", r.RunID, r.Mode)
	if r.AsOf != nil {
		fmt.Fprintf(&b, " as of %s", r.AsOf.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "\nprocessed %d  succeeded %d  failed %d  excluded %d  matched %d  in %s\n",
		r.Processed, r.Succeeded, r.Failed, r.Excluded, len(r.Matches),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	for i, m := range r.Matches {
		if top > 0 && i >= top {
			fmt.Fprintf(&b, "  ... %d more\n", len(r.Matches)-top)
			break
		}
		price := "-"
		if m.Price != nil {
			price = strconv.FormatFloat(*m.Price, 'f', 2, 64)
		}
		fmt.Fprintf(&b, "  %-10s %10s  %s\n", m.Ticker, price, m.Signal.PatternKind)
	}
	return b.String()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
