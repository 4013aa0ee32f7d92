package cache

import (
	"os"
	"path/filepath"
	"strings"
)

// ensureDir creates dir if it does not already exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// NormalizeField replaces tabs and newlines with a single space so a
// field can never split or extend a TSV row.
func NormalizeField(s string) string {
	replacer := strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")
	return replacer.Replace(s)
}

// normalizeRow normalizes every field of a row in place.
func normalizeRow(row []string) []string {
	out := make([]string, len(row))
	for i, f := range row {
		out[i] = NormalizeField(f)
	}
	return out
}

// factsFileName is the on-disk file for a predicate's current rows.
func factsFileName(predicate string) string {
	return predicate + ".facts"
}

// allFactsFileName is the on-disk file for a user predicate's full
// history, including superseded and expired rows.
func allFactsFileName(predicate string) string {
	return "_all_" + predicate + ".facts"
}

// writeTSV truncates and writes path with one tab-separated, \n
// terminated line per row. An empty row set produces a zero-byte file.
// Every write replaces rather than patches its target, so cancellation
// mid-write never leaves a predicate half-updated.
func writeTSV(dir, fileName string, rows [][]string) error {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(normalizeRow(row), "\t"))
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Join(dir, fileName), []byte(b.String()), 0644)
}

// appendTSV appends rows to path, creating it if absent. Used for
// _validation_error.facts, which accumulates across every predicate
// regenerated within one batch.
func appendTSV(dir, fileName string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(normalizeRow(row), "\t"))
		b.WriteByte('\n')
	}
	_, err = f.WriteString(b.String())
	return err
}

// truncateTSV creates or empties a file, used to re-create
// _validation_error.facts at the start of each regeneration batch that
// touches metadata.
func truncateTSV(dir, fileName string) error {
	return os.WriteFile(filepath.Join(dir, fileName), nil, 0644)
}
