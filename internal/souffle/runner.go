// Package souffle wraps invocation of an external Soufflé-compatible
// Datalog evaluator: write input to a temp location, run the binary,
// capture stdout/stderr, and turn a non-zero exit into a structured
// error.
package souffle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const queryResultFile = "_query_result.csv"

// Runner invokes the souffle binary against an assembled program and a
// fact directory, parsing its output relation.
type Runner struct {
	binary  string
	breaker *gobreaker.CircuitBreaker
}

// NewRunner creates a Runner wrapped in a circuit breaker that opens
// after 5 consecutive evaluator errors and probes again after 10s, so
// a wedged or missing binary doesn't serialise every query behind a
// doomed process spawn.
func NewRunner(binary string) *Runner {
	if binary == "" {
		binary = "souffle"
	}
	settings := gobreaker.Settings{
		Name:        "souffle",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Runner{binary: binary, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Evaluate writes program to a temp file in the system temp directory,
// invokes `souffle -F factDir -D factDir <program>`, and parses
// _query_result.csv. While the breaker is open, Evaluate returns an
// error wrapping gobreaker.ErrOpenState without spawning a process; it
// never substitutes a different answer.
func (r *Runner) Evaluate(factDir, program string) (string, [][]string, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.run(factDir, program)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", nil, fmt.Errorf("souffle: %w", err)
		}
		return "", nil, err
	}
	res := result.(evalResult)
	return res.stdout, res.rows, nil
}

type evalResult struct {
	stdout string
	rows   [][]string
}

func (r *Runner) run(factDir, program string) (evalResult, error) {
	programFile, err := os.CreateTemp("", "datalogcached-*.dl")
	if err != nil {
		return evalResult{}, fmt.Errorf("create program file: %w", err)
	}
	defer os.Remove(programFile.Name())
	if _, err := programFile.WriteString(program); err != nil {
		programFile.Close()
		return evalResult{}, fmt.Errorf("write program file: %w", err)
	}
	if err := programFile.Close(); err != nil {
		return evalResult{}, fmt.Errorf("close program file: %w", err)
	}

	resultPath := filepath.Join(factDir, queryResultFile)
	os.Remove(resultPath)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, "-F", factDir, "-D", factDir, programFile.Name())
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return evalResult{}, fmt.Errorf("souffle invocation failed: %w (stderr: %s)", err, stderr.String())
	}

	rows, err := parseCSV(resultPath)
	if err != nil {
		return evalResult{}, fmt.Errorf("parse %s: %w", queryResultFile, err)
	}
	return evalResult{stdout: stdout.String(), rows: rows}, nil
}

func parseCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rows [][]string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows, nil
}
