package souffle

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestEvaluateParsesResultRows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	factDir := t.TempDir()
	script := filepath.Join(factDir, "fake-souffle.sh")
	body := "#!/bin/sh\nprintf 'alice\\t7\\nbob\\t9\\n' > \"$4/_query_result.csv\"\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}

	r := NewRunner(script)
	_, rows, err := r.Evaluate(factDir, ".decl foo(a:symbol)\n")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "alice" || rows[1][1] != "9" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestEvaluateSurfacesEngineError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	factDir := t.TempDir()
	script := filepath.Join(factDir, "fail.sh")
	body := "#!/bin/sh\necho 'boom' >&2\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}

	r := NewRunner(script)
	_, _, err := r.Evaluate(factDir, ".decl foo(a:symbol)\n")
	if err == nil {
		t.Fatal("expected an error from a failing evaluator")
	}
}

func TestEvaluateMissingResultFileYieldsEmptyRows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	factDir := t.TempDir()
	script := filepath.Join(factDir, "noop.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}

	r := NewRunner(script)
	_, rows, err := r.Evaluate(factDir, ".decl foo(a:symbol)\n")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected nil rows when result file absent, got %v", rows)
	}
}
