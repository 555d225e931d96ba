package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetFlags restores every command flag to its default.
func resetFlags() {
	verbose, quiet, jsonOut, logJSON, logDir = false, false, false, false, ""
	genRegions, genPreset = nil, ""
	statsFloor = ""
	simAlloc, simFree, simFloor = nil, false, ""
}

// writeDump generates a dump from a preset into a temp dir and returns its path.
func writeDump(t *testing.T, preset string) string {
	t.Helper()
	resetFlags()
	path := filepath.Join(t.TempDir(), preset+".mmap")
	genPreset = preset
	if _, err := captureOutput(t, func() error { return runGen([]string{path}) }); err != nil {
		t.Fatalf("gen %s: %v", preset, err)
	}
	resetFlags()
	return path
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}

// decodeJSON unmarshals output into v, failing the test on invalid JSON.
func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
