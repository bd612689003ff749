package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Testcase is the read-only testcase record consumed by the judge.
type Testcase struct {
	ID       int64  `json:"id"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Weight   *int   `json:"weight,omitempty"`
	IsSample bool   `json:"is_sample"`
}

// Manifest describes a test data directory. Input and output are file paths
// relative to the manifest.
type Manifest struct {
	Tests []ManifestTest `json:"tests"`
}

// ManifestTest describes one testcase of a manifest.
type ManifestTest struct {
	ID     int64  `json:"id"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Weight *int   `json:"weight,omitempty"`
	Sample bool   `json:"sample"`
}

// ManifestFileName is the manifest file inside a data directory.
const ManifestFileName = "manifest.json"

// LoadManifest parses dir/manifest.json.
func LoadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest failed: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest failed: %w", err)
	}
	return m, nil
}

// LoadTestcases reads the manifest in dir together with every referenced
// input and output file.
func LoadTestcases(dir string) ([]Testcase, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	tests := make([]Testcase, 0, len(m.Tests))
	for _, mt := range m.Tests {
		input, err := readRelative(dir, mt.Input)
		if err != nil {
			return nil, fmt.Errorf("testcase %d input: %w", mt.ID, err)
		}
		output, err := readRelative(dir, mt.Output)
		if err != nil {
			return nil, fmt.Errorf("testcase %d output: %w", mt.ID, err)
		}
		tests = append(tests, Testcase{
			ID:       mt.ID,
			Input:    input,
			Output:   output,
			Weight:   mt.Weight,
			IsSample: mt.Sample,
		})
	}
	return tests, nil
}

// readRelative reads rel under base. An empty rel reads as empty content.
func readRelative(base, rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	full, err := SafeJoin(base, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SafeJoin joins a relative path onto base and rejects escapes.
func SafeJoin(base, rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid relative path %q", rel)
	}
	full := filepath.Join(base, clean)
	if !strings.HasPrefix(full, filepath.Clean(base)+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", rel, base)
	}
	return full, nil
}
