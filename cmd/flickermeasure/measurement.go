package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/verilab/flickerlab/export"
)

// Measurement is one loaded export with its origin path
type Measurement struct {
	Path string
	Doc  export.Document
}

// loadMeasurement reads and decodes one exported measurement document
func loadMeasurement(path string) (Measurement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Measurement{}, fmt.Errorf("read %s: %w", path, err)
	}
	var doc export.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Measurement{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return Measurement{Path: path, Doc: doc}, nil
}

// discoverMeasurements expands files and directories into a deduplicated,
// sorted list of measurement JSON paths
func discoverMeasurements(candidates []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	for _, item := range candidates {
		info, err := os.Stat(item)
		if err != nil {
			return nil, fmt.Errorf("invalid input %s: %w", item, err)
		}

		if !info.IsDir() {
			if strings.EqualFold(filepath.Ext(item), ".json") {
				add(item)
			}
			continue
		}

		entries, err := os.ReadDir(item)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", item, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				add(filepath.Join(item, e.Name()))
			}
		}
	}

	sort.Strings(out)
	return out, nil
}
