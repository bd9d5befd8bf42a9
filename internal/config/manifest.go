package config

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Manifest directions
const (
	DirectionGet = "get"
	DirectionPut = "put"
)

// ManifestEntry is one transfer in a batch manifest.
type ManifestEntry struct {
	Direction string `json:"direction"`
	Remote    string `json:"remote"`
	Local     string `json:"local"`

	// Size is the declared remote size for gets; zero means unknown.
	Size int64 `json:"size,omitempty"`

	Name string `json:"name,omitempty"`

	// Host overrides the command line destination host (user@host allowed).
	Host string `json:"host,omitempty"`
}

// Validate checks the fields every entry needs.
func (e ManifestEntry) Validate() error {
	switch e.Direction {
	case DirectionGet, DirectionPut:
	default:
		return fmt.Errorf("direction must be get or put, got %q", e.Direction)
	}
	if e.Remote == "" {
		return fmt.Errorf("remote path is required")
	}
	if e.Local == "" {
		return fmt.Errorf("local path is required")
	}
	if e.Size < 0 {
		return fmt.Errorf("size must not be negative")
	}
	return nil
}

// LoadManifest loads a batch manifest, picking the format from the
// extension: .json is JSON, anything else is CSV.
func LoadManifest(path string) ([]ManifestEntry, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadManifestJSON(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	return ParseManifestCSV(file)
}

// ParseManifestCSV reads a CSV manifest with a header row. Required columns
// are direction, remote and local; size, name and host are optional.
// Lines starting with # are comments.
func ParseManifestCSV(r io.Reader) ([]ManifestEntry, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("manifest CSV must have at least a header row and one data row")
	}

	// Parse header
	headerMap := make(map[string]int)
	for i, col := range records[0] {
		headerMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"direction", "remote", "local"} {
		if _, ok := headerMap[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	var entries []ManifestEntry
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue // Skip empty rows
		}

		getCol := func(name string) string {
			if idx, ok := headerMap[name]; ok && idx < len(record) {
				return strings.TrimSpace(record[idx])
			}
			return ""
		}

		entry := ManifestEntry{
			Direction: strings.ToLower(getCol("direction")),
			Remote:    getCol("remote"),
			Local:     getCol("local"),
			Name:      getCol("name"),
			Host:      getCol("host"),
		}
		if size := getCol("size"); size != "" {
			v, err := strconv.ParseInt(size, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid size: %s", i+1, size)
			}
			entry.Size = v
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest contains no transfers")
	}
	return entries, nil
}

// LoadManifestJSON loads a JSON manifest: an array of entries or a single
// entry object.
func LoadManifestJSON(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest JSON: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		var single ManifestEntry
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse manifest JSON (expected array or single object): %w", err)
		}
		entries = []ManifestEntry{single}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest JSON contains empty array")
	}

	for i := range entries {
		entries[i].Direction = strings.ToLower(strings.TrimSpace(entries[i].Direction))
		if err := entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	return entries, nil
}

// SaveManifestJSON writes entries as an indented JSON array.
func SaveManifestJSON(path string, entries []ManifestEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
