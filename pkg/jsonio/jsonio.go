// Package jsonio provides JSON serialization helpers for pipeline reports
package jsonio

import (
	"fmt"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"
)

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// WriteFile marshals v with four-space indentation and writes it to path,
// creating parent directories as needed. Reports are overwritten each run.
func WriteFile(path string, v interface{}) error {
	data, err := gojson.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a JSON file into v.
func ReadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return err
	}
	if err := gojson.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
