package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a report from path.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read audit report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse audit report %s: %w", path, err)
	}
	return r, nil
}

// Save validates r and writes it as indented JSON.
func Save(path string, r Report) error {
	if err := Validate(r); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// SaveMarkdown writes the markdown rendering.
func SaveMarkdown(path, md string) error {
	return writeFile(path, []byte(md))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
