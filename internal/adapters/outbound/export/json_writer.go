package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openkraft/anvil/internal/domain"
)

// JSONWriter implements domain.ReportWriter, writing indented JSON.
type JSONWriter struct{}

func New() *JSONWriter {
	return &JSONWriter{}
}

// Write replaces path atomically: the report goes to a temp file in the
// same directory which is then renamed over the destination.
func (w *JSONWriter) Write(path string, report *domain.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".anvil-report-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
