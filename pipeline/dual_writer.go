package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-smartphones/models"
)

// DualWriter writes the same products as <stem>.csv and <stem>.json.
type DualWriter struct {
	csv  *CSVWriter
	json *JSONWriter
}

// OutputStem drops the extension of filename, so "out/output.json" and
// "out/output.csv" both name the stem "out/output".
func OutputStem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// NewDualWriter prepares CSV and JSON writers sharing stem.
func NewDualWriter(stem string) (*DualWriter, error) {
	if stem == "" {
		return nil, fmt.Errorf("dual output needs a file name")
	}
	csvWriter, err := NewCSVWriter(stem + ".csv")
	if err != nil {
		return nil, fmt.Errorf("csv output: %w", err)
	}
	jsonWriter, err := NewJSONWriter(stem + ".json")
	if err != nil {
		return nil, fmt.Errorf("json output: %w", err)
	}
	return &DualWriter{csv: csvWriter, json: jsonWriter}, nil
}

// Files lists the paths written on Close.
func (dw *DualWriter) Files() []string {
	return []string{dw.csv.filename, dw.json.filename}
}

func (dw *DualWriter) Write(products []*models.Product) error {
	return dw.each(func(w OutputWriter) error { return w.Write(products) })
}

// Close writes both files. A failure in one does not stop the other.
func (dw *DualWriter) Close() error {
	return dw.each(OutputWriter.Close)
}

func (dw *DualWriter) Validate() error {
	return dw.each(OutputWriter.Validate)
}

func (dw *DualWriter) each(op func(OutputWriter) error) error {
	var errs []error
	if err := op(dw.csv); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", dw.csv.filename, err))
	}
	if err := op(dw.json); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", dw.json.filename, err))
	}
	return errors.Join(errs...)
}
