package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-smartphones/models"
)

// CSVWriter writes records to CSV.
type CSVWriter struct {
	filename string
	products []*models.Product
	closed   bool
	mu       sync.Mutex
}

// NewCSVWriter prepares a CSV writer. The file is only replaced on Close.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &CSVWriter{filename: filename}, nil
}

// Write buffers products for the CSV output.
func (cw *CSVWriter) Write(products []*models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return ErrPipelineClosed
	}
	cw.products = append(cw.products, products...)
	return nil
}

// Close writes the header and every buffered row, replacing the file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return nil
	}
	cw.closed = true

	return writeFileAtomic(cw.filename, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		header := []string{"title", "price", "image_url", "capacity_mb", "colours", "availability_text", "is_available", "shipping_text", "shipping_date"}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, product := range cw.products {
			shippingDate := ""
			if product.ShippingDate != nil {
				shippingDate = product.ShippingDate.Format(time.RFC3339)
			}
			record := []string{
				product.Title,
				product.Price.String(),
				product.ImageURL,
				strconv.Itoa(product.CapacityMB),
				strings.Join(product.Colours, "|"),
				product.AvailabilityText,
				strconv.FormatBool(product.IsAvailable),
				product.ShippingText,
				shippingDate,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// Validate ensures the CSV file was written.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.filename, "csv")
}

// JSONWriter writes every product as one JSON array.
type JSONWriter struct {
	filename string
	products []*models.Product
	closed   bool
	mu       sync.Mutex
}

// NewJSONWriter prepares a JSON writer. The file is only replaced on Close.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &JSONWriter{filename: filename}, nil
}

// Write buffers products for the JSON array.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrPipelineClosed
	}
	jw.products = append(jw.products, products...)
	return nil
}

// Close encodes the buffered products and replaces the output file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return nil
	}
	jw.closed = true

	products := jw.products
	if products == nil {
		products = []*models.Product{}
	}
	return writeFileAtomic(jw.filename, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(products); err != nil {
			return fmt.Errorf("encode json products: %w", err)
		}
		return nil
	})
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.filename, "json")
}

func writeFileAtomic(filename string, write func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("replace %q: %w", filename, err)
	}
	return nil
}

func validateFile(filename, kind string) error {
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
