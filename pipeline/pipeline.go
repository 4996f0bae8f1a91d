package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-smartphones/models"
	"github.com/aluiziolira/go-scrape-smartphones/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Pipeline merges per-page results into one ordered, title-unique sequence
// and hands it to the writer once. It is the only writer of that sequence.
type Pipeline struct {
	writer OutputWriter

	mu       sync.Mutex
	products []*models.Product
	seen     map[string]struct{}
	metrics  metrics
	closed   bool
	err      error
}

// NewPipeline builds an empty pipeline writing to writer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:  writer,
		seen:    make(map[string]struct{}),
		metrics: newMetrics(),
	}
}

// Process appends the products whose title has not been seen yet and
// returns how many were accepted. Earlier submissions always win.
func (p *Pipeline) Process(products ...*models.Product) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return 0, p.err
	}
	if p.closed {
		return 0, ErrPipelineClosed
	}

	accepted := 0
	for _, product := range products {
		if err := parser.ValidateProduct(product); err != nil {
			p.metrics.addValidation("invalid_record")
			continue
		}
		if _, ok := p.seen[product.Title]; ok {
			p.metrics.addValidation("duplicate_title")
			continue
		}
		p.seen[product.Title] = struct{}{}
		p.products = append(p.products, product)
		p.metrics.processed++
		accepted++
	}
	return accepted, nil
}

// Products returns a snapshot of the merged sequence.
func (p *Pipeline) Products() []*models.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Product, len(p.products))
	copy(out, p.products)
	return out
}

// Close writes the merged sequence and prevents more submissions. Calling it
// again returns the first result.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.err
	}
	p.closed = true

	if p.writer == nil {
		return nil
	}
	if err := p.writer.Write(p.products); err != nil {
		p.err = fmt.Errorf("write products: %w", err)
	}
	return p.err
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics.snapshot()
}

type metrics struct {
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addValidation(kind string) {
	m.validation[kind]++
}

func (m *metrics) snapshot() map[string]interface{} {
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"validation_errors":  copyValidation,
	}
}
