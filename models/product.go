// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents one smartphone listed on a catalog page.
type Product struct {
	Title            string
	Price            decimal.Decimal
	ImageURL         string
	CapacityMB       int
	Colours          []string
	AvailabilityText string
	IsAvailable      bool
	ShippingText     string
	ShippingDate     *time.Time
}

type productJSON struct {
	Title            string      `json:"title"`
	Price            json.Number `json:"price"`
	ImageURL         string      `json:"imageUrl"`
	CapacityMB       int         `json:"capacityMb"`
	Colours          []string    `json:"colours"`
	AvailabilityText string      `json:"availabilityText"`
	IsAvailable      bool        `json:"isAvailable"`
	ShippingText     string      `json:"shippingText"`
	ShippingDate     *time.Time  `json:"shippingDate"`
}

// MarshalJSON emits the price as a JSON number and colours as an array even when empty.
func (p Product) MarshalJSON() ([]byte, error) {
	colours := p.Colours
	if colours == nil {
		colours = []string{}
	}
	return json.Marshal(productJSON{
		Title:            p.Title,
		Price:            json.Number(p.Price.String()),
		ImageURL:         p.ImageURL,
		CapacityMB:       p.CapacityMB,
		Colours:          colours,
		AvailabilityText: p.AvailabilityText,
		IsAvailable:      p.IsAvailable,
		ShippingText:     p.ShippingText,
		ShippingDate:     p.ShippingDate,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price := decimal.Zero
	if raw.Price != "" {
		parsed, err := decimal.NewFromString(raw.Price.String())
		if err != nil {
			return err
		}
		price = parsed
	}
	*p = Product{
		Title:            raw.Title,
		Price:            price,
		ImageURL:         raw.ImageURL,
		CapacityMB:       raw.CapacityMB,
		Colours:          raw.Colours,
		AvailabilityText: raw.AvailabilityText,
		IsAvailable:      raw.IsAvailable,
		ShippingText:     raw.ShippingText,
		ShippingDate:     raw.ShippingDate,
	}
	return nil
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	RunID          string
	Products       []*Product
	StartTime      time.Time
	EndTime        time.Time
	TotalCount     int
	ErrorCount     int
	FailedURLs     []string
	ErrorsByType   map[string]int
	RetryCount     int
	RequestCount   int
	PageCount      int
	DuplicateCount int
	SkippedPages   int
}
