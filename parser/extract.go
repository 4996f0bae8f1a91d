package parser

import (
	"strings"

	"github.com/aluiziolira/go-scrape-smartphones/models"
)

// ExtractProducts returns the products of one listing page in card order.
// Cards repeating an earlier title on the same page are dropped, and cards
// missing sub-elements produce partial records rather than errors.
func ExtractProducts(doc Node, baseURL string, layout Layout) []*models.Product {
	if doc == nil {
		return nil
	}

	var products []*models.Product
	seen := make(map[string]struct{})

	for _, card := range doc.Find(layout.Card) {
		title := first(card.Find(layout.Title))
		name := textOf(title)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		products = append(products, extractProduct(card, title, name, baseURL, layout))
	}
	return products
}

func extractProduct(card, title Node, name, baseURL string, layout Layout) *models.Product {
	product := &models.Product{
		Title:      name,
		CapacityMB: CapacityToMB(textOf(first(title.Siblings(layout.Capacity)))),
		Price:      ParsePrice(textOf(first(card.Find(layout.Price)))),
		Colours:    []string{},
	}

	product.ImageURL = imageURL(baseURL, attrOf(first(card.Find(layout.Image)), "src"))

	for _, swatch := range card.Find(layout.ColourSwatch) {
		if colour := attrOf(swatch, layout.ColourAttr); colour != "" {
			product.Colours = append(product.Colours, colour)
		}
	}

	// Availability and shipping lines share markup; some cards omit one of them.
	for _, detail := range card.Find(layout.Details) {
		text := textOf(detail)
		if text == "" {
			continue
		}
		if strings.Contains(strings.ToLower(text), "availability") {
			product.AvailabilityText = TrimAvailabilityLabel(text)
			product.IsAvailable = IsAvailable(product.AvailabilityText)
			continue
		}
		product.ShippingText = text
		product.ShippingDate = ExtractDate(text)
	}

	return product
}

func imageURL(baseURL, src string) string {
	switch {
	case src == "":
		return ""
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return src
	}
	return strings.TrimRight(baseURL, "/") + ensureLeadingSlash(CleanURL(src))
}

func ensureLeadingSlash(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
