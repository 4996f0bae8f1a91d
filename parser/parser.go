// Package parser turns catalog pages into product records.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/aluiziolira/go-scrape-smartphones/models"
)

var (
	availabilityLabel = regexp.MustCompile(`(?i)^\s*availability:`)
	ordinalSuffix     = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	dayMonth          = regexp.MustCompile(`(?i)^\d{1,2}\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*$`)
	monthDay          = regexp.MustCompile(`(?i)^(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+\d{1,2}$`)
)

// ValidateProduct ensures the extractor captured the dedup key.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product missing title")
	}
	return nil
}

// CapacityToMB converts "128GB", "128 GB" or "512MB" to megabytes.
// Text without a unit is read as gigabytes; text without digits yields 0.
func CapacityToMB(text string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)

	value, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	if strings.Contains(strings.ToLower(text), "mb") {
		return value
	}
	return value * 1024
}

// CleanURL removes leading full stops so relative paths can be appended to a base URL.
func CleanURL(text string) string {
	return strings.TrimLeft(strings.TrimSpace(text), ".")
}

// TrimAvailabilityLabel drops a leading "Availability:" label.
func TrimAvailabilityLabel(text string) string {
	return strings.TrimSpace(availabilityLabel.ReplaceAllString(text, ""))
}

// IsAvailable reports false for "Out of Stock" style texts.
func IsAvailable(text string) bool {
	return !strings.Contains(strings.ToLower(text), "out of")
}

// ParsePrice strips the currency symbol and thousands separators. Unparseable
// prices are zero.
func ParsePrice(text string) decimal.Decimal {
	cleaned := strings.TrimLeftFunc(strings.TrimSpace(text), func(r rune) bool {
		return !unicode.IsDigit(r) && r != '-' && r != '.'
	})
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, ",", ""))

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// ExtractDate finds a date embedded in free text such as
// "Delivery from 24th May 2023" by dropping leading characters until the
// remainder parses. Only remainders starting at a word boundary are tried,
// so "ay 2023" is never attempted for "May 2023". When no absolute date
// parses, the relative words "today", "tomorrow" and weekday names resolve
// against the current day. It returns nil when nothing parses.
func ExtractDate(text string) *time.Time {
	return extractDateAt(text, time.Now())
}

type dateKey struct {
	day  string
	text string
}

type dateResult struct {
	t  time.Time
	ok bool
}

// Catalog pages repeat the same few shipping texts on every card.
var dateMemo, _ = lru.New[dateKey, dateResult](256)

func extractDateAt(text string, now time.Time) *time.Time {
	key := dateKey{day: now.Format("2006-01-02"), text: text}
	if res, ok := dateMemo.Get(key); ok {
		return res.pointer()
	}
	res := resolveDate(text, now)
	dateMemo.Add(key, res)
	return res.pointer()
}

func (r dateResult) pointer() *time.Time {
	if !r.ok {
		return nil
	}
	t := r.t
	return &t
}

func resolveDate(text string, now time.Time) dateResult {
	text = ordinalSuffix.ReplaceAllString(strings.TrimSpace(text), "$1")

	for i := 0; len(text)-i > 1; i++ {
		if !utf8.RuneStart(text[i]) {
			continue
		}
		// mid-word suffixes never start a date
		if i > 0 && isWordByte(text[i-1]) && isWordByte(text[i]) {
			continue
		}
		candidate := strings.TrimSpace(text[i:])
		if len(candidate) <= 1 {
			break
		}
		if parsed, ok := parseDate(candidate, now); ok {
			return dateResult{t: parsed, ok: true}
		}
	}

	if parsed, ok := relativeDate(text, now); ok {
		return dateResult{t: parsed, ok: true}
	}
	return dateResult{}
}

// relativeDate resolves the first relative day word in text. A weekday names
// its next occurrence, today included.
func relativeDate(text string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, word := range words {
		switch word {
		case "today":
			return today, true
		case "tomorrow":
			return today.AddDate(0, 0, 1), true
		}
		if weekday, ok := weekdays[word]; ok {
			ahead := (int(weekday) - int(today.Weekday()) + 7) % 7
			return today.AddDate(0, 0, ahead), true
		}
	}
	return time.Time{}, false
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseDate(candidate string, now time.Time) (t time.Time, ok bool) {
	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()

	switch {
	case dayMonth.MatchString(candidate):
		candidate = candidate + " " + strconv.Itoa(now.Year())
	case monthDay.MatchString(candidate):
		candidate = candidate + ", " + strconv.Itoa(now.Year())
	}

	parsed, err := dateparse.ParseIn(candidate, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
