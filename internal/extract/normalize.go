// Package extract normalizes raw document-analysis output into receipt
// fields. Normalization is pure and deterministic: the same analysis
// always yields the same result.
package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperglass/receipt-search-backend/internal/models"
)

// UnknownItemName is substituted for line items whose name could not be
// extracted.
const UnknownItemName = "Unknown Item"

// TextBlock is one detected text line with the analyzer's confidence
// for it, on a 0-100 scale.
type TextBlock struct {
	Text       string
	Confidence float64
}

// Analysis is the raw output of document analysis for one image.
// SummaryFields and LineItems carry snake_case keys as produced by the
// analyzer adapter.
type Analysis struct {
	SummaryFields map[string]string
	LineItems     []map[string]string
	Blocks        []TextBlock
}

// Normalized holds the receipt fields derived from an Analysis.
type Normalized struct {
	MerchantName    string
	MerchantAddress string
	PurchaseDate    *time.Time
	TotalAmount     *decimal.Decimal
	Currency        string
	Items           []models.ReceiptItem
	RawText         string
	ConfidenceScore float64
}

// Field key aliases in priority order. Analyzers label the same field
// differently across document layouts.
var (
	merchantKeys = []string{"vendor_name", "merchant_name", "name"}
	addressKeys  = []string{"vendor_address", "merchant_address", "address", "address_block"}
	totalKeys    = []string{"total", "total_amount", "amount_due", "amount_paid"}
	dateKeys     = []string{"invoice_receipt_date", "invoice_date", "purchase_date", "date", "order_date"}
	currencyKeys = []string{"currency", "currency_code"}

	itemNameKeys     = []string{"item", "description", "product_code"}
	itemQuantityKeys = []string{"quantity"}
	itemPriceKeys    = []string{"price", "total_price", "amount"}
	itemUnitKeys     = []string{"unit_price"}
)

// dateLayouts are tried in order when parsing a purchase date.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01/02/06",
	"02/01/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2006/01/02",
	"01-02-2006",
	time.RFC3339,
}

// Normalize derives receipt fields from a raw analysis. Missing fields
// stay zero-valued; malformed amounts and dates are dropped rather than
// guessed at.
func Normalize(a Analysis) Normalized {
	n := Normalized{
		MerchantName:    firstField(a.SummaryFields, merchantKeys),
		MerchantAddress: firstField(a.SummaryFields, addressKeys),
		Currency:        strings.ToUpper(firstField(a.SummaryFields, currencyKeys)),
	}

	if raw := firstField(a.SummaryFields, totalKeys); raw != "" {
		n.TotalAmount = ParseAmount(raw)
	}
	if raw := firstField(a.SummaryFields, dateKeys); raw != "" {
		n.PurchaseDate = ParseDate(raw)
	}

	for _, li := range a.LineItems {
		n.Items = append(n.Items, normalizeItem(li))
	}

	n.RawText = joinBlocks(a.Blocks)
	n.ConfidenceScore = meanConfidence(a.Blocks)
	return n
}

func normalizeItem(fields map[string]string) models.ReceiptItem {
	item := models.ReceiptItem{
		Name:     firstField(fields, itemNameKeys),
		Quantity: 1,
	}
	if item.Name == "" {
		item.Name = UnknownItemName
	}
	if raw := firstField(fields, itemQuantityKeys); raw != "" {
		if q := parseQuantity(raw); q > 0 {
			item.Quantity = q
		}
	}
	item.TotalPrice = ParseAmount(firstField(fields, itemPriceKeys))
	item.UnitPrice = ParseAmount(firstField(fields, itemUnitKeys))
	return item
}

// firstField returns the first non-empty value among keys, trimmed.
func firstField(fields map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

// ParseAmount parses a money string, tolerating currency symbols,
// thousands separators, and surrounding text. Returns nil when no
// amount can be recovered.
func ParseAmount(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',':
			// thousands separator
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	return &d
}

// ParseDate parses a purchase date against the known layouts. Returns
// nil when none match.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parseQuantity(raw string) int {
	raw = strings.TrimSpace(raw)
	// Quantities sometimes arrive as "2.0".
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 1_000_000 {
			return 0
		}
	}
	return n
}

func joinBlocks(blocks []TextBlock) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			lines = append(lines, b.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// meanConfidence averages the analyzer's 0-100 block confidences onto a
// 0-1 scale. No blocks means zero confidence.
func meanConfidence(blocks []TextBlock) float64 {
	if len(blocks) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range blocks {
		sum += b.Confidence
	}
	return sum / float64(len(blocks)) / 100
}
