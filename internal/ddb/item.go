package ddb

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperglass/receipt-search-backend/internal/models"
)

// receiptItem is the DynamoDB shape of a receipt. Money fields are
// stored as strings to keep arbitrary precision; timestamps are
// ISO8601.
type receiptItem struct {
	ReceiptID          string            `dynamodbav:"receipt_id"`
	UserID             string            `dynamodbav:"user_id"`
	ImageID            string            `dynamodbav:"image_id,omitempty"`
	MerchantName       string            `dynamodbav:"merchant_name,omitempty"`
	MerchantAddress    string            `dynamodbav:"merchant_address,omitempty"`
	PurchaseDate       string            `dynamodbav:"purchase_date,omitempty"`
	TotalAmount        string            `dynamodbav:"total_amount,omitempty"`
	Currency           string            `dynamodbav:"currency,omitempty"`
	ReceiptType        string            `dynamodbav:"receipt_type,omitempty"`
	RawText            string            `dynamodbav:"raw_text,omitempty"`
	ConfidenceScore    float64           `dynamodbav:"confidence_score"`
	ExtractionMetadata map[string]string `dynamodbav:"extraction_metadata,omitempty"`
	Items              []lineItem        `dynamodbav:"items,omitempty"`
	Tags               []string          `dynamodbav:"tags,omitempty"`
	Notes              string            `dynamodbav:"notes,omitempty"`
	Status             string            `dynamodbav:"status"`
	IsDeleted          bool              `dynamodbav:"is_deleted"`
	Version            int               `dynamodbav:"version"`
	CreatedAt          string            `dynamodbav:"created_at"`
	UpdatedAt          string            `dynamodbav:"updated_at"`
}

type lineItem struct {
	Name       string            `dynamodbav:"name"`
	Category   string            `dynamodbav:"category,omitempty"`
	Quantity   int               `dynamodbav:"quantity,omitempty"`
	UnitPrice  string            `dynamodbav:"unit_price,omitempty"`
	TotalPrice string            `dynamodbav:"total_price,omitempty"`
	Metadata   map[string]string `dynamodbav:"metadata,omitempty"`
}

func toItem(r models.Receipt) receiptItem {
	items := make([]lineItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, lineItem{
			Name:       it.Name,
			Category:   it.Category,
			Quantity:   it.Quantity,
			UnitPrice:  decimalString(it.UnitPrice),
			TotalPrice: decimalString(it.TotalPrice),
			Metadata:   it.Metadata,
		})
	}
	return receiptItem{
		ReceiptID:          r.ReceiptID,
		UserID:             r.UserID,
		ImageID:            r.ImageID,
		MerchantName:       r.MerchantName,
		MerchantAddress:    r.MerchantAddress,
		PurchaseDate:       timeString(r.PurchaseDate),
		TotalAmount:        decimalString(r.TotalAmount),
		Currency:           r.Currency,
		ReceiptType:        r.ReceiptType,
		RawText:            r.RawText,
		ConfidenceScore:    r.ConfidenceScore,
		ExtractionMetadata: r.ExtractionMetadata,
		Items:              items,
		Tags:               r.Tags,
		Notes:              r.Notes,
		Status:             string(r.Status),
		IsDeleted:          r.IsDeleted,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func fromItem(it receiptItem) models.Receipt {
	items := make([]models.ReceiptItem, 0, len(it.Items))
	for _, li := range it.Items {
		items = append(items, models.ReceiptItem{
			Name:       li.Name,
			Category:   li.Category,
			Quantity:   li.Quantity,
			UnitPrice:  parseDecimal(li.UnitPrice),
			TotalPrice: parseDecimal(li.TotalPrice),
			Metadata:   li.Metadata,
		})
	}
	return models.Receipt{
		ReceiptID:          it.ReceiptID,
		UserID:             it.UserID,
		ImageID:            it.ImageID,
		MerchantName:       it.MerchantName,
		MerchantAddress:    it.MerchantAddress,
		PurchaseDate:       parseTime(it.PurchaseDate),
		TotalAmount:        parseDecimal(it.TotalAmount),
		Currency:           it.Currency,
		ReceiptType:        it.ReceiptType,
		RawText:            it.RawText,
		ConfidenceScore:    it.ConfidenceScore,
		ExtractionMetadata: it.ExtractionMetadata,
		Items:              items,
		Tags:               it.Tags,
		Notes:              it.Notes,
		Status:             models.ProcessingStatus(it.Status),
		IsDeleted:          it.IsDeleted,
		Version:            it.Version,
		CreatedAt:          parseTimeOrZero(it.CreatedAt),
		UpdatedAt:          parseTimeOrZero(it.UpdatedAt),
	}
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func parseDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseTimeOrZero(s string) time.Time {
	if t := parseTime(s); t != nil {
		return *t
	}
	return time.Time{}
}
