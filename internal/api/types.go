// Package api defines the request and response shapes of the HTTP
// surface.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperglass/receipt-search-backend/internal/models"
)

// UploadRequest asks for a presigned upload slot.
type UploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// UploadResponse carries the presigned PUT URL and the headers the
// client must send with it.
type UploadResponse struct {
	ImageID   string            `json:"image_id"`
	UploadURL string            `json:"upload_url"`
	ExpiresIn int               `json:"expires_in"`
	Headers   map[string]string `json:"headers"`
}

// CreateReceiptRequest creates a manual receipt with no backing image.
type CreateReceiptRequest struct {
	MerchantName    string               `json:"merchant_name"`
	MerchantAddress string               `json:"merchant_address,omitempty"`
	PurchaseDate    *time.Time           `json:"purchase_date,omitempty"`
	TotalAmount     *decimal.Decimal     `json:"total_amount,omitempty"`
	Currency        string               `json:"currency,omitempty"`
	ReceiptType     string               `json:"receipt_type,omitempty"`
	Items           []models.ReceiptItem `json:"items,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	Notes           string               `json:"notes,omitempty"`
}

// UpdateReceiptRequest patches user-editable fields. Nil pointers leave
// the stored value unchanged; Version must match the stored record.
type UpdateReceiptRequest struct {
	MerchantName    *string               `json:"merchant_name,omitempty"`
	MerchantAddress *string               `json:"merchant_address,omitempty"`
	PurchaseDate    *time.Time            `json:"purchase_date,omitempty"`
	TotalAmount     *decimal.Decimal      `json:"total_amount,omitempty"`
	Currency        *string               `json:"currency,omitempty"`
	ReceiptType     *string               `json:"receipt_type,omitempty"`
	Items           *[]models.ReceiptItem `json:"items,omitempty"`
	Tags            *[]string             `json:"tags,omitempty"`
	Notes           *string               `json:"notes,omitempty"`
	Version         int                   `json:"version"`
}

// ListResponse is one page of a user's receipts.
type ListResponse struct {
	Receipts []models.Receipt `json:"receipts"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// StatusResponse reports processing progress for an uploaded image.
type StatusResponse struct {
	ImageID      string          `json:"image_id"`
	Status       string          `json:"status"`
	Stale        bool            `json:"stale,omitempty"`
	Receipt      *models.Receipt `json:"receipt,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// SearchRequest is a full-text query over the caller's receipts.
type SearchRequest struct {
	Query       string           `json:"query"`
	DateFrom    *time.Time       `json:"date_from,omitempty"`
	DateTo      *time.Time       `json:"date_to,omitempty"`
	AmountMin   *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax   *decimal.Decimal `json:"amount_max,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	ReceiptType string           `json:"receipt_type,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Sort        []string         `json:"sort,omitempty"`
	Limit       int64            `json:"limit,omitempty"`
	Offset      int64            `json:"offset,omitempty"`
}

// SearchHit is one search result with a short-lived thumbnail URL when
// the receipt has a backing image.
type SearchHit struct {
	ReceiptID    string           `json:"receipt_id"`
	MerchantName string           `json:"merchant_name,omitempty"`
	PurchaseDate string           `json:"purchase_date,omitempty"`
	TotalAmount  *decimal.Decimal `json:"total_amount,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	ReceiptType  string           `json:"receipt_type,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
}

// SearchResponse is one page of search hits.
type SearchResponse struct {
	Hits      []SearchHit `json:"hits"`
	Total     int64       `json:"total"`
	Limit     int64       `json:"limit"`
	Offset    int64       `json:"offset"`
	ElapsedMs int64       `json:"elapsed_ms"`
}

// BulkDeleteRequest deletes several receipts at once.
type BulkDeleteRequest struct {
	ReceiptIDs []string `json:"receipt_ids"`
}

// BulkDeleteResponse reports how many records changed state.
type BulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// QuotaResponse reports the caller's quota standing.
type QuotaResponse struct {
	ImageCount int    `json:"image_count"`
	ImageQuota int    `json:"image_quota"`
	Available  int    `json:"available"`
	Role       string `json:"role"`
}
