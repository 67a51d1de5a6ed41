// Package models defines the data models used in the application.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessingStatus represents the lifecycle state of a receipt.
type ProcessingStatus string

// Possible values for ProcessingStatus
const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
)

// Terminal reports whether the status is COMPLETED or FAILED.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// UserRole determines a user's default image quota and privileges.
type UserRole string

// Possible values for UserRole
const (
	RoleFree  UserRole = "free"
	RolePaid  UserRole = "paid"
	RoleAdmin UserRole = "admin"
)

// ExtractionFailedText is stored as raw_text when the document analyzer
// fails for an image.
const ExtractionFailedText = "N/A"

// ReceiptItem is a single line item on a receipt.
type ReceiptItem struct {
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	Quantity   int               `json:"quantity,omitempty"`
	UnitPrice  *decimal.Decimal  `json:"unit_price,omitempty"`
	TotalPrice *decimal.Decimal  `json:"total_price,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Receipt is the normalized receipt record. user_id is immutable after
// creation; version increments on every successful mutation.
type Receipt struct {
	ReceiptID          string            `json:"receipt_id"`
	UserID             string            `json:"user_id"`
	ImageID            string            `json:"image_id,omitempty"`
	MerchantName       string            `json:"merchant_name,omitempty"`
	MerchantAddress    string            `json:"merchant_address,omitempty"`
	PurchaseDate       *time.Time        `json:"purchase_date,omitempty"`
	TotalAmount        *decimal.Decimal  `json:"total_amount,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	ReceiptType        string            `json:"receipt_type,omitempty"`
	RawText            string            `json:"raw_text,omitempty"`
	ConfidenceScore    float64           `json:"confidence_score"`
	ExtractionMetadata map[string]string `json:"extraction_metadata,omitempty"`
	Items              []ReceiptItem     `json:"items,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	Status             ProcessingStatus  `json:"status"`
	IsDeleted          bool              `json:"is_deleted"`
	Version            int               `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// User holds the quota ledger state for one user. image_count is
// mutated only through the ledger's reserve/release operations.
type User struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email,omitempty"`
	Role         UserRole   `json:"role"`
	ImageCount   int        `json:"image_count"`
	ImageQuota   int        `json:"image_quota"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

// CanUpload reports whether n more images fit within the user's quota.
func (u User) CanUpload(n int) bool {
	return u.ImageCount+n <= u.ImageQuota
}

// AvailableQuota returns the number of images the user can still upload.
func (u User) AvailableQuota() int {
	if r := u.ImageQuota - u.ImageCount; r > 0 {
		return r
	}
	return 0
}

// IsAdmin reports whether the user has admin privileges.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
