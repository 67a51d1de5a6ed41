// Package search projects receipt records into a Meilisearch index and
// serves user-scoped full-text queries against it.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/shopspring/decimal"

	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/models"
)

// Document is the index shape of a receipt. Timestamps carry epoch
// companions so range filters and sorts work on numbers.
type Document struct {
	ReceiptID       string             `json:"receipt_id"`
	UserID          string             `json:"user_id"`
	ImageID         string             `json:"image_id,omitempty"`
	MerchantName    string             `json:"merchant_name,omitempty"`
	MerchantAddress string             `json:"merchant_address,omitempty"`
	PurchaseDate    string             `json:"purchase_date,omitempty"`
	PurchaseDateTS  int64              `json:"purchase_date_ts,omitempty"`
	TotalAmount     float64            `json:"total_amount,omitempty"`
	Currency        string             `json:"currency,omitempty"`
	ReceiptType     string             `json:"receipt_type,omitempty"`
	Items           []DocumentItem     `json:"items,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Status          string             `json:"status"`
	IsDeleted       bool               `json:"is_deleted"`
	CreatedAt       string             `json:"created_at"`
	CreatedAtTS     int64              `json:"created_at_ts"`
	SearchableText  string             `json:"searchable_text"`
	ThumbnailURL    string             `json:"thumbnail_url,omitempty"`
}

// DocumentItem is a line item as indexed.
type DocumentItem struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Filters narrows a search beyond the text query. Zero values are
// ignored.
type Filters struct {
	DateFrom    *time.Time
	DateTo      *time.Time
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
	Tags        []string
	ReceiptType string
	Currency    string
}

// Result is one page of search hits.
type Result struct {
	Hits      []Document
	Total     int64
	ElapsedMs int64
}

var filterableAttributes = []string{
	"user_id", "is_deleted", "tags", "receipt_type",
	"currency", "purchase_date_ts", "created_at_ts", "total_amount",
}

var sortableAttributes = []string{
	"purchase_date_ts", "created_at_ts", "total_amount",
}

// Projector keeps the search index in step with the record store.
// Indexing is best-effort; callers treat failures as degraded search,
// not failed writes.
type Projector struct {
	index meilisearch.IndexManager
	log   *slog.Logger
}

// NewProjector connects to the search host and binds the given index.
func NewProjector(host, apiKey, indexName string, log *slog.Logger) *Projector {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &Projector{index: client.Index(indexName), log: log}
}

// EnsureIndex applies the filterable and sortable attribute settings.
// Run once at startup or deploy.
func (p *Projector) EnsureIndex(ctx context.Context) error {
	if _, err := p.index.UpdateFilterableAttributesWithContext(ctx, &filterableAttributes); err != nil {
		return fmt.Errorf("update filterable attributes: %w", err)
	}
	if _, err := p.index.UpdateSortableAttributesWithContext(ctx, &sortableAttributes); err != nil {
		return fmt.Errorf("update sortable attributes: %w", err)
	}
	return nil
}

// Index upserts the document for rec. Soft-deleted records are removed
// instead.
func (p *Projector) Index(ctx context.Context, rec models.Receipt) error {
	if rec.IsDeleted {
		return p.Remove(ctx, rec.ReceiptID)
	}
	doc := toDocument(rec)
	if _, err := p.index.AddDocumentsWithContext(ctx, &[]Document{doc}, "receipt_id"); err != nil {
		return fmt.Errorf("index receipt %s: %w", rec.ReceiptID, err)
	}
	return nil
}

// Remove drops the document for receiptID from the index.
func (p *Projector) Remove(ctx context.Context, receiptID string) error {
	if _, err := p.index.DeleteDocumentWithContext(ctx, receiptID); err != nil {
		return fmt.Errorf("remove receipt %s: %w", receiptID, err)
	}
	return nil
}

// RemoveMany drops the documents for receiptIDs from the index.
func (p *Projector) RemoveMany(ctx context.Context, receiptIDs []string) error {
	if len(receiptIDs) == 0 {
		return nil
	}
	if _, err := p.index.DeleteDocumentsWithContext(ctx, receiptIDs); err != nil {
		return fmt.Errorf("remove %d receipts: %w", len(receiptIDs), err)
	}
	return nil
}

// Rebuild reindexes the given records in one batch. Used after bulk
// repairs.
func (p *Projector) Rebuild(ctx context.Context, recs []models.Receipt) error {
	docs := make([]Document, 0, len(recs))
	for _, rec := range recs {
		if !rec.IsDeleted {
			docs = append(docs, toDocument(rec))
		}
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := p.index.AddDocumentsWithContext(ctx, &docs, "receipt_id"); err != nil {
		return fmt.Errorf("rebuild %d documents: %w", len(docs), err)
	}
	return nil
}

// Search runs a user-scoped query. The user filter is injected here and
// cannot be overridden by the caller's filters.
func (p *Projector) Search(ctx context.Context, userID, query string, f Filters, limit, offset int64, sort []string) (*Result, error) {
	req := &meilisearch.SearchRequest{
		Limit:  limit,
		Offset: offset,
		Filter: buildFilter(userID, f),
	}
	if len(sort) > 0 {
		req.Sort = sort
	}
	resp, err := p.index.SearchWithContext(ctx, query, req)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("search: %w", err))
	}

	hits := make([]Document, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		raw, err := json.Marshal(h)
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			p.log.Warn("skipping undecodable search hit", "err", err)
			continue
		}
		hits = append(hits, doc)
	}
	return &Result{
		Hits:      hits,
		Total:     resp.EstimatedTotalHits,
		ElapsedMs: resp.ProcessingTimeMs,
	}, nil
}

// buildFilter renders the filter expression. The owner scope and the
// deleted exclusion always come first.
func buildFilter(userID string, f Filters) string {
	parts := []string{
		fmt.Sprintf("user_id = %q", userID),
		"is_deleted = false",
	}
	if f.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("purchase_date_ts >= %d", f.DateFrom.Unix()))
	}
	if f.DateTo != nil {
		parts = append(parts, fmt.Sprintf("purchase_date_ts <= %d", f.DateTo.Unix()))
	}
	if f.AmountMin != nil {
		parts = append(parts, fmt.Sprintf("total_amount >= %s", f.AmountMin.String()))
	}
	if f.AmountMax != nil {
		parts = append(parts, fmt.Sprintf("total_amount <= %s", f.AmountMax.String()))
	}
	if len(f.Tags) > 0 {
		quoted := make([]string, 0, len(f.Tags))
		for _, t := range f.Tags {
			quoted = append(quoted, fmt.Sprintf("%q", t))
		}
		parts = append(parts, fmt.Sprintf("tags IN [%s]", strings.Join(quoted, ", ")))
	}
	if f.ReceiptType != "" {
		parts = append(parts, fmt.Sprintf("receipt_type = %q", f.ReceiptType))
	}
	if f.Currency != "" {
		parts = append(parts, fmt.Sprintf("currency = %q", f.Currency))
	}
	return strings.Join(parts, " AND ")
}

func toDocument(rec models.Receipt) Document {
	doc := Document{
		ReceiptID:       rec.ReceiptID,
		UserID:          rec.UserID,
		ImageID:         rec.ImageID,
		MerchantName:    rec.MerchantName,
		MerchantAddress: rec.MerchantAddress,
		Currency:        rec.Currency,
		ReceiptType:     rec.ReceiptType,
		Tags:            rec.Tags,
		Notes:           rec.Notes,
		Status:          string(rec.Status),
		IsDeleted:       rec.IsDeleted,
		CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339),
		CreatedAtTS:     rec.CreatedAt.Unix(),
		SearchableText:  searchableText(rec),
	}
	if rec.PurchaseDate != nil {
		doc.PurchaseDate = rec.PurchaseDate.UTC().Format("2006-01-02")
		doc.PurchaseDateTS = rec.PurchaseDate.Unix()
	}
	if rec.TotalAmount != nil {
		doc.TotalAmount, _ = rec.TotalAmount.Float64()
	}
	for _, it := range rec.Items {
		doc.Items = append(doc.Items, DocumentItem{Name: it.Name, Category: it.Category})
	}
	return doc
}

// searchableText concatenates the record's text-bearing fields in a
// fixed order so the indexed text is stable across reprojections.
func searchableText(rec models.Receipt) string {
	parts := make([]string, 0, 8)
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(rec.MerchantName)
	add(rec.MerchantAddress)
	add(rec.RawText)
	add(rec.Notes)
	for _, it := range rec.Items {
		add(it.Name)
		add(it.Category)
	}
	for _, t := range rec.Tags {
		add(t)
	}
	return strings.Join(parts, " ")
}
