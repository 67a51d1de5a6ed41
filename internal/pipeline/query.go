package pipeline

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
	"github.com/paperglass/receipt-search-backend/internal/search"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchReceipts runs a full-text query scoped to the caller's
// receipts. Thumbnail URLs are presigned per hit and dropped on
// failure.
func (s *Service) SearchReceipts(ctx context.Context, userID string, req api.SearchRequest) (*api.SearchResponse, error) {
	if err := s.Ledger.Touch(ctx, userID); err != nil {
		s.Log.Warn("activity touch failed", "user_id", userID, "err", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	filters := search.Filters{
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		AmountMin:   req.AmountMin,
		AmountMax:   req.AmountMax,
		Tags:        req.Tags,
		ReceiptType: req.ReceiptType,
		Currency:    req.Currency,
	}
	res, err := s.Search.Search(ctx, userID, req.Query, filters, limit, offset, req.Sort)
	if err != nil {
		return nil, err
	}

	hits := make([]api.SearchHit, 0, len(res.Hits))
	for _, doc := range res.Hits {
		hit := api.SearchHit{
			ReceiptID:    doc.ReceiptID,
			MerchantName: doc.MerchantName,
			PurchaseDate: doc.PurchaseDate,
			Currency:     doc.Currency,
			ReceiptType:  doc.ReceiptType,
			Tags:         doc.Tags,
			Notes:        doc.Notes,
		}
		if doc.TotalAmount != 0 {
			amt := decimal.NewFromFloat(doc.TotalAmount)
			hit.TotalAmount = &amt
		}
		if doc.ImageID != "" {
			keys := s3io.ImageKeys(doc.UserID, doc.ImageID)
			url, perr := s.Blobs.PresignDownload(ctx, keys.Thumbnail, s.Cfg.PresignTTL)
			if perr != nil {
				s.Log.Warn("thumbnail presign failed", "receipt_id", doc.ReceiptID, "err", perr)
			} else {
				hit.ThumbnailURL = url
			}
		}
		hits = append(hits, hit)
	}

	return &api.SearchResponse{
		Hits:      hits,
		Total:     res.Total,
		Limit:     limit,
		Offset:    offset,
		ElapsedMs: res.ElapsedMs,
	}, nil
}
