package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
)

// CreateManual creates a receipt with no backing image. Manual entries
// do not charge quota.
func (s *Service) CreateManual(ctx context.Context, userID string, req api.CreateReceiptRequest) (*models.Receipt, error) {
	if _, err := s.Ledger.EnsureUser(ctx, userID, "", models.RoleFree); err != nil {
		return nil, err
	}

	now := s.clock()
	rec := models.Receipt{
		ReceiptID:       uuid.NewString(),
		UserID:          userID,
		MerchantName:    req.MerchantName,
		MerchantAddress: req.MerchantAddress,
		PurchaseDate:    req.PurchaseDate,
		TotalAmount:     req.TotalAmount,
		Currency:        req.Currency,
		ReceiptType:     req.ReceiptType,
		Items:           req.Items,
		Tags:            req.Tags,
		Notes:           req.Notes,
		Status:          models.StatusCompleted,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Records.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.indexBestEffort(ctx, rec, nil)
	return &rec, nil
}

// GetReceipt fetches one receipt. Non-owners see not-found unless they
// are admins.
func (s *Service) GetReceipt(ctx context.Context, callerID, receiptID string) (*models.Receipt, error) {
	rec, err := s.Records.Get(ctx, receiptID, false)
	if err != nil {
		return nil, err
	}
	if rec.UserID != callerID && !s.callerIsAdmin(ctx, callerID) {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

// ListReceipts returns one page of the caller's receipts, newest first.
func (s *Service) ListReceipts(ctx context.Context, userID string, limit, offset int) (*api.ListResponse, error) {
	recs, total, err := s.Records.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &api.ListResponse{Receipts: recs, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateReceipt applies a field patch under optimistic concurrency. A
// stale Version fails with apperr.ErrVersionConflict so the caller can
// re-read and retry.
func (s *Service) UpdateReceipt(ctx context.Context, callerID, receiptID string, req api.UpdateReceiptRequest) (*models.Receipt, error) {
	rec, err := s.Records.Get(ctx, receiptID, false)
	if err != nil {
		return nil, err
	}
	if rec.UserID != callerID && !s.callerIsAdmin(ctx, callerID) {
		return nil, apperr.ErrNotFound
	}

	applyPatch(rec, req)
	updated, err := s.Records.Update(ctx, *rec, req.Version)
	if err != nil {
		return nil, err
	}
	s.indexBestEffort(ctx, *updated, nil)
	return updated, nil
}

func applyPatch(rec *models.Receipt, req api.UpdateReceiptRequest) {
	if req.MerchantName != nil {
		rec.MerchantName = *req.MerchantName
	}
	if req.MerchantAddress != nil {
		rec.MerchantAddress = *req.MerchantAddress
	}
	if req.PurchaseDate != nil {
		rec.PurchaseDate = req.PurchaseDate
	}
	if req.TotalAmount != nil {
		rec.TotalAmount = req.TotalAmount
	}
	if req.Currency != nil {
		rec.Currency = *req.Currency
	}
	if req.ReceiptType != nil {
		rec.ReceiptType = *req.ReceiptType
	}
	if req.Items != nil {
		rec.Items = *req.Items
	}
	if req.Tags != nil {
		rec.Tags = *req.Tags
	}
	if req.Notes != nil {
		rec.Notes = *req.Notes
	}
}

// DeleteReceipt soft-deletes a receipt, removes it from the index,
// drops its image blobs, and releases the quota slot it occupied.
// Returns whether the record changed state.
//
// Only owner deletions release quota; an admin removing another user's
// receipt leaves that user's count to the reconciliation sweep.
func (s *Service) DeleteReceipt(ctx context.Context, callerID, receiptID string) (bool, error) {
	rec, err := s.Records.Get(ctx, receiptID, false)
	if err != nil {
		return false, err
	}
	owner := rec.UserID == callerID
	admin := s.callerIsAdmin(ctx, callerID)
	if !owner && !admin {
		return false, apperr.ErrUnauthorized
	}

	changed, err := s.Records.SoftDelete(ctx, receiptID)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if rerr := s.Search.Remove(ctx, receiptID); rerr != nil {
		s.Log.Warn("search removal failed", "receipt_id", receiptID, "err", rerr)
	}
	if rec.ImageID != "" {
		keys := s3io.ImageKeys(rec.UserID, rec.ImageID)
		if _, derr := s.Blobs.DeleteMany(ctx, keys.All()); derr != nil {
			s.Log.Warn("blob cleanup failed", "receipt_id", receiptID, "err", derr)
		}
	}

	if owner && !admin && rec.ImageID != "" {
		if rerr := s.Ledger.Release(ctx, rec.UserID, 1); rerr != nil {
			s.Log.Error("quota release failed", "user_id", rec.UserID, "err", rerr)
			s.enqueueRelease(ctx, rec.UserID, 1)
		}
	}
	return true, nil
}

// BulkDelete deletes several receipts, skipping ones that are missing
// or not visible to the caller. Returns the number that changed state.
func (s *Service) BulkDelete(ctx context.Context, callerID string, receiptIDs []string) (int, error) {
	deleted := 0
	for _, id := range receiptIDs {
		changed, err := s.DeleteReceipt(ctx, callerID, id)
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrUnauthorized) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if changed {
			deleted++
		}
	}
	return deleted, nil
}

// callerIsAdmin resolves the caller's role; unknown callers are not
// admins.
func (s *Service) callerIsAdmin(ctx context.Context, callerID string) bool {
	u, err := s.Ledger.GetUser(ctx, callerID)
	if err != nil {
		return false
	}
	return u.IsAdmin()
}
