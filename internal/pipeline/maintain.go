package pipeline

import (
	"context"

	"github.com/paperglass/receipt-search-backend/internal/s3io"
)

// CleanupStats summarizes one maintenance sweep.
type CleanupStats struct {
	UsersReconciled int `json:"users_reconciled"`
	UsersCleaned    int `json:"users_cleaned"`
	ReceiptsPurged  int `json:"receipts_purged"`
	BlobsDeleted    int `json:"blobs_deleted"`
}

// ReconcileQuota recomputes one user's image count from the record
// store and overwrites the ledger with it.
func (s *Service) ReconcileQuota(ctx context.Context, userID string) error {
	count, err := s.Records.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.Ledger.Reconcile(ctx, userID, count)
}

// ReindexUser reprojects all of one user's receipts, repairing index
// drift left by dropped best-effort projections.
func (s *Service) ReindexUser(ctx context.Context, userID string) error {
	recs, _, err := s.Records.ListByUser(ctx, userID, 0, 0)
	if err != nil {
		return err
	}
	return s.Search.Rebuild(ctx, recs)
}

// ReconcileAll repairs quota and index drift for every user. Per-user
// failures are logged and skipped so one bad row cannot stall the
// sweep.
func (s *Service) ReconcileAll(ctx context.Context) (*CleanupStats, error) {
	users, err := s.Ledger.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	stats := &CleanupStats{}
	for _, u := range users {
		if err := s.ReconcileQuota(ctx, u.UserID); err != nil {
			s.Log.Error("quota reconcile failed", "user_id", u.UserID, "err", err)
			continue
		}
		if err := s.ReindexUser(ctx, u.UserID); err != nil {
			s.Log.Warn("reindex failed", "user_id", u.UserID, "err", err)
		}
		stats.UsersReconciled++
	}
	return stats, nil
}

// CleanupInactive purges the data of free-tier users who have been
// inactive past the configured window: records are hard-deleted, blobs
// and index documents dropped, and the quota reset to zero.
func (s *Service) CleanupInactive(ctx context.Context) (*CleanupStats, error) {
	cutoff := s.clock().Add(-s.Cfg.InactiveFreeAfter)
	users, err := s.Ledger.ListInactiveFree(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	stats := &CleanupStats{}
	for _, u := range users {
		recs, _, err := s.Records.ListByUser(ctx, u.UserID, 0, 0)
		if err != nil {
			s.Log.Error("cleanup listing failed", "user_id", u.UserID, "err", err)
			continue
		}

		var (
			keys []string
			ids  []string
		)
		for _, rec := range recs {
			ids = append(ids, rec.ReceiptID)
			if rec.ImageID != "" {
				keys = append(keys, s3io.ImageKeys(rec.UserID, rec.ImageID).All()...)
			}
		}

		if len(keys) > 0 {
			n, derr := s.Blobs.DeleteMany(ctx, keys)
			if derr != nil {
				s.Log.Warn("cleanup blob delete failed", "user_id", u.UserID, "err", derr)
			}
			stats.BlobsDeleted += n
		}
		if rerr := s.Search.RemoveMany(ctx, ids); rerr != nil {
			s.Log.Warn("cleanup index removal failed", "user_id", u.UserID, "err", rerr)
		}
		for _, id := range ids {
			if herr := s.Records.HardDelete(ctx, id); herr != nil {
				s.Log.Error("cleanup record delete failed", "receipt_id", id, "err", herr)
				continue
			}
			stats.ReceiptsPurged++
		}
		if rerr := s.Ledger.Reconcile(ctx, u.UserID, 0); rerr != nil {
			s.Log.Error("cleanup quota reset failed", "user_id", u.UserID, "err", rerr)
		}
		stats.UsersCleaned++
	}
	return stats, nil
}
