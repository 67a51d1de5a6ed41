package pipeline

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
	"github.com/paperglass/receipt-search-backend/internal/sqsio"
)

// RequestUpload reserves one quota slot and returns a presigned upload
// URL for a new image. The reservation is compensated if presigning
// fails, so a failed request never leaks quota.
func (s *Service) RequestUpload(ctx context.Context, userID string, req api.UploadRequest) (*api.UploadResponse, error) {
	if _, err := s.Ledger.EnsureUser(ctx, userID, "", models.RoleFree); err != nil {
		return nil, err
	}
	if err := s.Ledger.Reserve(ctx, userID, 1); err != nil {
		return nil, err
	}

	imageID := ulid.Make().String()
	keys := s3io.ImageKeys(userID, imageID)
	headers := s3io.UploadHeaders(userID, imageID, req.ContentType)

	url, err := s.Blobs.PresignUpload(ctx, keys.Original, req.ContentType, map[string]string{
		"image_id": imageID,
		"user_id":  userID,
	}, s.Cfg.PresignTTL)
	if err != nil {
		if rerr := s.Ledger.Release(ctx, userID, 1); rerr != nil {
			s.Log.Error("compensating quota release failed", "user_id", userID, "err", rerr)
			s.enqueueRelease(ctx, userID, 1)
		}
		return nil, err
	}

	return &api.UploadResponse{
		ImageID:   imageID,
		UploadURL: url,
		ExpiresIn: int(s.Cfg.PresignTTL.Seconds()),
		Headers:   headers,
	}, nil
}

// Quota reports the caller's quota standing, creating the ledger row on
// first sight.
func (s *Service) Quota(ctx context.Context, userID string) (*api.QuotaResponse, error) {
	u, err := s.Ledger.EnsureUser(ctx, userID, "", models.RoleFree)
	if err != nil {
		return nil, err
	}
	return &api.QuotaResponse{
		ImageCount: u.ImageCount,
		ImageQuota: u.ImageQuota,
		Available:  u.AvailableQuota(),
		Role:       string(u.Role),
	}, nil
}

// enqueueRelease hands a failed quota release to the retry queue.
func (s *Service) enqueueRelease(ctx context.Context, userID string, n int) {
	if s.ReleaseQueue == nil || !s.ReleaseQueue.Configured() {
		return
	}
	msg := sqsio.ReleaseMessage{UserID: userID, N: n}
	if err := s.ReleaseQueue.Send(ctx, msg); err != nil {
		s.Log.Error("enqueue quota release failed", "user_id", userID, "err", err)
	}
}
