package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/extract"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
	"github.com/paperglass/receipt-search-backend/internal/sqsio"
)

// Process runs the extraction pipeline for one uploaded image. It is
// idempotent: a COMPLETED record short-circuits, a FAILED or stuck
// record is reprocessed.
//
// A non-nil error means infrastructure trouble and the caller may
// retry. A FAILED result with a nil error is a terminal domain outcome.
func (s *Service) Process(ctx context.Context, userID, imageID string) (*ProcessResult, error) {
	res := &ProcessResult{ImageID: imageID, Status: models.StatusFailed}
	keys := s3io.ImageKeys(userID, imageID)

	exists, err := s.Blobs.Exists(ctx, keys.Original)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if !exists {
		res.step("check_image", StepFailed, apperr.ErrNotFound)
		res.ErrorMessage = "image not found"
		return res, nil
	}
	res.step("check_image", StepOK, nil)

	rec, err := s.claimRecord(ctx, userID, imageID, res)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Already COMPLETED; res is filled in.
		return res, nil
	}
	res.ReceiptID = rec.ReceiptID

	analyzeKey := s.prepareImage(ctx, keys, res)

	actx, cancel := context.WithTimeout(ctx, s.Cfg.AnalyzeTimeout)
	analysis, aerr := s.Analyzer.Analyze(actx, analyzeKey)
	cancel()
	if aerr != nil {
		res.step("analyze", StepFailed, aerr)
		return s.finishFailed(ctx, rec, aerr, res)
	}
	res.step("analyze", StepOK, nil)

	applyExtraction(rec, extract.Normalize(analysis))
	rec.Status = models.StatusCompleted
	updated, err := s.Records.Update(ctx, *rec, rec.Version)
	if err != nil {
		return nil, err
	}
	res.step("persist", StepOK, nil)

	s.indexBestEffort(ctx, *updated, res)

	res.Status = models.StatusCompleted
	res.Receipt = updated
	return res, nil
}

// claimRecord finds or creates the record for imageID and marks it
// PROCESSING. Returns (nil, nil) when the record is already COMPLETED,
// with res describing the short-circuit.
func (s *Service) claimRecord(ctx context.Context, userID, imageID string, res *ProcessResult) (*models.Receipt, error) {
	rec, err := s.Records.GetByImageID(ctx, imageID)
	switch {
	case err == nil:
		if rec.UserID != userID {
			return nil, apperr.ErrNotFound
		}
		if rec.Status == models.StatusCompleted {
			res.ReceiptID = rec.ReceiptID
			res.Status = models.StatusCompleted
			res.Receipt = rec
			res.step("claim", StepSkipped, nil)
			return nil, nil
		}
		rec.Status = models.StatusProcessing
		updated, uerr := s.Records.Update(ctx, *rec, rec.Version)
		if uerr != nil {
			return nil, uerr
		}
		res.step("claim", StepOK, nil)
		return updated, nil

	case errors.Is(err, apperr.ErrNotFound):
		now := s.clock()
		fresh := models.Receipt{
			ReceiptID: uuid.NewString(),
			UserID:    userID,
			ImageID:   imageID,
			Status:    models.StatusProcessing,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if serr := s.Records.Save(ctx, fresh); serr != nil {
			if errors.Is(serr, apperr.ErrDuplicate) {
				// Lost a create race; pick up the winner's record.
				return s.claimRecord(ctx, userID, imageID, res)
			}
			return nil, serr
		}
		res.step("claim", StepOK, nil)
		return &fresh, nil

	default:
		return nil, err
	}
}

// prepareImage produces the resized derivative and thumbnail. Both are
// best-effort: analysis falls back to the original on resize failure.
func (s *Service) prepareImage(ctx context.Context, keys s3io.Keys, res *ProcessResult) string {
	analyzeKey := keys.Original

	size, err := s.Blobs.Size(ctx, keys.Original)
	switch {
	case err != nil:
		res.step("resize", StepFailed, err)
	case size <= s.Cfg.ResizeThresholdBytes:
		res.step("resize", StepSkipped, nil)
	default:
		if rerr := s.Blobs.Resize(ctx, keys.Original, keys.Resized, ResizeMaxWidth, ResizeMaxHeight); rerr != nil {
			s.Log.Warn("resize failed, analyzing original", "image_key", keys.Original, "err", rerr)
			res.step("resize", StepFailed, rerr)
		} else {
			res.step("resize", StepOK, nil)
			analyzeKey = keys.Resized
		}
	}

	if terr := s.Blobs.Thumbnail(ctx, keys.Original, keys.Thumbnail); terr != nil {
		s.Log.Warn("thumbnail failed", "image_key", keys.Original, "err", terr)
		res.step("thumbnail", StepFailed, terr)
	} else {
		res.step("thumbnail", StepOK, nil)
	}

	return analyzeKey
}

// finishFailed records a terminal analysis failure on the receipt. The
// failed record is still projected so its status is searchable.
func (s *Service) finishFailed(ctx context.Context, rec *models.Receipt, cause error, res *ProcessResult) (*ProcessResult, error) {
	rec.RawText = models.ExtractionFailedText
	rec.Status = models.StatusFailed
	if rec.ExtractionMetadata == nil {
		rec.ExtractionMetadata = map[string]string{}
	}
	rec.ExtractionMetadata["error"] = cause.Error()

	updated, err := s.Records.Update(ctx, *rec, rec.Version)
	if err != nil {
		return nil, err
	}
	res.step("persist", StepOK, nil)

	s.indexBestEffort(ctx, *updated, res)

	res.Status = models.StatusFailed
	res.Receipt = updated
	res.ErrorMessage = cause.Error()
	return res, nil
}

func (s *Service) indexBestEffort(ctx context.Context, rec models.Receipt, res *ProcessResult) {
	if err := s.Search.Index(ctx, rec); err != nil {
		s.Log.Warn("search projection failed", "receipt_id", rec.ReceiptID, "err", err)
		if res != nil {
			res.step("index", StepFailed, err)
		}
		return
	}
	if res != nil {
		res.step("index", StepOK, nil)
	}
}

func applyExtraction(rec *models.Receipt, n extract.Normalized) {
	rec.MerchantName = n.MerchantName
	rec.MerchantAddress = n.MerchantAddress
	rec.PurchaseDate = n.PurchaseDate
	rec.TotalAmount = n.TotalAmount
	if n.Currency != "" {
		rec.Currency = n.Currency
	}
	rec.Items = n.Items
	rec.RawText = n.RawText
	rec.ConfidenceScore = n.ConfidenceScore
}

// Enqueue hands the image to the processing queue, falling back to
// synchronous processing when no queue is configured or the send fails.
func (s *Service) Enqueue(ctx context.Context, userID, imageID string) (*ProcessResult, error) {
	if s.ProcessQueue != nil && s.ProcessQueue.Configured() {
		msg := sqsio.ProcessMessage{UserID: userID, ImageID: imageID, EnqueuedAt: s.clock()}
		err := s.ProcessQueue.Send(ctx, msg)
		if err == nil {
			return &ProcessResult{ImageID: imageID, Status: models.StatusPending}, nil
		}
		s.Log.Warn("enqueue failed, processing inline", "image_id", imageID, "err", err)
	}
	return s.Process(ctx, userID, imageID)
}

// GetStatus reports processing progress for an image. With no record
// yet, an existing blob means PENDING; a missing blob means the upload
// never landed.
func (s *Service) GetStatus(ctx context.Context, userID, imageID string) (*api.StatusResponse, error) {
	rec, err := s.Records.GetByImageID(ctx, imageID)
	switch {
	case err == nil:
		if rec.UserID != userID {
			return nil, apperr.ErrNotFound
		}
		resp := &api.StatusResponse{ImageID: imageID, Status: string(rec.Status)}
		if rec.Status == models.StatusProcessing && s.clock().Sub(rec.UpdatedAt) > s.Cfg.StaleProcessingAfter {
			resp.Stale = true
		}
		if rec.Status == models.StatusCompleted {
			resp.Receipt = rec
		}
		if rec.Status == models.StatusFailed {
			resp.ErrorMessage = rec.ExtractionMetadata["error"]
		}
		return resp, nil

	case errors.Is(err, apperr.ErrNotFound):
		keys := s3io.ImageKeys(userID, imageID)
		exists, berr := s.Blobs.Exists(ctx, keys.Original)
		if berr != nil {
			return nil, apperr.Transient(berr)
		}
		if exists {
			return &api.StatusResponse{ImageID: imageID, Status: string(models.StatusPending)}, nil
		}
		return &api.StatusResponse{
			ImageID:      imageID,
			Status:       string(models.StatusFailed),
			ErrorMessage: "image not found",
		}, nil

	default:
		return nil, err
	}
}
