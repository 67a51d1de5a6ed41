package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/extract"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
	"github.com/paperglass/receipt-search-backend/internal/search"
	"github.com/paperglass/receipt-search-backend/internal/sqsio"
)

func TestRequestUploadReservesQuota(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 0, 50)

	resp, err := f.svc.RequestUpload(context.Background(), "u1", api.UploadRequest{
		Filename: "receipt.jpg", ContentType: "image/jpeg", SizeBytes: 1024,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ImageID)
	assert.Contains(t, resp.UploadURL, resp.ImageID)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.Equal(t, "image/jpeg", resp.Headers["Content-Type"])
	assert.Equal(t, 1, f.ledger.count("u1"))
}

func TestRequestUploadQuotaExceeded(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 50, 50)

	_, err := f.svc.RequestUpload(context.Background(), "u1", api.UploadRequest{
		Filename: "receipt.jpg", ContentType: "image/jpeg", SizeBytes: 1024,
	})
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)
	assert.Equal(t, 50, f.ledger.count("u1"))
}

func TestRequestUploadPresignFailureReleasesQuota(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 3, 50)
	f.blobs.presignErr = errBoom

	_, err := f.svc.RequestUpload(context.Background(), "u1", api.UploadRequest{
		Filename: "receipt.jpg", ContentType: "image/jpeg", SizeBytes: 1024,
	})
	require.Error(t, err)
	assert.Equal(t, 3, f.ledger.count("u1"))
}

func uploadImage(f *fixture, userID, imageID string, size int64) s3io.Keys {
	keys := s3io.ImageKeys(userID, imageID)
	f.blobs.putObject(keys.Original, size)
	return keys
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 1, 50)
	uploadImage(f, "u1", "img1", 1024)
	f.analyzer.analysis = extract.Analysis{
		SummaryFields: map[string]string{"vendor_name": "Cafe X", "total": "4.50"},
		Blocks:        []extract.TextBlock{{Text: "Cafe X", Confidence: 98}},
	}

	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "Cafe X", res.Receipt.MerchantName)
	assert.Equal(t, 2, res.Receipt.Version)
	assert.False(t, res.Failed())

	stored, err := f.records.GetByImageID(context.Background(), "img1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	_, indexed := f.proj.indexed[res.ReceiptID]
	assert.True(t, indexed)
}

func TestProcessMissingImage(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Process(context.Background(), "u1", "missing")
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, "image not found", res.ErrorMessage)
	assert.Empty(t, res.ReceiptID)

	_, err = f.records.GetByImageID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProcessAnalyzerFailure(t *testing.T) {
	f := newFixture()
	uploadImage(f, "u1", "img1", 1024)
	f.analyzer.err = errBoom

	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.ErrorMessage)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, models.ExtractionFailedText, res.Receipt.RawText)

	stored, err := f.records.Get(context.Background(), res.ReceiptID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)

	// The failed record is still projected so its status is visible.
	_, indexed := f.proj.indexed[res.ReceiptID]
	assert.True(t, indexed)
}

func TestProcessIdempotentOnCompleted(t *testing.T) {
	f := newFixture()
	uploadImage(f, "u1", "img1", 1024)
	f.analyzer.analysis = extract.Analysis{
		SummaryFields: map[string]string{"vendor_name": "Cafe X"},
	}

	first, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, first.Status)

	second, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Equal(t, 1, f.analyzer.calls)
}

func TestProcessReprocessesFailed(t *testing.T) {
	f := newFixture()
	uploadImage(f, "u1", "img1", 1024)

	f.analyzer.err = errBoom
	first, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, first.Status)

	f.analyzer.err = nil
	f.analyzer.analysis = extract.Analysis{SummaryFields: map[string]string{"vendor_name": "Cafe X"}}
	second, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Equal(t, "Cafe X", second.Receipt.MerchantName)
}

func TestProcessResizesLargeImages(t *testing.T) {
	f := newFixture()
	keys := uploadImage(f, "u1", "img1", 8<<20)
	f.analyzer.analysis = extract.Analysis{}

	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, keys.Resized, f.analyzer.lastKey)
}

func TestProcessSkipsResizeForSmallImages(t *testing.T) {
	f := newFixture()
	keys := uploadImage(f, "u1", "img1", 1024)

	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, keys.Original, f.analyzer.lastKey)
	var resizeStep *StepResult
	for i := range res.Steps {
		if res.Steps[i].Name == "resize" {
			resizeStep = &res.Steps[i]
		}
	}
	require.NotNil(t, resizeStep)
	assert.Equal(t, StepSkipped, resizeStep.Outcome)
}

func TestProcessThumbnailFailureStillCompletes(t *testing.T) {
	f := newFixture()
	uploadImage(f, "u1", "img1", 1024)
	f.blobs.thumbErr = errBoom

	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.True(t, res.Failed())
}

func TestEnqueueUsesQueueWhenConfigured(t *testing.T) {
	f := newFixture()
	f.processQ.enabled = true

	res, err := f.svc.Enqueue(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, res.Status)
	require.Len(t, f.processQ.sent, 1)
	msg := f.processQ.sent[0].(sqsio.ProcessMessage)
	assert.Equal(t, "img1", msg.ImageID)
	assert.Equal(t, 0, f.analyzer.calls)
}

func TestEnqueueFallsBackToInline(t *testing.T) {
	f := newFixture()
	f.processQ.enabled = true
	f.processQ.sendErr = errBoom
	uploadImage(f, "u1", "img1", 1024)

	res, err := f.svc.Enqueue(context.Background(), "u1", "img1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 1, f.analyzer.calls)
}

func TestGetStatusPendingBeforeRecordExists(t *testing.T) {
	f := newFixture()
	uploadImage(f, "u1", "img1", 1024)

	resp, err := f.svc.GetStatus(context.Background(), "u1", "img1")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusPending), resp.Status)
}

func TestGetStatusUnknownImage(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.GetStatus(context.Background(), "u1", "nope")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusFailed), resp.Status)
	assert.Equal(t, "image not found", resp.ErrorMessage)
}

func TestGetStatusHidesOtherUsersImages(t *testing.T) {
	f := newFixture()
	uploadImage(f, "u1", "img1", 1024)
	_, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	_, err = f.svc.GetStatus(context.Background(), "u2", "img1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetStatusStaleProcessing(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	require.NoError(t, f.records.Save(context.Background(), models.Receipt{
		ReceiptID: "r1", UserID: "u1", ImageID: "img1",
		Status:  models.StatusProcessing,
		Version: 1, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}))

	resp, err := f.svc.GetStatus(context.Background(), "u1", "img1")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusProcessing), resp.Status)
	assert.True(t, resp.Stale)
}

func TestCreateManualDoesNotChargeQuota(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 5, 50)

	rec, err := f.svc.CreateManual(context.Background(), "u1", api.CreateReceiptRequest{
		MerchantName: "Handwritten",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, 5, f.ledger.count("u1"))
	_, indexed := f.proj.indexed[rec.ReceiptID]
	assert.True(t, indexed)
}

func TestUpdateReceiptVersionConflict(t *testing.T) {
	f := newFixture()
	rec, err := f.svc.CreateManual(context.Background(), "u1", api.CreateReceiptRequest{MerchantName: "A"})
	require.NoError(t, err)

	name := "B"
	_, err = f.svc.UpdateReceipt(context.Background(), "u1", rec.ReceiptID, api.UpdateReceiptRequest{
		MerchantName: &name, Version: rec.Version,
	})
	require.NoError(t, err)

	// Same stale version again.
	_, err = f.svc.UpdateReceipt(context.Background(), "u1", rec.ReceiptID, api.UpdateReceiptRequest{
		MerchantName: &name, Version: rec.Version,
	})
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)
}

func TestUpdateReceiptBumpsVersion(t *testing.T) {
	f := newFixture()
	rec, err := f.svc.CreateManual(context.Background(), "u1", api.CreateReceiptRequest{MerchantName: "A"})
	require.NoError(t, err)

	notes := "lunch"
	updated, err := f.svc.UpdateReceipt(context.Background(), "u1", rec.ReceiptID, api.UpdateReceiptRequest{
		Notes: &notes, Version: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "lunch", updated.Notes)
	assert.Equal(t, "A", updated.MerchantName)
}

func TestDeleteByNonOwnerFails(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u2", models.RoleFree, 0, 50)
	rec, err := f.svc.CreateManual(context.Background(), "u1", api.CreateReceiptRequest{MerchantName: "A"})
	require.NoError(t, err)

	_, err = f.svc.DeleteReceipt(context.Background(), "u2", rec.ReceiptID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	still, err := f.records.Get(context.Background(), rec.ReceiptID, false)
	require.NoError(t, err)
	assert.False(t, still.IsDeleted)
}

func TestDeleteByAdminAllowedWithoutRelease(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 1, 50)
	f.ledger.addUser("boss", models.RoleAdmin, 0, 1000)
	uploadImage(f, "u1", "img1", 1024)
	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	changed, err := f.svc.DeleteReceipt(context.Background(), "boss", res.ReceiptID)
	require.NoError(t, err)
	assert.True(t, changed)
	// The owner's count is left to the reconciliation sweep.
	assert.Equal(t, 1, f.ledger.count("u1"))
}

func TestRepeatedDeleteReleasesQuotaOnce(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 1, 50)
	uploadImage(f, "u1", "img1", 1024)
	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	changed, err := f.svc.DeleteReceipt(context.Background(), "u1", res.ReceiptID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, f.ledger.count("u1"))

	for i := 0; i < 2; i++ {
		_, err := f.svc.DeleteReceipt(context.Background(), "u1", res.ReceiptID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	}
	assert.Equal(t, 0, f.ledger.count("u1"))
	assert.Equal(t, 1, f.ledger.releases)
}

func TestDeleteFailedReleaseGoesToQueue(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 1, 50)
	f.releaseQ.enabled = true
	uploadImage(f, "u1", "img1", 1024)
	res, err := f.svc.Process(context.Background(), "u1", "img1")
	require.NoError(t, err)

	f.ledger.releaseErr = errBoom
	changed, err := f.svc.DeleteReceipt(context.Background(), "u1", res.ReceiptID)
	require.NoError(t, err)
	assert.True(t, changed)

	require.Len(t, f.releaseQ.sent, 1)
	msg := f.releaseQ.sent[0].(sqsio.ReleaseMessage)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, 1, msg.N)
}

func TestBulkDeleteSkipsForeignAndMissing(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u2", models.RoleFree, 0, 50)
	mine, err := f.svc.CreateManual(context.Background(), "u2", api.CreateReceiptRequest{MerchantName: "Mine"})
	require.NoError(t, err)
	theirs, err := f.svc.CreateManual(context.Background(), "u1", api.CreateReceiptRequest{MerchantName: "Theirs"})
	require.NoError(t, err)

	n, err := f.svc.BulkDelete(context.Background(), "u2", []string{mine.ReceiptID, theirs.ReceiptID, "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	still, err := f.records.Get(context.Background(), theirs.ReceiptID, false)
	require.NoError(t, err)
	assert.False(t, still.IsDeleted)
}

func TestSearchReceiptsAddsThumbnails(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 0, 50)
	keys := s3io.ImageKeys("u1", "img1")
	f.proj.result = &search.Result{
		Hits: []search.Document{
			{ReceiptID: "r1", UserID: "u1", ImageID: "img1", MerchantName: "Cafe X", TotalAmount: 4.5},
			{ReceiptID: "r2", UserID: "u1", MerchantName: "Manual"},
		},
		Total:     2,
		ElapsedMs: 3,
	}

	resp, err := f.svc.SearchReceipts(context.Background(), "u1", api.SearchRequest{Query: "cafe"})
	require.NoError(t, err)

	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "https://signed.example/"+keys.Thumbnail, resp.Hits[0].ThumbnailURL)
	require.NotNil(t, resp.Hits[0].TotalAmount)
	assert.Empty(t, resp.Hits[1].ThumbnailURL)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, int64(20), resp.Limit)
}

func TestReconcileQuotaRepairsDrift(t *testing.T) {
	f := newFixture()
	f.ledger.addUser("u1", models.RoleFree, 40, 50)
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateManual(context.Background(), "u1", api.CreateReceiptRequest{MerchantName: "m"})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.ReconcileQuota(context.Background(), "u1"))
	assert.Equal(t, 3, f.ledger.count("u1"))
}

func TestCleanupInactivePurgesFreeUsers(t *testing.T) {
	f := newFixture()
	old := time.Now().UTC().Add(-365 * 24 * time.Hour)
	f.ledger.addUser("stale", models.RoleFree, 1, 50)
	f.ledger.users["stale"].LastActiveAt = &old

	uploadImage(f, "stale", "img1", 1024)
	res, err := f.svc.Process(context.Background(), "stale", "img1")
	require.NoError(t, err)

	stats, err := f.svc.CleanupInactive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.UsersCleaned)
	assert.Equal(t, 1, stats.ReceiptsPurged)
	assert.Equal(t, 0, f.ledger.count("stale"))

	_, err = f.records.Get(context.Background(), res.ReceiptID, true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
