package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/extract"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/search"
)

type fakeRecords struct {
	mu   sync.Mutex
	byID map[string]models.Receipt
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byID: map[string]models.Receipt{}}
}

func (f *fakeRecords) Save(_ context.Context, rec models.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[rec.ReceiptID]; ok {
		return apperr.ErrDuplicate
	}
	f.byID[rec.ReceiptID] = rec
	return nil
}

func (f *fakeRecords) Get(_ context.Context, receiptID string, includeDeleted bool) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[receiptID]
	if !ok || (rec.IsDeleted && !includeDeleted) {
		return nil, apperr.ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (f *fakeRecords) GetByImageID(_ context.Context, imageID string) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.byID {
		if rec.ImageID == imageID && !rec.IsDeleted {
			cp := rec
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeRecords) Update(_ context.Context, rec models.Receipt, expectedVersion int) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[rec.ReceiptID]
	if !ok || stored.IsDeleted {
		return nil, apperr.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return nil, apperr.ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = time.Now().UTC()
	f.byID[rec.ReceiptID] = rec
	cp := rec
	return &cp, nil
}

func (f *fakeRecords) SoftDelete(_ context.Context, receiptID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[receiptID]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if rec.IsDeleted {
		return false, nil
	}
	rec.IsDeleted = true
	rec.Version++
	f.byID[receiptID] = rec
	return true, nil
}

func (f *fakeRecords) HardDelete(_ context.Context, receiptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, receiptID)
	return nil
}

func (f *fakeRecords) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Receipt, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []models.Receipt
	for _, rec := range f.byID {
		if rec.UserID == userID && !rec.IsDeleted {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	total := len(recs)
	if offset >= len(recs) {
		return nil, total, nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs, total, nil
}

func (f *fakeRecords) CountByUser(ctx context.Context, userID string) (int, error) {
	_, total, err := f.ListByUser(ctx, userID, 0, 0)
	return total, err
}

type fakeLedger struct {
	mu         sync.Mutex
	users      map[string]*models.User
	reserveErr error
	releaseErr error
	releases   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{users: map[string]*models.User{}}
}

func (f *fakeLedger) addUser(userID string, role models.UserRole, count, quota int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = &models.User{UserID: userID, Role: role, ImageCount: count, ImageQuota: quota}
}

func (f *fakeLedger) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u.ImageCount
	}
	return -1
}

func (f *fakeLedger) EnsureUser(_ context.Context, userID, email string, role models.UserRole) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	u := &models.User{UserID: userID, Email: email, Role: role, ImageQuota: 50}
	f.users[userID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeLedger) GetUser(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeLedger) Reserve(_ context.Context, userID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	u, ok := f.users[userID]
	if !ok {
		return apperr.ErrNotFound
	}
	if !u.CanUpload(n) {
		return apperr.ErrQuotaExceeded
	}
	u.ImageCount += n
	return nil
}

func (f *fakeLedger) Release(_ context.Context, userID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	u, ok := f.users[userID]
	if !ok {
		return apperr.ErrNotFound
	}
	u.ImageCount -= n
	if u.ImageCount < 0 {
		u.ImageCount = 0
	}
	f.releases++
	return nil
}

func (f *fakeLedger) Touch(_ context.Context, _ string) error { return nil }

func (f *fakeLedger) Reconcile(_ context.Context, userID string, trueCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperr.ErrNotFound
	}
	u.ImageCount = trueCount
	return nil
}

func (f *fakeLedger) ListInactiveFree(_ context.Context, cutoff time.Time) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if u.Role == models.RoleFree && u.LastActiveAt != nil && u.LastActiveAt.Before(cutoff) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListUsers(_ context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

type fakeProjector struct {
	mu       sync.Mutex
	indexed  map[string]models.Receipt
	removed  []string
	indexErr error
	result   *search.Result
}

func newFakeProjector() *fakeProjector {
	return &fakeProjector{indexed: map[string]models.Receipt{}, result: &search.Result{}}
}

func (f *fakeProjector) EnsureIndex(_ context.Context) error { return nil }

func (f *fakeProjector) Rebuild(ctx context.Context, recs []models.Receipt) error {
	for _, rec := range recs {
		if rec.IsDeleted {
			continue
		}
		if err := f.Index(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProjector) Index(_ context.Context, rec models.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed[rec.ReceiptID] = rec
	return nil
}

func (f *fakeProjector) Remove(_ context.Context, receiptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, receiptID)
	f.removed = append(f.removed, receiptID)
	return nil
}

func (f *fakeProjector) RemoveMany(ctx context.Context, receiptIDs []string) error {
	for _, id := range receiptIDs {
		if err := f.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProjector) Search(_ context.Context, userID, query string, _ search.Filters, _, _ int64, _ []string) (*search.Result, error) {
	return f.result, nil
}

type fakeBlobs struct {
	mu         sync.Mutex
	sizes      map[string]int64
	resizeErr  error
	thumbErr   error
	presignErr error
	deleted    []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{sizes: map[string]int64{}}
}

func (f *fakeBlobs) putObject(key string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[key] = size
}

func (f *fakeBlobs) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sizes[key]
	return ok, nil
}

func (f *fakeBlobs) Size(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.sizes[key]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	return size, nil
}

func (f *fakeBlobs) Resize(_ context.Context, srcKey, dstKey string, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resizeErr != nil {
		return f.resizeErr
	}
	f.sizes[dstKey] = f.sizes[srcKey] / 2
	return nil
}

func (f *fakeBlobs) Thumbnail(_ context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.thumbErr != nil {
		return f.thumbErr
	}
	f.sizes[dstKey] = 1024
	return nil
}

func (f *fakeBlobs) DeleteMany(_ context.Context, keys []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := f.sizes[k]; ok {
			delete(f.sizes, k)
			n++
		}
		f.deleted = append(f.deleted, k)
	}
	return n, nil
}

func (f *fakeBlobs) PresignUpload(_ context.Context, key, _ string, _ map[string]string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://signed.example/" + key, nil
}

func (f *fakeBlobs) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://signed.example/" + key, nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analysis extract.Analysis
	err      error
	calls    int
	lastKey  string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, key string) (extract.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastKey = key
	if f.err != nil {
		return extract.Analysis{}, f.err
	}
	return f.analysis, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	enabled bool
	sendErr error
	sent    []any
}

func (f *fakeQueue) Configured() bool { return f.enabled }

func (f *fakeQueue) Send(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, v)
	return nil
}

type fixture struct {
	svc      *Service
	records  *fakeRecords
	ledger   *fakeLedger
	proj     *fakeProjector
	blobs    *fakeBlobs
	analyzer *fakeAnalyzer
	processQ *fakeQueue
	releaseQ *fakeQueue
}

func newFixture() *fixture {
	f := &fixture{
		records:  newFakeRecords(),
		ledger:   newFakeLedger(),
		proj:     newFakeProjector(),
		blobs:    newFakeBlobs(),
		analyzer: &fakeAnalyzer{},
		processQ: &fakeQueue{},
		releaseQ: &fakeQueue{},
	}
	f.svc = NewService(f.records, f.ledger, f.proj, f.blobs, f.analyzer, f.processQ, f.releaseQ, Config{
		PresignTTL:           15 * time.Minute,
		MaxFileSizeBytes:     10 << 20,
		ResizeThresholdBytes: 5 << 20,
		AnalyzeTimeout:       time.Second,
		StaleProcessingAfter: 5 * time.Minute,
		InactiveFreeAfter:    90 * 24 * time.Hour,
	}, discardLogger())
	return f
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBoom = fmt.Errorf("boom")
