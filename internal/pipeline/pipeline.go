// Package pipeline orchestrates the receipt lifecycle: upload slots,
// image processing, record management, and search. All side-effecting
// collaborators are injected so each can be faked in tests.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/paperglass/receipt-search-backend/internal/extract"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/search"
)

// Resized images are bounded to this box before analysis.
const (
	ResizeMaxWidth  = 2048
	ResizeMaxHeight = 2048
)

// Records is the receipt record store.
type Records interface {
	Save(ctx context.Context, rec models.Receipt) error
	Get(ctx context.Context, receiptID string, includeDeleted bool) (*models.Receipt, error)
	GetByImageID(ctx context.Context, imageID string) (*models.Receipt, error)
	Update(ctx context.Context, rec models.Receipt, expectedVersion int) (*models.Receipt, error)
	SoftDelete(ctx context.Context, receiptID string) (bool, error)
	HardDelete(ctx context.Context, receiptID string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Receipt, int, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// Ledger is the per-user quota ledger.
type Ledger interface {
	EnsureUser(ctx context.Context, userID, email string, role models.UserRole) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	Reserve(ctx context.Context, userID string, n int) error
	Release(ctx context.Context, userID string, n int) error
	Touch(ctx context.Context, userID string) error
	Reconcile(ctx context.Context, userID string, trueCount int) error
	ListInactiveFree(ctx context.Context, cutoff time.Time) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Projector keeps the search index in step with the record store.
type Projector interface {
	EnsureIndex(ctx context.Context) error
	Index(ctx context.Context, rec models.Receipt) error
	Remove(ctx context.Context, receiptID string) error
	RemoveMany(ctx context.Context, receiptIDs []string) error
	Rebuild(ctx context.Context, recs []models.Receipt) error
	Search(ctx context.Context, userID, query string, f search.Filters, limit, offset int64, sort []string) (*search.Result, error)
}

// Blobs is the image blob store.
type Blobs interface {
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context, key string) (int64, error)
	Resize(ctx context.Context, srcKey, dstKey string, maxW, maxH int) error
	Thumbnail(ctx context.Context, srcKey, dstKey string) error
	DeleteMany(ctx context.Context, keys []string) (int, error)
	PresignUpload(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Analyzer extracts structured data and text from a stored image.
type Analyzer interface {
	Analyze(ctx context.Context, key string) (extract.Analysis, error)
}

// Queue enqueues work messages for asynchronous processing.
type Queue interface {
	Configured() bool
	Send(ctx context.Context, v any) error
}

// Config carries the tunables the pipeline needs.
type Config struct {
	PresignTTL           time.Duration
	MaxFileSizeBytes     int64
	ResizeThresholdBytes int64
	AnalyzeTimeout       time.Duration
	StaleProcessingAfter time.Duration
	InactiveFreeAfter    time.Duration
}

// Service wires the pipeline's collaborators together.
type Service struct {
	Records  Records
	Ledger   Ledger
	Search   Projector
	Blobs    Blobs
	Analyzer Analyzer

	ProcessQueue Queue
	ReleaseQueue Queue

	Cfg Config
	Log *slog.Logger

	now func() time.Time
}

// NewService builds a Service. Log must be non-nil.
func NewService(records Records, ledger Ledger, proj Projector, blobs Blobs, analyzer Analyzer, processQ, releaseQ Queue, cfg Config, log *slog.Logger) *Service {
	return &Service{
		Records:      records,
		Ledger:       ledger,
		Search:       proj,
		Blobs:        blobs,
		Analyzer:     analyzer,
		ProcessQueue: processQ,
		ReleaseQueue: releaseQ,
		Cfg:          cfg,
		Log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
