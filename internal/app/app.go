// Package app wires the pipeline service from environment
// configuration. Each Lambda entrypoint builds one Service here.
package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	awstextract "github.com/aws/aws-sdk-go-v2/service/textract"

	"github.com/paperglass/receipt-search-backend/internal/awsutil"
	"github.com/paperglass/receipt-search-backend/internal/config"
	"github.com/paperglass/receipt-search-backend/internal/ddb"
	"github.com/paperglass/receipt-search-backend/internal/pipeline"
	"github.com/paperglass/receipt-search-backend/internal/quota"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
	"github.com/paperglass/receipt-search-backend/internal/search"
	"github.com/paperglass/receipt-search-backend/internal/sqsio"
	"github.com/paperglass/receipt-search-backend/internal/textract"
)

// Logger builds the process-wide structured logger.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// Build constructs the pipeline service and its AWS clients from env.
func Build(ctx context.Context, env config.Env, log *slog.Logger) (*pipeline.Service, error) {
	cfg, endpoint, err := awsutil.Load(ctx, env.Region)
	if err != nil {
		return nil, err
	}

	// S3 client: use path-style when hitting LocalStack
	s3c := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
		}
	})

	records := &ddb.Repo{DB: dynamodb.NewFromConfig(cfg), Table: env.ReceiptsTable}
	ledger := &quota.Ledger{
		DB:       dynamodb.NewFromConfig(cfg),
		Table:    env.UsersTable,
		Defaults: quota.Defaults{Free: env.FreeQuota, Paid: env.PaidQuota},
	}
	blobs := s3io.New(s3c, env.Bucket)
	analyzer := textract.New(awstextract.NewFromConfig(cfg), env.Bucket)
	projector := search.NewProjector(env.SearchHost, env.SearchAPIKey, env.SearchIndex, log)

	sqsc := sqs.NewFromConfig(cfg)
	processQ := &sqsio.Queue{Client: sqsc, URL: env.ProcessQueueURL}
	releaseQ := &sqsio.Queue{Client: sqsc, URL: env.ReleaseQueueURL}

	svc := pipeline.NewService(records, ledger, projector, blobs, analyzer, processQ, releaseQ, pipeline.Config{
		PresignTTL:           env.PresignTTL,
		MaxFileSizeBytes:     env.MaxFileSizeBytes,
		ResizeThresholdBytes: env.ResizeThresholdBytes,
		AnalyzeTimeout:       env.AnalyzeTimeout,
		StaleProcessingAfter: env.StaleProcessingAfter,
		InactiveFreeAfter:    env.InactiveFreeUserAfter,
	}, log)
	return svc, nil
}
