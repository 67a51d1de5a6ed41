// Package main reacts to S3 upload events and hands each new image to
// the processing pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/paperglass/receipt-search-backend/internal/app"
	"github.com/paperglass/receipt-search-backend/internal/config"
	"github.com/paperglass/receipt-search-backend/internal/pipeline"
	"github.com/paperglass/receipt-search-backend/internal/s3io"
)

// App holds the application state for the ingest handler.
type App struct {
	env config.Env
	svc *pipeline.Service
}

func main() {
	env := config.MustLoad()
	svc, err := app.Build(context.Background(), env, app.Logger())
	if err != nil {
		log.Fatal(err)
	}
	a := &App{env: env, svc: svc}
	lambda.Start(a.handler)
}

// handler enqueues processing for each uploaded original.
func (a *App) handler(ctx context.Context, ev events.S3Event) (any, error) {
	for _, rec := range ev.Records {
		if err := a.processS3Record(ctx, rec); err != nil {
			log.Printf("ingest: process error: %v", err)
		}
	}
	return nil, nil
}

// processS3Record handles a single S3 event record.
func (a *App) processS3Record(ctx context.Context, record events.S3EventRecord) error {
	key, _ := url.QueryUnescape(record.S3.Object.Key)

	userID, imageID, ok := s3io.ParseOriginalKey(key)
	if !ok {
		// Derivatives and unrelated objects also raise events.
		return nil
	}

	res, err := a.svc.Enqueue(ctx, userID, imageID)
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", userID, imageID, err)
	}
	log.Printf("ingest: image=%s status=%s receipt=%s", imageID, res.Status, res.ReceiptID)
	return nil
}
