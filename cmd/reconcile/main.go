// Package main runs the scheduled maintenance sweep: quota
// reconciliation for every user and data cleanup for long-inactive
// free-tier accounts.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/paperglass/receipt-search-backend/internal/app"
	"github.com/paperglass/receipt-search-backend/internal/config"
	"github.com/paperglass/receipt-search-backend/internal/pipeline"
)

// App holds the application state for the reconcile handler.
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

func (a *App) handler(ctx context.Context, _ events.CloudWatchEvent) (*pipeline.CleanupStats, error) {
	if err := a.svc.Search.EnsureIndex(ctx); err != nil {
		log.Printf("reconcile: index settings error: %v", err)
	}

	stats, err := a.svc.ReconcileAll(ctx)
	if err != nil {
		return nil, err
	}

	cleaned, err := a.svc.CleanupInactive(ctx)
	if err != nil {
		// Reconciliation already ran; report what we have.
		log.Printf("reconcile: cleanup error: %v", err)
		return stats, nil
	}
	stats.UsersCleaned = cleaned.UsersCleaned
	stats.ReceiptsPurged = cleaned.ReceiptsPurged
	stats.BlobsDeleted = cleaned.BlobsDeleted

	log.Printf("reconcile: users=%d cleaned=%d purged=%d blobs=%d",
		stats.UsersReconciled, stats.UsersCleaned, stats.ReceiptsPurged, stats.BlobsDeleted)
	return stats, nil
}
