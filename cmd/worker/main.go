// Package main drains the processing and quota-release queues.
package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/paperglass/receipt-search-backend/internal/app"
	"github.com/paperglass/receipt-search-backend/internal/config"
	"github.com/paperglass/receipt-search-backend/internal/pipeline"
	"github.com/paperglass/receipt-search-backend/internal/sqsio"
)

// App holds the application state for the worker handler.
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

// handler processes a batch of queue messages, reporting per-message
// failures so only those are redelivered.
func (a *App) handler(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, msg := range ev.Records {
		if err := a.handleMessage(ctx, msg); err != nil {
			log.Printf("worker: message %s failed: %v", msg.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: msg.MessageId,
			})
		}
	}
	return resp, nil
}

func (a *App) handleMessage(ctx context.Context, msg events.SQSMessage) error {
	// Release retries carry an "n" field; process messages carry an
	// image id.
	var pm sqsio.ProcessMessage
	if err := json.Unmarshal([]byte(msg.Body), &pm); err == nil && pm.ImageID != "" {
		res, err := a.svc.Process(ctx, pm.UserID, pm.ImageID)
		if err != nil {
			return err
		}
		log.Printf("worker: image=%s status=%s receipt=%s", pm.ImageID, res.Status, res.ReceiptID)
		return nil
	}

	var rm sqsio.ReleaseMessage
	if err := json.Unmarshal([]byte(msg.Body), &rm); err == nil && rm.UserID != "" && rm.N > 0 {
		return a.svc.Ledger.Release(ctx, rm.UserID, rm.N)
	}

	log.Printf("worker: dropping unrecognized message %s", msg.MessageId)
	return nil
}
