// Package sqsio sends pipeline work messages over SQS.
package sqsio

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/paperglass/receipt-search-backend/internal/apperr"
)

// ProcessMessage asks the worker to process an uploaded image.
type ProcessMessage struct {
	UserID     string    `json:"user_id"`
	ImageID    string    `json:"image_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ReleaseMessage asks the worker to retry a quota release that failed
// inline during a delete.
type ReleaseMessage struct {
	UserID string `json:"user_id"`
	N      int    `json:"n"`
}

// Queue wraps an SQS client and queue URL.
type Queue struct {
	Client *sqs.Client
	URL    string
}

// Configured reports whether a queue URL is set. Deployments without a
// queue fall back to synchronous processing.
func (q *Queue) Configured() bool { return q != nil && q.URL != "" }

// Send marshals v and enqueues it.
func (q *Queue) Send(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.URL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}
