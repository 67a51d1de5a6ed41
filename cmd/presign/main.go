// Package main issues presigned upload URLs for receipt images.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/app"
	"github.com/paperglass/receipt-search-backend/internal/authz"
	"github.com/paperglass/receipt-search-backend/internal/config"
	"github.com/paperglass/receipt-search-backend/internal/httpx"
	"github.com/paperglass/receipt-search-backend/internal/pipeline"
	"github.com/paperglass/receipt-search-backend/internal/validate"
)

// App holds the application state for the presign handler.
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

// handler validates the upload request and returns a presigned PUT URL.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := authz.Subject(req, a.env.DevBypassAuth, a.env.JWTSecret)
	if err != nil {
		return httpx.Error(http.StatusUnauthorized, "missing user")
	}

	body, err := a.parseAndValidateRequest(req.Body)
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err.Error())
	}

	resp, err := a.svc.RequestUpload(ctx, sub, body)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, resp)
}

// parseAndValidateRequest parses the JSON body and validates all input fields.
func (a *App) parseAndValidateRequest(body string) (api.UploadRequest, error) {
	var req api.UploadRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return req, errors.New("invalid json")
	}

	if req.ContentType == "" {
		req.ContentType = "image/jpeg"
	}

	validators := []func() error{
		func() error { return validate.FilenameImage(req.Filename) },
		func() error { return validate.ImageContentType(req.ContentType) },
		func() error { return validate.FileSizeOK(req.SizeBytes, a.env.MaxFileSizeBytes) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			return req, err
		}
	}
	return req, nil
}
