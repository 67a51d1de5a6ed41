// Package main serves full-text receipt search.
package main

import (
	"context"
	"encoding/json"
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
)

// App holds the application state for the search handler.
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

func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := authz.Subject(req, a.env.DevBypassAuth, a.env.JWTSecret)
	if err != nil {
		return httpx.Error(http.StatusUnauthorized, "missing user")
	}

	var body api.SearchRequest
	if req.Body != "" {
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
			return httpx.Error(http.StatusBadRequest, "invalid json")
		}
	}
	// GET requests carry the query in the query string.
	if q := req.QueryStringParameters["q"]; q != "" && body.Query == "" {
		body.Query = q
	}

	resp, err := a.svc.SearchReceipts(ctx, sub, body)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, resp)
}
