// Package main serves the receipt CRUD and status routes.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/paperglass/receipt-search-backend/internal/api"
	"github.com/paperglass/receipt-search-backend/internal/app"
	"github.com/paperglass/receipt-search-backend/internal/authz"
	"github.com/paperglass/receipt-search-backend/internal/config"
	"github.com/paperglass/receipt-search-backend/internal/httpx"
	"github.com/paperglass/receipt-search-backend/internal/models"
	"github.com/paperglass/receipt-search-backend/internal/pipeline"
	"github.com/paperglass/receipt-search-backend/internal/validate"
)

// App holds the application state for the receipts handler.
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

// handler dispatches on the HTTP API route key.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := authz.Subject(req, a.env.DevBypassAuth, a.env.JWTSecret)
	if err != nil {
		return httpx.Error(http.StatusUnauthorized, "missing user")
	}

	switch req.RouteKey {
	case "POST /receipts":
		return a.create(ctx, sub, req.Body)
	case "GET /receipts":
		return a.list(ctx, sub, req.QueryStringParameters)
	case "GET /receipts/{receipt_id}":
		return a.get(ctx, sub, req.PathParameters["receipt_id"])
	case "PATCH /receipts/{receipt_id}":
		return a.update(ctx, sub, req.PathParameters["receipt_id"], req.Body)
	case "DELETE /receipts/{receipt_id}":
		return a.delete(ctx, sub, req.PathParameters["receipt_id"])
	case "POST /receipts/bulk-delete":
		return a.bulkDelete(ctx, sub, req.Body)
	case "POST /images/{image_id}/process":
		return a.process(ctx, sub, req.PathParameters["image_id"])
	case "GET /images/{image_id}/status":
		return a.status(ctx, sub, req.PathParameters["image_id"])
	case "GET /quota":
		return a.quota(ctx, sub)
	default:
		return httpx.Error(http.StatusNotFound, "no such route")
	}
}

func (a *App) create(ctx context.Context, sub, body string) (events.APIGatewayV2HTTPResponse, error) {
	var req api.CreateReceiptRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return httpx.Error(http.StatusBadRequest, "invalid json")
	}
	if err := validateReceiptFields(req.Tags, req.Currency, req.Items); err != nil {
		return httpx.Error(http.StatusBadRequest, err.Error())
	}
	rec, err := a.svc.CreateManual(ctx, sub, req)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusCreated, rec)
}

func (a *App) list(ctx context.Context, sub string, query map[string]string) (events.APIGatewayV2HTTPResponse, error) {
	limit := intParam(query, "limit", 20)
	offset := intParam(query, "offset", 0)
	resp, err := a.svc.ListReceipts(ctx, sub, limit, offset)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, resp)
}

func (a *App) get(ctx context.Context, sub, receiptID string) (events.APIGatewayV2HTTPResponse, error) {
	rec, err := a.svc.GetReceipt(ctx, sub, receiptID)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, rec)
}

func (a *App) update(ctx context.Context, sub, receiptID, body string) (events.APIGatewayV2HTTPResponse, error) {
	var req api.UpdateReceiptRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return httpx.Error(http.StatusBadRequest, "invalid json")
	}
	if req.Version <= 0 {
		return httpx.Error(http.StatusBadRequest, "version required")
	}
	if req.Items != nil {
		if err := validateItems(*req.Items); err != nil {
			return httpx.Error(http.StatusBadRequest, err.Error())
		}
	}
	if req.Tags != nil {
		if err := validate.TagsOK(*req.Tags); err != nil {
			return httpx.Error(http.StatusBadRequest, err.Error())
		}
	}
	if req.Currency != nil {
		if err := validate.CurrencyOK(*req.Currency); err != nil {
			return httpx.Error(http.StatusBadRequest, err.Error())
		}
	}

	rec, err := a.svc.UpdateReceipt(ctx, sub, receiptID, req)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, rec)
}

func (a *App) delete(ctx context.Context, sub, receiptID string) (events.APIGatewayV2HTTPResponse, error) {
	if _, err := a.svc.DeleteReceipt(ctx, sub, receiptID); err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *App) bulkDelete(ctx context.Context, sub, body string) (events.APIGatewayV2HTTPResponse, error) {
	var req api.BulkDeleteRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return httpx.Error(http.StatusBadRequest, "invalid json")
	}
	if len(req.ReceiptIDs) == 0 {
		return httpx.Error(http.StatusBadRequest, "receipt_ids required")
	}
	n, err := a.svc.BulkDelete(ctx, sub, req.ReceiptIDs)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, api.BulkDeleteResponse{Deleted: n})
}

func (a *App) process(ctx context.Context, sub, imageID string) (events.APIGatewayV2HTTPResponse, error) {
	res, err := a.svc.Enqueue(ctx, sub, imageID)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusAccepted, api.StatusResponse{
		ImageID:      imageID,
		Status:       string(res.Status),
		Receipt:      res.Receipt,
		ErrorMessage: res.ErrorMessage,
	})
}

func (a *App) status(ctx context.Context, sub, imageID string) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := a.svc.GetStatus(ctx, sub, imageID)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, resp)
}

func (a *App) quota(ctx context.Context, sub string) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := a.svc.Quota(ctx, sub)
	if err != nil {
		return httpx.From(err)
	}
	return httpx.JSON(http.StatusOK, resp)
}

func validateReceiptFields(tags []string, currency string, items []models.ReceiptItem) error {
	if err := validate.TagsOK(tags); err != nil {
		return err
	}
	if err := validate.CurrencyOK(currency); err != nil {
		return err
	}
	return validateItems(items)
}

func validateItems(items []models.ReceiptItem) error {
	for _, it := range items {
		if err := validate.ItemNameOK(it.Name); err != nil {
			return err
		}
	}
	return nil
}

func intParam(query map[string]string, key string, def int) int {
	if v := query[key]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
