// Package ddb implements the receipt record store on DynamoDB.
//
// Table layout: partition key receipt_id, GSI user-id-index on user_id,
// GSI image-id-index on image_id. Soft-deleted records stay in the
// table and are excluded from normal reads.
package ddb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/models"
)

// Index names on the receipts table.
const (
	UserIndex  = "user-id-index"
	ImageIndex = "image-id-index"
)

// Repo wraps a DynamoDB client and table name for receipt operations.
type Repo struct {
	DB    *dynamodb.Client
	Table string
}

// NowISO returns the current time in ISO8601 format.
func NowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// awsStr is a helper to get a pointer to a string literal.
func awsStr(s string) *string { return &s }

// Save inserts a new record, failing with apperr.ErrDuplicate if the
// receipt_id already exists.
func (r *Repo) Save(ctx context.Context, rec models.Receipt) error {
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return err
	}
	_, err = r.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.Table,
		Item:                item,
		ConditionExpression: awsStr("attribute_not_exists(receipt_id)"),
	})
	if isConditionalFail(err) {
		return apperr.ErrDuplicate
	}
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// Get fetches a record by id. Soft-deleted records are reported as not
// found unless includeDeleted is set.
func (r *Repo) Get(ctx context.Context, receiptID string, includeDeleted bool) (*models.Receipt, error) {
	out, err := r.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &r.Table,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if out.Item == nil {
		return nil, apperr.ErrNotFound
	}
	rec, err := unmarshalReceipt(out.Item)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted && !includeDeleted {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

// GetByImageID fetches the record created for an uploaded image.
func (r *Repo) GetByImageID(ctx context.Context, imageID string) (*models.Receipt, error) {
	out, err := r.DB.Query(ctx, &dynamodb.QueryInput{
		TableName:              &r.Table,
		IndexName:              awsStr(ImageIndex),
		KeyConditionExpression: awsStr("image_id = :image_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":image_id": &types.AttributeValueMemberS{Value: imageID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if len(out.Items) == 0 {
		return nil, apperr.ErrNotFound
	}
	rec, err := unmarshalReceipt(out.Items[0])
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

// Update persists all mutable fields of rec, bumping version and
// updated_at. The write is rejected with apperr.ErrVersionConflict when
// expectedVersion no longer matches the stored record.
func (r *Repo) Update(ctx context.Context, rec models.Receipt, expectedVersion int) (*models.Receipt, error) {
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return nil, err
	}
	_, err = r.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.Table,
		Item:                item,
		ConditionExpression: awsStr("attribute_exists(receipt_id) AND version = :v AND is_deleted = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.Itoa(expectedVersion)},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if isConditionalFail(err) {
		// Distinguish a stale version from a missing or deleted record.
		if _, gerr := r.Get(ctx, rec.ReceiptID, false); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.ErrVersionConflict
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return &rec, nil
}

// SoftDelete marks the record deleted. Returns changed=false without
// error when the record was already deleted. Missing records fail with
// apperr.ErrNotFound.
func (r *Repo) SoftDelete(ctx context.Context, receiptID string) (bool, error) {
	rec, err := r.Get(ctx, receiptID, true)
	if err != nil {
		return false, err
	}
	if rec.IsDeleted {
		return false, nil
	}
	_, err = r.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &r.Table,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
		UpdateExpression:    awsStr("SET is_deleted = :t, updated_at = :now ADD version :one"),
		ConditionExpression: awsStr("is_deleted = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberBOOL{Value: true},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": &types.AttributeValueMemberS{Value: NowISO()},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if isConditionalFail(err) {
		// Raced with another delete; already in the desired state.
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient(err)
	}
	return true, nil
}

// HardDelete removes the record entirely. Used only by the
// administrative cleanup sweep.
func (r *Repo) HardDelete(ctx context.Context, receiptID string) error {
	_, err := r.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &r.Table,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
	})
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// ListByUser returns the user's non-deleted receipts, newest first, and
// the total count before pagination.
func (r *Repo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Receipt, int, error) {
	all, err := r.queryUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= len(all) {
		return []models.Receipt{}, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// CountByUser returns the number of non-deleted receipts owned by userID.
func (r *Repo) CountByUser(ctx context.Context, userID string) (int, error) {
	all, err := r.queryUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// queryUser pages through the user index, dropping soft-deleted records.
func (r *Repo) queryUser(ctx context.Context, userID string) ([]models.Receipt, error) {
	var (
		receipts []models.Receipt
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.DB.Query(ctx, &dynamodb.QueryInput{
			TableName:              &r.Table,
			IndexName:              awsStr(UserIndex),
			KeyConditionExpression: awsStr("user_id = :user_id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":user_id": &types.AttributeValueMemberS{Value: userID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, apperr.Transient(err)
		}
		for _, item := range out.Items {
			rec, err := unmarshalReceipt(item)
			if err != nil {
				return nil, err
			}
			if !rec.IsDeleted {
				receipts = append(receipts, *rec)
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return receipts, nil
}

func unmarshalReceipt(item map[string]types.AttributeValue) (*models.Receipt, error) {
	var it receiptItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, err
	}
	rec := fromItem(it)
	return &rec, nil
}

func isConditionalFail(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
