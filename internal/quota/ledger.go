// Package quota implements the per-user image quota ledger on DynamoDB.
//
// The ledger owns the users table: image_count is only ever mutated
// through Reserve, Release, and Reconcile, each an atomic conditional
// update so concurrent callers for the same user are linearized by the
// backend.
package quota

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/paperglass/receipt-search-backend/internal/apperr"
	"github.com/paperglass/receipt-search-backend/internal/models"
)

// reserveAttempts bounds the compare-and-set loop under contention.
const reserveAttempts = 5

// Defaults carries the role-default quotas applied when a user row is
// first created.
type Defaults struct {
	Free int
	Paid int
}

func (d Defaults) forRole(role models.UserRole) int {
	switch role {
	case models.RolePaid, models.RoleAdmin:
		return d.Paid
	default:
		return d.Free
	}
}

// Ledger wraps a DynamoDB client and table name for quota operations.
type Ledger struct {
	DB       *dynamodb.Client
	Table    string
	Defaults Defaults
}

type userItem struct {
	UserID       string `dynamodbav:"user_id"`
	Email        string `dynamodbav:"email,omitempty"`
	Role         string `dynamodbav:"role"`
	ImageCount   int    `dynamodbav:"image_count"`
	ImageQuota   int    `dynamodbav:"image_quota"`
	LastActiveAt string `dynamodbav:"last_active_at,omitempty"`
}

func fromUserItem(it userItem) models.User {
	u := models.User{
		UserID:     it.UserID,
		Email:      it.Email,
		Role:       models.UserRole(it.Role),
		ImageCount: it.ImageCount,
		ImageQuota: it.ImageQuota,
	}
	if it.LastActiveAt != "" {
		if t, err := time.Parse(time.RFC3339, it.LastActiveAt); err == nil {
			t = t.UTC()
			u.LastActiveAt = &t
		}
	}
	return u
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

// GetUser fetches the ledger row for userID.
func (l *Ledger) GetUser(ctx context.Context, userID string) (*models.User, error) {
	out, err := l.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &l.Table,
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if out.Item == nil {
		return nil, apperr.ErrNotFound
	}
	var it userItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	u := fromUserItem(it)
	return &u, nil
}

// EnsureUser creates the ledger row on first sight with the role
// default quota. Existing rows are left untouched.
func (l *Ledger) EnsureUser(ctx context.Context, userID, email string, role models.UserRole) (*models.User, error) {
	item, err := attributevalue.MarshalMap(userItem{
		UserID:       userID,
		Email:        email,
		Role:         string(role),
		ImageCount:   0,
		ImageQuota:   l.Defaults.forRole(role),
		LastActiveAt: nowISO(),
	})
	if err != nil {
		return nil, err
	}
	_, err = l.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &l.Table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(user_id)"),
	})
	if err != nil && !isConditionalFail(err) {
		return nil, apperr.Transient(err)
	}
	return l.GetUser(ctx, userID)
}

// Reserve atomically increments image_count by n iff the result stays
// within image_quota. Fails with apperr.ErrQuotaExceeded otherwise, and
// fails closed on backend errors.
//
// DynamoDB condition expressions cannot compare two attributes with
// arithmetic, so the increment is a bounded compare-and-set loop keyed
// on the observed count.
func (l *Ledger) Reserve(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		u, err := l.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !u.CanUpload(n) {
			return apperr.ErrQuotaExceeded
		}
		_, err = l.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           &l.Table,
			Key:                 userKey(userID),
			UpdateExpression:    aws.String("SET image_count = :new, last_active_at = :now"),
			ConditionExpression: aws.String("image_count = :old"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":new": numAttr(u.ImageCount + n),
				":old": numAttr(u.ImageCount),
				":now": &types.AttributeValueMemberS{Value: nowISO()},
			},
		})
		if err == nil {
			return nil
		}
		if !isConditionalFail(err) {
			return apperr.Transient(err)
		}
		// Lost the race; re-read and retry.
	}
	return apperr.Transient(errors.New("quota reserve contention"))
}

// Release atomically decrements image_count by n, floored at zero.
// Duplicate releases during retries are safe.
func (l *Ledger) Release(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	for attempt := 0; attempt < 3; attempt++ {
		_, err := l.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           &l.Table,
			Key:                 userKey(userID),
			UpdateExpression:    aws.String("SET image_count = image_count - :n, last_active_at = :now"),
			ConditionExpression: aws.String("image_count >= :n"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":n":   numAttr(n),
				":now": &types.AttributeValueMemberS{Value: nowISO()},
			},
		})
		if err == nil {
			return nil
		}
		if !isConditionalFail(err) {
			return apperr.Transient(err)
		}

		// Fewer than n reserved: floor at zero instead of going negative.
		_, err = l.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           &l.Table,
			Key:                 userKey(userID),
			UpdateExpression:    aws.String("SET image_count = :zero, last_active_at = :now"),
			ConditionExpression: aws.String("image_count < :n"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":zero": numAttr(0),
				":n":    numAttr(n),
				":now":  &types.AttributeValueMemberS{Value: nowISO()},
			},
		})
		if err == nil {
			return nil
		}
		if !isConditionalFail(err) {
			return apperr.Transient(err)
		}
		// A concurrent reserve moved the count between the two
		// attempts; try the plain decrement again.
	}
	return apperr.Transient(errors.New("quota release contention"))
}

// Available returns max(0, image_quota - image_count).
func (l *Ledger) Available(ctx context.Context, userID string) (int, error) {
	u, err := l.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.AvailableQuota(), nil
}

// Touch refreshes the user's last_active_at timestamp.
func (l *Ledger) Touch(ctx context.Context, userID string) error {
	_, err := l.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &l.Table,
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET last_active_at = :now"),
		ConditionExpression: aws.String("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: nowISO()},
		},
	})
	if isConditionalFail(err) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// Reconcile overwrites image_count with the true non-deleted receipt
// count, repairing drift accumulated from dropped releases.
func (l *Ledger) Reconcile(ctx context.Context, userID string, trueCount int) error {
	if trueCount < 0 {
		trueCount = 0
	}
	_, err := l.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &l.Table,
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET image_count = :c"),
		ConditionExpression: aws.String("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": numAttr(trueCount),
		},
	})
	if isConditionalFail(err) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// ListUsers scans all ledger rows. Used by the reconciliation sweep.
func (l *Ledger) ListUsers(ctx context.Context) ([]models.User, error) {
	var (
		users    []models.User
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := l.DB.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &l.Table,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, apperr.Transient(err)
		}
		for _, item := range out.Items {
			var it userItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, err
			}
			users = append(users, fromUserItem(it))
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return users, nil
}

// ListInactiveFree returns free-tier users whose last activity is older
// than cutoff.
func (l *Ledger) ListInactiveFree(ctx context.Context, cutoff time.Time) ([]models.User, error) {
	users, err := l.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var inactive []models.User
	for _, u := range users {
		if u.Role != models.RoleFree {
			continue
		}
		if u.LastActiveAt != nil && u.LastActiveAt.Before(cutoff) {
			inactive = append(inactive, u)
		}
	}
	return inactive, nil
}

func numAttr(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func isConditionalFail(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
