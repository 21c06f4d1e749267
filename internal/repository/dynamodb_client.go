package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"papers-gateway/internal/domain"
)

const (
	attrEmail     = "email"
	attrIsAdmin   = "is_admin"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table of user records keyed by email.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func userKey(email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrEmail: &types.AttributeValueMemberS{Value: email},
	}
}

// FindUser looks up a user by exact email. A missing item is reported as
// found=false with a nil error.
func (c *Client) FindUser(ctx context.Context, email string) (domain.User, bool, error) {
	if email == "" {
		return domain.User{}, false, errors.New("repository: FindUser: email is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: FindUser get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, false, nil
	}
	user, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: FindUser decode: %w", err)
	}
	return user, true, nil
}

// UpsertUser writes the whole record with one unconditional PutItem, so an
// existing item is fully replaced and concurrent writers are last-write-wins.
func (c *Client) UpsertUser(ctx context.Context, user domain.User) error {
	if user.Email == "" {
		return errors.New("repository: UpsertUser: email is required")
	}
	now := c.now().UTC().Format(time.RFC3339)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			attrEmail:     &types.AttributeValueMemberS{Value: user.Email},
			attrIsAdmin:   &types.AttributeValueMemberBOOL{Value: user.IsAdmin},
			attrCreatedAt: &types.AttributeValueMemberS{Value: now},
			attrUpdatedAt: &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertUser: %w", err)
	}
	return nil
}

// itemToUser converts a DynamoDB attribute map to a User. A missing is_admin
// attribute reads as false.
func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	email, err := strAttr(item, attrEmail)
	if err != nil {
		return domain.User{}, err
	}
	isAdmin, err := boolAttr(item, attrIsAdmin)
	if err != nil {
		return domain.User{}, err
	}
	createdAt, _ := strAttr(item, attrCreatedAt) // allow empty
	updatedAt, _ := strAttr(item, attrUpdatedAt) // allow empty

	return domain.User{
		Email:     email,
		IsAdmin:   isAdmin,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}
