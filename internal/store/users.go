package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/savesync-app/backend/internal/model"
)

// DynamoUserStore keeps accounts in one table keyed by user_id and the
// email index in a second table keyed by email.
type DynamoUserStore struct {
	client     DynamoClient
	usersTable string
	indexTable string
}

// NewDynamoUserStore returns a UserStore backed by DynamoDB.
func NewDynamoUserStore(client DynamoClient, usersTable, indexTable string) *DynamoUserStore {
	return &DynamoUserStore{client: client, usersTable: usersTable, indexTable: indexTable}
}

// Create writes the account and its email-index row in one transaction.
// The index put is conditioned on the email being unindexed, which is what
// enforces email uniqueness. Transient transaction conflicts are retried a
// bounded number of times.
func (s *DynamoUserStore) Create(ctx context.Context, account *model.UserAccount) error {
	accountItem, err := attributevalue.MarshalMap(account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	indexItem, err := attributevalue.MarshalMap(model.EmailIndexEntry{
		Email:  account.Email,
		UserID: account.UserID,
	})
	if err != nil {
		return fmt.Errorf("marshal email index: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.usersTable),
				Item:                accountItem,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.indexTable),
				Item:                indexItem,
				ConditionExpression: aws.String("attribute_not_exists(email)"),
			}},
		},
	}

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		_, err := s.client.TransactWriteItems(ctx, input)
		if err == nil {
			return nil
		}
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return ErrEmailTaken
				}
			}
			// Pure transaction conflict: another writer touched the
			// same items. Worth another attempt.
			lastErr = err
			continue
		}
		return fmt.Errorf("create account: %w", err)
	}
	return fmt.Errorf("create account: %w", lastErr)
}

func (s *DynamoUserStore) Get(ctx context.Context, userID string) (*model.UserAccount, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.usersTable),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var account model.UserAccount
	if err := attributevalue.UnmarshalMap(out.Item, &account); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &account, nil
}

func (s *DynamoUserStore) GetByEmail(ctx context.Context, email string) (*model.UserAccount, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.indexTable),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get email index: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var entry model.EmailIndexEntry
	if err := attributevalue.UnmarshalMap(out.Item, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal email index: %w", err)
	}
	return s.Get(ctx, entry.UserID)
}
