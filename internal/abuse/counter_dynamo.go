package abuse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// UpdateItemAPI is the subset of *dynamodb.Client the counter store uses.
type UpdateItemAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoCounterStore keeps fixed-window counters in a shared DynamoDB
// table, for deployments running more than one broker instance. The item
// key embeds the window start, so each window is a fresh item; a TTL
// attribute lets DynamoDB reap old windows.
type DynamoCounterStore struct {
	client UpdateItemAPI
	table  string
	now    func() time.Time
}

// NewDynamoCounterStore returns a CounterStore backed by DynamoDB.
func NewDynamoCounterStore(client UpdateItemAPI, table string) *DynamoCounterStore {
	return &DynamoCounterStore{client: client, table: table, now: time.Now}
}

func (s *DynamoCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()
	windowStart := now.Truncate(window).Unix()
	itemKey := fmt.Sprintf("%s|%d", key, windowStart)
	ttl := now.Add(2 * window).Unix()

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"counter_key": &types.AttributeValueMemberS{Value: itemKey},
		},
		UpdateExpression: aws.String("ADD cnt :one SET expires_at = if_not_exists(expires_at, :ttl)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", itemKey, err)
	}

	attr, ok := out.Attributes["cnt"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter %q returned no count", itemKey)
	}
	count, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %q value %q: %w", itemKey, attr.Value, err)
	}
	return count, nil
}
