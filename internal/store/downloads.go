package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/savesync-app/backend/internal/model"
)

// DynamoDownloadLog appends download-tracking entries. Failures are the
// caller's problem to swallow; issuing the download URL never depends on
// this write.
type DynamoDownloadLog struct {
	client DynamoClient
	table  string
}

// NewDynamoDownloadLog returns a DownloadLog backed by DynamoDB.
func NewDynamoDownloadLog(client DynamoClient, table string) *DynamoDownloadLog {
	return &DynamoDownloadLog{client: client, table: table}
}

func (l *DynamoDownloadLog) Record(ctx context.Context, entry model.DownloadLogEntry) error {
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal download log entry: %w", err)
	}
	if _, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put download log entry: %w", err)
	}
	return nil
}
