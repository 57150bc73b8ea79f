package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/savesync-app/backend/internal/model"
)

// DynamoSaveStore keeps one UserSaveMetadata document per user. Writes are
// conditional on the doc_version read at load time, so two notify-upload
// calls racing on the same user cannot overwrite each other's entries; the
// loser reloads and retries.
type DynamoSaveStore struct {
	client DynamoClient
	table  string
}

// NewDynamoSaveStore returns a SaveStore backed by DynamoDB.
func NewDynamoSaveStore(client DynamoClient, table string) *DynamoSaveStore {
	return &DynamoSaveStore{client: client, table: table}
}

func (s *DynamoSaveStore) Get(ctx context.Context, userID string) (*model.UserSaveMetadata, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get save metadata: %v", ErrLoadFailed, err)
	}
	meta := &model.UserSaveMetadata{UserID: userID}
	if out.Item != nil {
		if err := attributevalue.UnmarshalMap(out.Item, meta); err != nil {
			return nil, fmt.Errorf("%w: unmarshal save metadata: %v", ErrCorrupted, err)
		}
	}
	return meta, nil
}

// PutVersion loads the document, swaps in the entry, and writes back
// conditionally. DocVersion 0 means the document has never been written.
func (s *DynamoSaveStore) PutVersion(ctx context.Context, userID string, entry model.SaveVersionEntry) error {
	for attempt := 0; attempt < writeAttempts; attempt++ {
		meta, err := s.Get(ctx, userID)
		if err != nil {
			return err
		}
		loaded := meta.DocVersion
		MergeVersion(meta, entry)
		meta.DocVersion = loaded + 1

		item, err := attributevalue.MarshalMap(meta)
		if err != nil {
			return fmt.Errorf("marshal save metadata: %w", err)
		}

		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		}
		if loaded == 0 {
			input.ConditionExpression = aws.String("attribute_not_exists(user_id)")
		} else {
			input.ConditionExpression = aws.String("doc_version = :v")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(loaded, 10)},
			}
		}

		_, err = s.client.PutItem(ctx, input)
		if err == nil {
			return nil
		}
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			// Lost the race; reload and retry.
			continue
		}
		return fmt.Errorf("put save metadata: %w", err)
	}
	return ErrConflict
}

func (s *DynamoSaveStore) FindVersion(ctx context.Context, userID, gameID, versionID string) (*model.SaveVersionEntry, error) {
	meta, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range meta.Versions {
		v := &meta.Versions[i]
		if v.GameID == gameID && v.VersionID == versionID {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

// MergeVersion removes any prior entry with the same version id, prepends
// the new entry, and re-sorts descending by timestamp. Shared with the
// in-memory store so both implementations keep the same list invariant.
func MergeVersion(meta *model.UserSaveMetadata, entry model.SaveVersionEntry) {
	kept := meta.Versions[:0]
	for _, v := range meta.Versions {
		if v.VersionID != entry.VersionID {
			kept = append(kept, v)
		}
	}
	meta.Versions = append([]model.SaveVersionEntry{entry}, kept...)
	sort.SliceStable(meta.Versions, func(i, j int) bool {
		return meta.Versions[i].Timestamp > meta.Versions[j].Timestamp
	})
}
