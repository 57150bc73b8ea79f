package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/savesync-app/backend/internal/model"
)

// DynamoDeviceStore keeps one DevicesEntry document per user.
type DynamoDeviceStore struct {
	client DynamoClient
	table  string
	now    func() time.Time
}

// NewDynamoDeviceStore returns a DeviceStore backed by DynamoDB.
func NewDynamoDeviceStore(client DynamoClient, table string) *DynamoDeviceStore {
	return &DynamoDeviceStore{client: client, table: table, now: time.Now}
}

func (s *DynamoDeviceStore) load(ctx context.Context, userID string) (*model.DevicesEntry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get devices: %w", err)
	}
	entry := &model.DevicesEntry{UserID: userID}
	if out.Item != nil {
		if err := attributevalue.UnmarshalMap(out.Item, entry); err != nil {
			return nil, fmt.Errorf("unmarshal devices: %w", err)
		}
	}
	return entry, nil
}

func (s *DynamoDeviceStore) save(ctx context.Context, entry *model.DevicesEntry) error {
	entry.UpdatedAt = s.now().Unix()
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal devices: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put devices: %w", err)
	}
	return nil
}

// Upsert replaces the record matching rec.DeviceID or appends a new one,
// stamping last_seen with the current time.
func (s *DynamoDeviceStore) Upsert(ctx context.Context, userID string, rec model.DeviceRecord) (*model.DeviceRecord, error) {
	entry, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec.LastSeen = s.now().Unix()
	replaced := false
	for i := range entry.Devices {
		if entry.Devices[i].DeviceID == rec.DeviceID {
			entry.Devices[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		entry.Devices = append(entry.Devices, rec)
	}
	if err := s.save(ctx, entry); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *DynamoDeviceStore) List(ctx context.Context, userID string) ([]model.DeviceRecord, error) {
	entry, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry.Devices == nil {
		return []model.DeviceRecord{}, nil
	}
	return entry.Devices, nil
}

// Touch stamps last_seen on the device, inserting a minimal record when
// the device has never been registered.
func (s *DynamoDeviceStore) Touch(ctx context.Context, userID, deviceID string) error {
	entry, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	now := s.now().Unix()
	found := false
	for i := range entry.Devices {
		if entry.Devices[i].DeviceID == deviceID {
			entry.Devices[i].LastSeen = now
			found = true
			break
		}
	}
	if !found {
		entry.Devices = append(entry.Devices, model.DeviceRecord{
			DeviceID:   deviceID,
			Platform:   "unknown",
			DeviceName: "Unknown Device",
			LastSeen:   now,
		})
	}
	return s.save(ctx, entry)
}

func (s *DynamoDeviceStore) Remove(ctx context.Context, userID, deviceID string) error {
	entry, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	kept := entry.Devices[:0]
	found := false
	for _, d := range entry.Devices {
		if d.DeviceID == deviceID {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return ErrNotFound
	}
	entry.Devices = kept
	return s.save(ctx, entry)
}
