// Package store persists accounts, devices, and save-version metadata in
// DynamoDB. Device lists and save metadata are whole per-user documents
// read and written as a unit; the save document carries an optimistic
// concurrency counter so concurrent notify-upload calls cannot silently
// drop each other's writes.
package store

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/savesync-app/backend/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrEmailTaken is returned when an account with the email already exists.
	ErrEmailTaken = errors.New("store: email already registered")
	// ErrConflict is returned when optimistic-concurrency retries are exhausted.
	ErrConflict = errors.New("store: write conflict")
	// ErrLoadFailed marks read-side failures so handlers can report loads
	// and writes distinctly.
	ErrLoadFailed = errors.New("store: load failed")
	// ErrCorrupted marks a stored document that no longer unmarshals.
	ErrCorrupted = errors.New("store: document corrupted")
)

// writeAttempts bounds retries for conditional writes and transactions.
const writeAttempts = 3

// DynamoClient is the subset of *dynamodb.Client the stores use.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// UserStore owns account records and the email index.
type UserStore interface {
	// Create persists a new account and its email-index row atomically.
	// Returns ErrEmailTaken when the email is already indexed.
	Create(ctx context.Context, account *model.UserAccount) error
	Get(ctx context.Context, userID string) (*model.UserAccount, error)
	GetByEmail(ctx context.Context, email string) (*model.UserAccount, error)
}

// DeviceStore owns the per-user device documents.
type DeviceStore interface {
	// Upsert replaces or appends the record with rec.DeviceID, stamping
	// last_seen. Device ids are unique within a user's list.
	Upsert(ctx context.Context, userID string, rec model.DeviceRecord) (*model.DeviceRecord, error)
	List(ctx context.Context, userID string) ([]model.DeviceRecord, error)
	// Remove deletes the record; ErrNotFound when absent.
	Remove(ctx context.Context, userID, deviceID string) error
	// Touch stamps last_seen on an authenticated request that carries a
	// device id, creating a minimal record when the device is unknown.
	Touch(ctx context.Context, userID, deviceID string) error
}

// SaveStore owns the per-user save-version documents.
type SaveStore interface {
	Get(ctx context.Context, userID string) (*model.UserSaveMetadata, error)
	// PutVersion replaces any entry with the same version id, keeps the
	// list sorted descending by timestamp, and writes conditionally on the
	// document version loaded at read time, retrying a bounded number of
	// times before giving up with ErrConflict.
	PutVersion(ctx context.Context, userID string, entry model.SaveVersionEntry) error
	// FindVersion returns the entry for (gameID, versionID); ErrNotFound
	// when no such version was ever recorded.
	FindVersion(ctx context.Context, userID, gameID, versionID string) (*model.SaveVersionEntry, error)
}

// DownloadLog records issued download URLs. Callers treat failures as
// best-effort: log and move on.
type DownloadLog interface {
	Record(ctx context.Context, entry model.DownloadLogEntry) error
}
