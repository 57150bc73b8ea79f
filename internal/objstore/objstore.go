// Package objstore brokers access to the save-archive bucket. Archive bytes
// never pass through the broker: clients get short-lived presigned PUT/GET
// URLs and talk to the bucket directly. The only direct call the broker
// makes is HEAD, to confirm a claimed upload actually landed with the
// declared size.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectMissing is returned by Head when no object exists under the key.
var ErrObjectMissing = errors.New("objstore: object missing")

// PresignAPI is the subset of *s3.PresignClient the broker uses.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// HeadAPI is the subset of *s3.Client the broker uses directly.
type HeadAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Broker issues presigned URLs against one bucket.
type Broker struct {
	presign PresignAPI
	head    HeadAPI
	bucket  string
	ttl     time.Duration
}

// New builds a Broker from an S3 client.
func New(client *s3.Client, bucket string, ttl time.Duration) *Broker {
	return NewWithClients(s3.NewPresignClient(client), client, bucket, ttl)
}

// NewWithClients builds a Broker from explicit API implementations.
func NewWithClients(presign PresignAPI, head HeadAPI, bucket string, ttl time.Duration) *Broker {
	return &Broker{presign: presign, head: head, bucket: bucket, ttl: ttl}
}

// Key is the canonical object key for one save version. Ids are validated
// against a path-safe grammar before they reach this point.
func Key(userID, gameID, versionID string) string {
	return fmt.Sprintf("saves/%s/%s/%s.tar.zst", userID, gameID, versionID)
}

// PresignPut returns a time-boxed URL allowing a single PUT of the object.
func (b *Broker) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return req.URL, nil
}

// PresignGet returns a time-boxed URL allowing a single GET of the object.
func (b *Broker) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return req.URL, nil
}

// Head returns the stored object's size, or ErrObjectMissing.
func (b *Broker) Head(ctx context.Context, key string) (int64, error) {
	out, err := b.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return 0, ErrObjectMissing
		}
		return 0, fmt.Errorf("head %q: %w", key, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}
