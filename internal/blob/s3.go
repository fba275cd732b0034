// Package blob stores dead letters as S3 objects.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dataproc/internal/app/ingest"
)

const contentType = "application/json"

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DeadLetterBucket writes one JSON object per letter under
// <prefix>/<queue>/dt=YYYY-MM-DD/<id>.json.
type DeadLetterBucket struct {
	client s3API
	bucket string
	prefix string
}

func NewDeadLetterBucket(client s3API, bucket, prefix string) (*DeadLetterBucket, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &DeadLetterBucket{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (b *DeadLetterBucket) key(l ingest.Letter) string {
	k := fmt.Sprintf("%s/dt=%s/%s.json", l.Queue, l.FailedAt.UTC().Format("2006-01-02"), l.ID)
	if b.prefix != "" {
		k = b.prefix + "/" + k
	}
	return k
}

func (b *DeadLetterBucket) Send(ctx context.Context, l ingest.Letter) error {
	if l.ID == "" {
		return errors.New("dead letter has no id")
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	key := b.key(l)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"kind":  string(l.Kind),
			"queue": l.Queue,
		},
	})
	if err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

var _ ingest.DeadLetters = (*DeadLetterBucket)(nil)
