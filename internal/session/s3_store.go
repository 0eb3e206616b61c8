package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the slice of the S3 client needed by the session store.
// *s3.Client satisfies it.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store persists session documents as objects under
// s3://<bucket>/<prefix><id>.json. Puts of a whole object are atomic on
// S3, so a save either lands completely or not at all.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// S3StoreOption configures an S3Store.
type S3StoreOption func(*S3Store)

// WithKeyPrefix sets the object key prefix (default "sessions/").
func WithKeyPrefix(prefix string) S3StoreOption {
	return func(s *S3Store) { s.prefix = prefix }
}

// NewS3Store creates an S3-backed session store.
func NewS3Store(client S3API, bucket string, opts ...S3StoreOption) *S3Store {
	s := &S3Store{
		client: client,
		bucket: bucket,
		prefix: "sessions/",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectS3 builds a store from the ambient AWS configuration
// (environment, shared config, instance role).
func ConnectS3(ctx context.Context, bucket string, opts ...S3StoreOption) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, opts...), nil
}

func (s *S3Store) key(id string) string {
	return s.prefix + id + ".json"
}

// Save writes the full history and metadata for a session.
func (s *S3Store) Save(ctx context.Context, id string, history []Message, meta Metadata) error {
	data, err := json.Marshal(newDocument(id, history, meta))
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

// Load retrieves a session document, or nil if none exists. An object
// that no longer parses reads as absent.
func (s *S3Store) Load(ctx context.Context, id string) (*Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil
	}
	return &doc, nil
}

// Delete removes a session object, reporting whether one was removed.
// S3 deletes are blind, so existence is checked first.
func (s *S3Store) Delete(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head session %s: %w", id, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return true, nil
}

// List returns the IDs of all persisted sessions.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ".json"))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return ids, nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}
