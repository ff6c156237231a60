// Package gcs provides a document store backed by Google Cloud Storage: one
// JSON object per document under an optional prefix.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/topical-search/internal/storage"
)

// Config captures the bucket and object prefix documents are written under.
type Config struct {
	Bucket string
	Prefix string
}

// Bucket is the object API the store needs.
type Bucket interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ClientBucket implements Bucket with a *gcs.Client.
type ClientBucket struct {
	client *gcs.Client
	bucket string
}

// NewClientBucket wraps client for one bucket.
func NewClientBucket(client *gcs.Client, bucket string) (*ClientBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ClientBucket{client: client, bucket: bucket}, nil
}

// Put uploads data as a JSON object.
func (b *ClientBucket) Put(ctx context.Context, name string, data []byte) error {
	writer := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Get downloads an object.
func (b *ClientBucket) Get(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

// List returns the names of objects under prefix.
func (b *ClientBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
}

// Close closes the underlying client.
func (b *ClientBucket) Close() error {
	return b.client.Close()
}

// Store persists documents as GCS objects.
type Store struct {
	bucket Bucket
	prefix string
	seq    *storage.Sequence
	logger *zap.Logger
}

// New verifies the bucket is reachable and opens a store on it.
// Authentication is handled by the client (Application Default Credentials).
func New(ctx context.Context, client *gcs.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	bucket, err := NewClientBucket(client, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err)
	}
	return NewWithBucket(ctx, bucket, cfg.Prefix, logger)
}

// NewWithBucket opens a store on an existing Bucket and resumes the id
// sequence from the highest object already present.
func NewWithBucket(ctx context.Context, bucket Bucket, prefix string, logger *zap.Logger) (*Store, error) {
	if bucket == nil {
		return nil, fmt.Errorf("bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	s := &Store{bucket: bucket, prefix: prefix, logger: logger}
	ids, err := s.listIDs(ctx)
	if err != nil {
		return nil, err
	}
	next := int64(0)
	if len(ids) > 0 {
		next = ids[len(ids)-1] + 1
	}
	s.seq = storage.NewSequence(next)
	return s, nil
}

func (s *Store) listIDs(ctx context.Context) ([]int64, error) {
	names, err := s.bucket.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		if id, ok := storage.ParseObjectName(strings.TrimPrefix(name, s.prefix)); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Save uploads the record under the next id.
func (s *Store) Save(ctx context.Context, url, text string) (int64, error) {
	id := s.seq.Next()
	rec, err := storage.NewRecord(id, url, text, time.Now())
	if err != nil {
		return 0, err
	}
	data, err := rec.Encode()
	if err != nil {
		return 0, err
	}
	if err := s.bucket.Put(ctx, s.prefix+storage.ObjectName(id), data); err != nil {
		return 0, fmt.Errorf("upload document %d: %w", id, err)
	}
	return id, nil
}

// LoadAll downloads every document object. Unreadable objects are skipped
// and reported in the joined error.
func (s *Store) LoadAll(ctx context.Context) ([]storage.Record, error) {
	ids, err := s.listIDs(ctx)
	if err != nil {
		return nil, err
	}
	var (
		records []storage.Record
		errs    []error
	)
	for _, id := range ids {
		name := s.prefix + storage.ObjectName(id)
		data, err := s.bucket.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rec, err := storage.DecodeRecord(data)
		if err == nil && rec.ID != id {
			err = fmt.Errorf("%w: id %d does not match object name", storage.ErrMalformedRecord, rec.ID)
		}
		if err != nil {
			s.logger.Warn("skipping unreadable document", zap.String("object", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("decode %s: %w", name, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

// NextID returns the id the next Save will assign.
func (s *Store) NextID(context.Context) (int64, error) {
	return s.seq.Peek(), nil
}

// Close closes the bucket client.
func (s *Store) Close() error {
	return s.bucket.Close()
}
