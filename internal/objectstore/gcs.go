// Package objectstore adapts cloud.google.com/go/storage into the small
// surface the manifest service, archive/rollback service, and website
// stage worker need: list/copy/delete blobs, check existence, download, and
// read/write small text blobs (manifests). There is no move or rename
// operation. Adapted from this codebase's existing GCS
// bucket service, narrowed to a single configured bucket since this
// system, unlike its ancestor, has no per-tenant bucket routing.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Store interface {
	ReadBlob(ctx context.Context, key string) ([]byte, error)
	WriteBlob(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	CopyBlob(ctx context.Context, srcKey, dstKey string) error
	DeleteBlob(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

type gcsStore struct {
	client *storage.Client
	bucket string
}

// New opens a storage.Client credentialed from the service-account
// document at credentialsFile and binds it to one bucket.
func New(ctx context.Context, credentialsFile, bucket string) (Store, error) {
	client, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("opening GCS client: %w", err)
	}
	return &gcsStore{client: client, bucket: bucket}, nil
}

func (s *gcsStore) obj(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

func (s *gcsStore) ReadBlob(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	r, err := s.obj(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading blob %q: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *gcsStore) WriteBlob(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.obj(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing blob %q: %w", key, err)
	}
	return w.Close()
}

func (s *gcsStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.obj(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking blob %q: %w", key, err)
	}
	return true, nil
}

func (s *gcsStore) CopyBlob(ctx context.Context, srcKey, dstKey string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	_, err := s.obj(dstKey).CopierFrom(s.obj(srcKey)).Run(ctx)
	if err != nil {
		return fmt.Errorf("copying %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *gcsStore) DeleteBlob(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.obj(key).Delete(ctx); err != nil {
		return fmt.Errorf("deleting blob %q: %w", key, err)
	}
	return nil
}

func (s *gcsStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing prefix %q: %w", prefix, err)
		}
		out = append(out, attrs.Name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *gcsStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.obj(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening reader for %q: %w", key, err)
	}
	return r, nil
}

// JoinKey joins GCS object-key segments with the forward-slash separator
// GCS always uses regardless of host OS.
func JoinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
