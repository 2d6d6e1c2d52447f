// Package gcs stores model and toolpath files in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/YelzhanWeb/printforge/internal/config"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

var ErrObjectTooLarge = errors.New("object exceeds size limit")

type Store struct {
	client  *storage.Client
	bucket  string
	baseURL *url.URL
}

func NewStore(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	store, err := newStore(client, cfg.Bucket, cfg.PublicBaseURL)
	if err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func newStore(client *storage.Client, bucket, baseURL string) (*Store, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid storage base url %q", baseURL)
	}
	return &Store{client: client, bucket: bucket, baseURL: base}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader) (interfaces.StoredObject, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"

	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return interfaces.StoredObject{}, fmt.Errorf("failed to copy to GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return interfaces.StoredObject{}, fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}

	return interfaces.StoredObject{Key: key, URL: s.ObjectURL(key), Size: n}, nil
}

// Get reads the whole object, refusing anything larger than maxBytes.
func (s *Store) Get(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, interfaces.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer r.Close()

	if maxBytes > 0 && r.Attrs.Size > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", key, r.Attrs.Size, ErrObjectTooLarge)
	}

	var src io.Reader = r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectTooLarge)
	}
	return data, nil
}

func (s *Store) Stat(ctx context.Context, key string) (interfaces.StoredObject, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return interfaces.StoredObject{}, fmt.Errorf("%s: %w", key, interfaces.ErrObjectNotFound)
		}
		return interfaces.StoredObject{}, fmt.Errorf("failed to stat GCS object %s: %w", key, err)
	}
	return interfaces.StoredObject{Key: key, URL: s.ObjectURL(key), Size: attrs.Size}, nil
}

// SignUpload returns a V4 POST policy that lets a browser upload exactly
// one object under key, no larger than maxBytes, before the ttl elapses.
func (s *Store) SignUpload(ctx context.Context, key string, maxBytes int64, ttl time.Duration) (domain.UploadCredential, error) {
	expires := time.Now().Add(ttl).UTC()

	conditions := []storage.PostPolicyV4Condition{}
	if maxBytes > 0 {
		conditions = append(conditions, storage.ConditionContentLengthRange(1, uint64(maxBytes)))
	}

	policy, err := s.client.Bucket(s.bucket).GenerateSignedPostPolicyV4(key, &storage.PostPolicyV4Options{
		Expires:    expires,
		Conditions: conditions,
	})
	if err != nil {
		return domain.UploadCredential{}, fmt.Errorf("failed to sign upload policy: %w", err)
	}

	cred := domain.UploadCredential{
		URL:       policy.URL,
		Fields:    policy.Fields,
		Signature: policy.Fields["x-goog-signature"],
		Folder:    path.Dir(key),
		Key:       key,
		Bucket:    s.bucket,
		AccessID:  accessID(policy.Fields["x-goog-credential"]),
		MaxBytes:  maxBytes,
		ExpiresAt: expires,
	}
	if ts, err := time.Parse("20060102T150405Z", policy.Fields["x-goog-date"]); err == nil {
		cred.Timestamp = ts.Unix()
	} else {
		cred.Timestamp = time.Now().Unix()
	}
	return cred, nil
}

// ObjectURL is the durable public URL of key.
func (s *Store) ObjectURL(key string) string {
	u := *s.baseURL
	u.Path = "/" + s.bucket + "/" + key
	return u.String()
}

// KeyFromURL returns the object key when rawURL points into this bucket
// under the configured origin. Anything else is refused.
func (s *Store) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, s.baseURL.Scheme) || !strings.EqualFold(u.Host, s.baseURL.Host) {
		return "", false
	}

	prefix := "/" + s.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, prefix)
	if key == "" || path.Clean("/"+key) != "/"+key {
		return "", false
	}
	return key, true
}

// accessID takes the signer's account out of an x-goog-credential value.
func accessID(credential string) string {
	id, _, _ := strings.Cut(credential, "/")
	return id
}
