package supabase

import (
	"bytes"
	"fmt"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// Storage uploads artifacts and mints expiring signed URLs against Supabase
// object storage buckets.
type Storage struct{ Client *supa.Client }

func NewStorage(c *supa.Client) *Storage { return &Storage{Client: c} }

// Upload stores data under bucket/path with the given content type.
func (s *Storage) Upload(ctx domain.Context, bucket, path string, data []byte, contentType string) error {
	tracer := otel.Tracer("repo.storage")
	_, span := tracer.Start(ctx, "storage.Upload")
	defer span.End()

	opts := storage_go.FileOptions{}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	if _, err := s.Client.Storage.UploadFile(bucket, path, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("op=storage.upload: %w", err)
	}
	return nil
}

// SignedURL mints a download URL valid for ttl.
func (s *Storage) SignedURL(ctx domain.Context, bucket, path string, ttl time.Duration) (string, error) {
	tracer := otel.Tracer("repo.storage")
	_, span := tracer.Start(ctx, "storage.SignedURL")
	defer span.End()

	resp, err := s.Client.Storage.CreateSignedUrl(bucket, path, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("op=storage.signed_url: %w", err)
	}
	return resp.SignedURL, nil
}
