// storage.go - Object-storage adapter for exam and diagnosis files.
//
// Sniffs the MIME type from the payload itself (never trusts the client
// header), stores accepted files privately under a random key, and mints
// short-lived presigned download links.
package server

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const (
	keyPrefix = "uploads/"
	sniffLen  = 512
	// linkTTL bounds how long a presigned download URL stays valid.
	linkTTL = 30 * time.Second
	// storeTimeout bounds a single upload to the object store.
	storeTimeout = 5 * time.Minute
)

// allowedMIMEs maps the accepted content types to their storage-key
// extensions. Anything else is rejected before a single byte is written.
var allowedMIMEs = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"application/pdf": ".pdf",
}

// UnsupportedMediaTypeError reports a sniffed MIME type outside the
// allowed set.
type UnsupportedMediaTypeError struct {
	Detected string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return "file type not allowed: " + e.Detected
}

// objectStorage is what the handlers need from the storage layer.
// *ObjectStore implements it; tests substitute fakes.
type objectStorage interface {
	Store(ctx context.Context, file io.ReadSeeker, size int64) (string, error)
	LinkFor(ctx context.Context, key string) (string, error)
}

// objectAPI is the slice of the MinIO client the adapter uses.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// ObjectStore adapts a MinIO client to the upload/download contract.
type ObjectStore struct {
	client objectAPI
	bucket string
}

func NewObjectStore(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Store sniffs the payload's MIME type from its first bytes, rejects
// anything outside allowedMIMEs, rewinds the stream and uploads the full
// payload under "uploads/<32-hex>.<ext>" with the detected content type.
// Returns the storage key. A rejected file never reaches the store; a
// transport failure after acceptance surfaces wrapped, with the object
// possibly absent. No retries.
func (s *ObjectStore) Store(ctx context.Context, file io.ReadSeeker, size int64) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read file head: %w", err)
	}

	mimeType := http.DetectContentType(head[:n])
	if i := strings.Index(mimeType, ";"); i > 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	ext, ok := allowedMIMEs[mimeType]
	if !ok {
		return "", &UnsupportedMediaTypeError{Detected: mimeType}
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload stream: %w", err)
	}

	uid := uuid.New()
	key := keyPrefix + hex.EncodeToString(uid[:]) + ext

	_, err = s.client.PutObject(ctx, s.bucket, key, file, size, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("storage write failed: %w", err)
	}

	return key, nil
}

// LinkFor mints a presigned GET URL for key, valid for linkTTL and
// forcing an attachment disposition named after the key's filename.
// Links are never cached; every call signs a fresh one.
func (s *ObjectStore) LinkFor(ctx context.Context, key string) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, linkTTL, params)
	if err != nil {
		return "", fmt.Errorf("storage link failed: %w", err)
	}
	return u.String(), nil
}
