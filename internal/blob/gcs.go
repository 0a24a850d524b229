package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSStore keeps attachments in a Cloud Storage bucket. Folders are object
// name prefixes below an optional root prefix.
type GCSStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	root       string
}

// NewGCSStore creates a store on bucket below rootPrefix.
func NewGCSStore(client *storage.Client, bucket, rootPrefix string) *GCSStore {
	return &GCSStore{
		bucket:     client.Bucket(bucket),
		bucketName: bucket,
		root:       strings.Trim(rootPrefix, "/"),
	}
}

func (s *GCSStore) parent(id string) string {
	if id == "" {
		return s.root
	}
	return id
}

func (s *GCSStore) folder(prefix string) Folder {
	return Folder{
		ID:   prefix,
		Link: fmt.Sprintf("https://console.cloud.google.com/storage/browser/%s/%s", s.bucketName, prefix),
	}
}

// EnsureFolder needs no request: a prefix exists once an object is written below it.
func (s *GCSStore) EnsureFolder(_ context.Context, parentID, name string) (Folder, error) {
	return s.folder(path.Join(s.parent(parentID), name)), nil
}

// CreateFolder returns a fresh prefix. A short random suffix keeps two emails
// with the same subject apart.
func (s *GCSStore) CreateFolder(_ context.Context, parentID, name string) (Folder, error) {
	suffix := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return s.folder(path.Join(s.parent(parentID), name+"-"+suffix)), nil
}

func (s *GCSStore) Upload(ctx context.Context, folderID, name string, data []byte) (File, error) {
	objectName := path.Join(s.parent(folderID), name)

	w := s.bucket.Object(objectName).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return File{}, fmt.Errorf("write %s: %w: %w", objectName, ErrUnavailable, err)
	}
	if err := w.Close(); err != nil {
		return File{}, fmt.Errorf("close %s: %w: %w", objectName, ErrUnavailable, err)
	}

	slog.Info("uploaded attachment", "attachment", name, "object", objectName)
	return File{
		ID:   objectName,
		Link: fmt.Sprintf("https://storage.cloud.google.com/%s/%s", s.bucketName, objectName),
	}, nil
}
