package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveStore keeps attachments in Google Drive below a root folder.
type DriveStore struct {
	srv    *drive.Service
	rootID string
}

// NewDriveStore connects to Drive using the given client options.
func NewDriveStore(ctx context.Context, rootFolderID string, opts ...option.ClientOption) (*DriveStore, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}
	return NewDriveStoreWithService(srv, rootFolderID), nil
}

// NewDriveStoreWithService wraps an existing Drive service.
func NewDriveStoreWithService(srv *drive.Service, rootFolderID string) *DriveStore {
	return &DriveStore{srv: srv, rootID: rootFolderID}
}

func (s *DriveStore) parent(id string) string {
	if id == "" {
		return s.rootID
	}
	return id
}

func (s *DriveStore) EnsureFolder(ctx context.Context, parentID, name string) (Folder, error) {
	parentID = s.parent(parentID)

	list, err := s.srv.Files.List().
		Q(folderQuery(parentID, name)).
		Fields("files(id, webViewLink)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(1).
		Context(ctx).Do()
	if err != nil {
		return Folder{}, fmt.Errorf("find folder %q: %w: %w", name, ErrUnavailable, err)
	}
	if len(list.Files) > 0 {
		return Folder{ID: list.Files[0].Id, Link: list.Files[0].WebViewLink}, nil
	}
	return s.CreateFolder(ctx, parentID, name)
}

func (s *DriveStore) CreateFolder(ctx context.Context, parentID, name string) (Folder, error) {
	f, err := s.srv.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{s.parent(parentID)},
	}).Fields("id, webViewLink").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return Folder{}, fmt.Errorf("create folder %q: %w: %w", name, ErrUnavailable, err)
	}
	slog.Debug("created Drive folder", "folder", name, "id", f.Id)
	return Folder{ID: f.Id, Link: f.WebViewLink}, nil
}

func (s *DriveStore) Upload(ctx context.Context, folderID, name string, data []byte) (File, error) {
	f, err := s.srv.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{s.parent(folderID)},
	}).
		Media(bytes.NewReader(data), googleapi.ContentType("application/octet-stream")).
		Fields("id, webViewLink").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return File{}, fmt.Errorf("upload %q: %w: %w", name, ErrUnavailable, err)
	}
	slog.Info("uploaded attachment", "attachment", name, "file_id", f.Id)
	return File{ID: f.Id, Link: f.WebViewLink}, nil
}

// folderQuery builds the Drive search for a non-trashed child folder.
func folderQuery(parentID, name string) string {
	return fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
