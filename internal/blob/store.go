// Package blob keeps the original attachment files, one folder per invoice
// month and one subfolder per email.
package blob

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrUnavailable wraps every blob backend failure.
var ErrUnavailable = errors.New("blob store unavailable")

// Folder is a container for uploaded files.
type Folder struct {
	ID   string
	Link string // human-browsable URL
}

// File is an uploaded attachment.
type File struct {
	ID   string
	Link string
}

// Store holds uploaded attachments. An empty parentID means the store's root.
type Store interface {
	// EnsureFolder returns the named child of parentID, creating it if needed.
	EnsureFolder(ctx context.Context, parentID, name string) (Folder, error)
	// CreateFolder always creates a new child folder.
	CreateFolder(ctx context.Context, parentID, name string) (Folder, error)
	// Upload stores data as a new file in folderID.
	Upload(ctx context.Context, folderID, name string, data []byte) (File, error)
}

const maxNameRunes = 100

var nameReplacer = strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "")

// SanitizeName makes s safe as a folder or file name on every backend.
func SanitizeName(s string) string {
	result := strings.TrimSpace(nameReplacer.Replace(s))
	if utf8.RuneCountInString(result) > maxNameRunes {
		result = string([]rune(result)[:maxNameRunes])
	}
	return result
}
