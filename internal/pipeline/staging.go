package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// stager writes attachments to short-lived files for extraction.
type stager struct {
	dir string
}

func newStager(dir string) *stager {
	if dir == "" {
		dir = os.TempDir()
	}
	return &stager{dir: dir}
}

// Stage writes data to a uniquely named file. The returned cleanup removes
// it and is safe to call when Stage failed.
func (s *stager) Stage(name string, data []byte) (string, func(), error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", func() {}, fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(s.dir, uuid.New().String()+filepath.Ext(name))
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove staged attachment", "attachment", name, "path", path, "error", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("stage %s: %w", name, err)
	}
	return path, cleanup, nil
}
