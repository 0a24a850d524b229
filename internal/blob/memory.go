package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store with in-memory storage.
type MemoryStore struct {
	mu sync.RWMutex

	folders map[string]memoryFolder
	files   map[string]StoredFile
	seq     int
}

type memoryFolder struct {
	parent string
	name   string
}

// StoredFile is an uploaded file held by MemoryStore.
type StoredFile struct {
	ID     string
	Folder string
	Name   string
	Data   []byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders: make(map[string]memoryFolder),
		files:   make(map[string]StoredFile),
	}
}

func (m *MemoryStore) nextID(kind string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", kind, m.seq)
}

func memoryLink(id string) string {
	return "memory://" + id
}

func (m *MemoryStore) EnsureFolder(_ context.Context, parentID, name string) (Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, f := range m.folders {
		if f.parent == parentID && f.name == name {
			return Folder{ID: id, Link: memoryLink(id)}, nil
		}
	}
	return m.createLocked(parentID, name), nil
}

func (m *MemoryStore) CreateFolder(_ context.Context, parentID, name string) (Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(parentID, name), nil
}

func (m *MemoryStore) createLocked(parentID, name string) Folder {
	id := m.nextID("folder")
	m.folders[id] = memoryFolder{parent: parentID, name: name}
	return Folder{ID: id, Link: memoryLink(id)}
}

func (m *MemoryStore) Upload(_ context.Context, folderID, name string, data []byte) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.folders[folderID]; !ok && folderID != "" {
		return File{}, fmt.Errorf("folder %q not found: %w", folderID, ErrUnavailable)
	}
	id := m.nextID("file")
	m.files[id] = StoredFile{ID: id, Folder: folderID, Name: name, Data: append([]byte(nil), data...)}
	return File{ID: id, Link: memoryLink(id)}, nil
}

// FolderPath returns the slash-joined names from the root to folderID.
func (m *MemoryStore) FolderPath(folderID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var parts []string
	for id := folderID; id != ""; {
		f, ok := m.folders[id]
		if !ok {
			break
		}
		parts = append([]string{f.name}, parts...)
		id = f.parent
	}
	return strings.Join(parts, "/")
}

// Files returns every uploaded file ordered by upload.
func (m *MemoryStore) Files() []StoredFile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StoredFile, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return seqOf(out[i].ID) < seqOf(out[j].ID) })
	return out
}

func seqOf(id string) int {
	var n int
	fmt.Sscanf(id, "file-%d", &n)
	return n
}
