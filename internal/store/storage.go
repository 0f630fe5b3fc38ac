package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/peterbourgon/diskv"

	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

// Storage is the interface for snapshot persistence.
type Storage interface {
	// Save saves a snapshot, replacing any snapshot with the same name.
	Save(ctx context.Context, s *Snapshot) error

	// Load loads a snapshot by name.
	Load(ctx context.Context, name string) (*Snapshot, error)

	// List returns the stored snapshot names in order.
	List(ctx context.Context) ([]string, error)

	// Delete deletes a snapshot. Deleting a missing snapshot is not an error.
	Delete(ctx context.Context, name string) error

	// Close releases the backend.
	Close() error
}

// Invalidator is implemented by storages that cache snapshots and can be
// told that the backing copy changed.
type Invalidator interface {
	Invalidate(name string)
}

func notFound(name string) error {
	return apperrors.NotFoundError("snapshot " + name)
}

// MemoryStorage stores snapshots in memory (for testing).
type MemoryStorage struct {
	snapshots map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		snapshots: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Save(_ context.Context, s *Snapshot) error {
	// Keep the encoded form so callers cannot mutate stored state
	data, err := encode(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.Name] = data
	return nil
}

func (m *MemoryStorage) Load(_ context.Context, name string) (*Snapshot, error) {
	m.mu.RLock()
	data, exists := m.snapshots[name]
	m.mu.RUnlock()

	if !exists {
		return nil, notFound(name)
	}
	return decode(data)
}

func (m *MemoryStorage) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.snapshots))
	for name := range m.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, name)
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

// DiskStorage stores snapshots as gzip compressed YAML files in one
// directory, with an in-memory read cache.
type DiskStorage struct {
	d *diskv.Diskv

	// names whose cached copy must be reread from disk
	stale sync.Map
}

// NewDiskStorage creates a disk storage rooted at basePath. cacheSize bounds
// the read cache in bytes.
func NewDiskStorage(basePath string, cacheSize uint64) *DiskStorage {
	return &DiskStorage{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			Transform:    func(string) []string { return []string{} },
			CacheSizeMax: cacheSize,
			Compression:  diskv.NewGzipCompression(),
		}),
	}
}

func (f *DiskStorage) Save(_ context.Context, s *Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := f.d.Write(s.Name, data); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

// Path returns the directory holding the snapshot files.
func (f *DiskStorage) Path() string {
	return f.d.BasePath
}

// Invalidate makes the next Load of name bypass the read cache.
func (f *DiskStorage) Invalidate(name string) {
	f.stale.Store(name, struct{}{})
}

func (f *DiskStorage) Load(_ context.Context, name string) (*Snapshot, error) {
	_, direct := f.stale.LoadAndDelete(name)
	data, err := f.read(name, direct)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return decode(data)
}

// read returns the decompressed snapshot bytes. A direct read drops the
// cached copy and caches the file contents again.
func (f *DiskStorage) read(name string, direct bool) ([]byte, error) {
	if !direct {
		return f.d.Read(name)
	}
	rc, err := f.d.ReadStream(name, true)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (f *DiskStorage) List(ctx context.Context) ([]string, error) {
	cancel := make(chan struct{})
	defer close(cancel)

	var names []string
	for key := range f.d.Keys(cancel) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ValidateName(key) == nil {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *DiskStorage) Delete(_ context.Context, name string) error {
	if err := f.d.Erase(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

func (f *DiskStorage) Close() error { return nil }
