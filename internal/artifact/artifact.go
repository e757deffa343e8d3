// Package artifact manages the persisted index artifact: the two-part
// durable form of the vector index plus a version counter used for cheap
// staleness checks by the retrieval cache.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hyperjump/kotae/internal/blobstore"
	"github.com/hyperjump/kotae/internal/vecindex"
)

// Fixed logical object names under the configured prefix. The vector file
// and the metadata sidecar are always rewritten together, never independently.
const (
	VecObject     = "index.vec"
	MetaObject    = "index.meta"
	VersionObject = "index.version"
)

// Manager reads and writes the persisted index artifact in a blob store.
type Manager struct {
	store  blobstore.Store
	prefix string
}

// NewManager returns a manager for the artifact under prefix in store.
func NewManager(store blobstore.Store, prefix string) *Manager {
	return &Manager{store: store, prefix: prefix}
}

func (m *Manager) key(name string) string {
	return path.Join(strings.TrimSuffix(m.prefix, "/"), name)
}

// Load fetches both artifact parts, decodes them, and returns the index and
// its version. Returns blobstore.ErrNotFound when either part is absent, and
// a *vecindex.CorruptError when the parts are present but inconsistent.
func (m *Manager) Load(ctx context.Context) (*vecindex.Index, uint64, error) {
	vec, err := m.store.Get(ctx, m.key(VecObject))
	if err != nil {
		return nil, 0, err
	}
	meta, err := m.store.Get(ctx, m.key(MetaObject))
	if err != nil {
		return nil, 0, err
	}
	idx, err := vecindex.Decode(vec, meta)
	if err != nil {
		return nil, 0, err
	}
	version, err := m.Version(ctx)
	if err != nil {
		return nil, 0, err
	}
	return idx, version, nil
}

// Save writes the index as the artifact at the given version. The version
// object is written last, so an observed version bump implies both parts
// are in place (each Put is atomic on its own).
func (m *Manager) Save(ctx context.Context, idx *vecindex.Index, version uint64) error {
	vec, meta, err := idx.Encode()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := m.store.Put(ctx, m.key(VecObject), vec); err != nil {
		return fmt.Errorf("store vector part: %w", err)
	}
	if err := m.store.Put(ctx, m.key(MetaObject), meta); err != nil {
		return fmt.Errorf("store metadata part: %w", err)
	}
	if err := m.store.Put(ctx, m.key(VersionObject), []byte(strconv.FormatUint(version, 10))); err != nil {
		return fmt.Errorf("store version: %w", err)
	}
	return nil
}

// Version returns the artifact's version counter, 0 when no artifact exists.
func (m *Manager) Version(ctx context.Context) (uint64, error) {
	data, err := m.store.Get(ctx, m.key(VersionObject))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse artifact version: %w", err)
	}
	return v, nil
}
