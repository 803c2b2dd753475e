package registry

import (
	"context"
	"sync"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// MemoryRegistry keeps encoded bundles in memory. Stored bundles are copied
// through the codec so callers cannot mutate them.
type MemoryRegistry struct {
	mu      sync.RWMutex
	bundles map[string]map[int][]byte
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{bundles: make(map[string]map[int][]byte)}
}

// Save implements Registry.Save
func (r *MemoryRegistry) Save(ctx context.Context, b *Bundle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if b == nil {
		return 0, errors.NewValueError("MemoryRegistry.Save", "bundle cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := prepare(b, r.versionsLocked(b.Name))
	if err != nil {
		return 0, err
	}
	data, err := model.Marshal(stored)
	if err != nil {
		return 0, err
	}
	if r.bundles[stored.Name] == nil {
		r.bundles[stored.Name] = make(map[int][]byte)
	}
	r.bundles[stored.Name][stored.Version] = data
	return b.commit(stored), nil
}

// Get implements Registry.Get
func (r *MemoryRegistry) Get(ctx context.Context, name string, version int) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == 0 {
		v, err := latestVersion(name, r.versionsLocked(name))
		if err != nil {
			return nil, err
		}
		version = v
	}
	data, ok := r.bundles[name][version]
	if !ok {
		return nil, errors.NewArtifactNotFoundError(name, version)
	}
	var b Bundle
	if err := model.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Latest implements Registry.Latest
func (r *MemoryRegistry) Latest(ctx context.Context, name string) (*Bundle, error) {
	return r.Get(ctx, name, 0)
}

// Versions implements Registry.Versions
func (r *MemoryRegistry) Versions(ctx context.Context, name string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versionsLocked(name), nil
}

func (r *MemoryRegistry) versionsLocked(name string) []int {
	var versions []int
	for v := range r.bundles[name] {
		versions = append(versions, v)
	}
	return sortedVersions(versions)
}

var _ Registry = (*MemoryRegistry)(nil)
