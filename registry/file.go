package registry

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
)

// FileRegistry keeps bundles in a directory tree: <root>/<name>/<version>/bundle.json.zst
type FileRegistry struct {
	root string
	mu   sync.Mutex
}

// NewFileRegistry creates a registry rooted at dir, creating it if needed
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create registry directory %s", dir)
	}
	return &FileRegistry{root: dir}, nil
}

func (r *FileRegistry) path(name string, version int) string {
	return filepath.Join(r.root, name, strconv.Itoa(version), BundleFile)
}

// Save implements Registry.Save
func (r *FileRegistry) Save(ctx context.Context, b *Bundle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if b == nil {
		return 0, errors.NewValueError("FileRegistry.Save", "bundle cannot be nil")
	}
	if err := ValidateName(b.Name); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.Versions(ctx, b.Name)
	if err != nil {
		return 0, err
	}
	stored, err := prepare(b, existing)
	if err != nil {
		return 0, err
	}
	if err := model.SaveModel(stored, r.path(stored.Name, stored.Version)); err != nil {
		return 0, errors.Wrapf(err, "failed to save bundle %s version %d", stored.Name, stored.Version)
	}

	log.GetLoggerWithName("registry.file").Info("Bundle saved",
		log.OperationKey, log.OperationSave,
		log.ArtifactNameKey, stored.Name,
		log.ArtifactVersionKey, stored.Version,
		log.BackendKey, "file",
	)
	return b.commit(stored), nil
}

// Get implements Registry.Get
func (r *FileRegistry) Get(ctx context.Context, name string, version int) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if version == 0 {
		return r.Latest(ctx, name)
	}

	path := r.path(name, version)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.NewArtifactNotFoundError(name, version)
	}
	var b Bundle
	if err := model.LoadModel(&b, path); err != nil {
		return nil, errors.Wrapf(err, "failed to load bundle %s version %d", name, version)
	}
	return &b, nil
}

// Latest implements Registry.Latest
func (r *FileRegistry) Latest(ctx context.Context, name string) (*Bundle, error) {
	versions, err := r.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	v, err := latestVersion(name, versions)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, name, v)
}

// Versions implements Registry.Versions
func (r *FileRegistry) Versions(ctx context.Context, name string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(r.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list versions of %s", name)
	}

	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(e.Name())
		if err != nil || v <= 0 {
			continue
		}
		if _, err := os.Stat(r.path(name, v)); err == nil {
			versions = append(versions, v)
		}
	}
	return sortedVersions(versions), nil
}

var _ Registry = (*FileRegistry)(nil)
