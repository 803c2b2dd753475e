package config

import (
	"context"
	"os"

	"github.com/YuminosukeSato/featurepipe/featurestore"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/registry"
)

// OpenTrainingStore opens the store holding labelled training rows.
// The returned func releases its resources.
func (s StoreConfig) OpenTrainingStore(ctx context.Context) (featurestore.Store, func(), error) {
	return s.open(ctx, s.CSV.TrainPath, s.View)
}

// OpenServingStore opens the store used for batch and online scoring.
// CSV serving data is read from BatchPath, falling back to TrainPath, and
// does not need a label column.
func (s StoreConfig) OpenServingStore(ctx context.Context) (featurestore.Store, func(), error) {
	path := s.CSV.BatchPath
	if path == "" {
		path = s.CSV.TrainPath
	}
	view := s.View
	if s.Backend == StoreCSV && s.CSV.BatchPath != "" {
		view.LabelColumn = ""
	}
	return s.open(ctx, path, view)
}

func (s StoreConfig) open(ctx context.Context, path string, view featurestore.View) (featurestore.Store, func(), error) {
	switch s.Backend {
	case StoreCSV:
		if path == "" {
			return nil, nil, errors.NewValidationError("store.csv", "no path configured", s.CSV)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open feature file %s", path)
		}
		defer f.Close()
		store, err := featurestore.LoadCSV(f, view)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case StorePostgres:
		store, err := featurestore.ConnectPostgres(ctx, s.Postgres.DSN, s.Postgres.Table, view)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, errors.NewValidationError("store.backend", "must be csv or postgres", s.Backend)
	}
}

// Open creates the configured registry
func (r RegistryConfig) Open(ctx context.Context) (registry.Registry, error) {
	switch r.Backend {
	case RegistryFile:
		return registry.NewFileRegistry(r.Dir)
	case RegistryS3:
		return registry.NewS3RegistryFromConfig(ctx, r.S3.Bucket, r.S3.Prefix, r.S3.Region)
	case RegistryMemory:
		return registry.NewMemoryRegistry(), nil
	default:
		return nil, errors.NewValidationError("registry.backend", "must be file, s3 or memory", r.Backend)
	}
}
