package featurestore

import (
	"context"
	"io"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/table"
)

// MemoryStore serves a view from an in-memory table
type MemoryStore struct {
	view     View
	features *table.Table
	labels   []float64
	index    map[string]int
}

// NewMemoryStore creates a store over data, which must contain every column
// of the view schema and, when the view has one, the label column.
func NewMemoryStore(view View, data *table.Table) (*MemoryStore, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	features, err := data.Select(view.Schema.Names()...)
	if err != nil {
		return nil, err
	}
	for i, f := range view.Schema {
		if c := features.ColumnAt(i); c.Kind != f.Kind {
			return nil, errors.NewValidationError(f.Name, "column kind does not match the view schema", c.Kind.String())
		}
	}

	s := &MemoryStore{view: view, features: features}
	if view.LabelColumn != "" && data.Has(view.LabelColumn) {
		labels, err := data.Floats(view.LabelColumn)
		if err != nil {
			return nil, err
		}
		if err := checkLabels(view.Name, labels); err != nil {
			return nil, err
		}
		s.labels = labels
	}

	keys, _ := features.Strings(view.KeyColumn)
	s.index = make(map[string]int, len(keys))
	for i, k := range keys {
		if _, dup := s.index[k]; dup {
			return nil, errors.NewValidationError(view.KeyColumn, "duplicate key", k)
		}
		s.index[k] = i
	}
	return s, nil
}

// LoadCSV reads a headered CSV with the view columns (and label column when set)
func LoadCSV(r io.Reader, view View) (*MemoryStore, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	schema := view.Schema
	if view.LabelColumn != "" {
		var err error
		if schema, err = view.labelled(); err != nil {
			return nil, err
		}
	}
	data, err := table.ReadCSV(r, schema)
	if err != nil {
		return nil, errors.Wrapf(err, "loading feature view %s", view.Name)
	}
	return NewMemoryStore(view, data)
}

// View implements Store.View
func (s *MemoryStore) View() View { return s.view }

// Len returns the number of stored rows
func (s *MemoryStore) Len() int { return s.features.NumRows() }

// TrainingData implements Store.TrainingData
func (s *MemoryStore) TrainingData(ctx context.Context) (*table.Table, []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if s.labels == nil {
		return nil, nil, errors.NewValidationError("view.label_column", "has no labels loaded", s.view.Name)
	}
	return s.features, append([]float64(nil), s.labels...), nil
}

// BatchData implements Store.BatchData
func (s *MemoryStore) BatchData(ctx context.Context) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.features, nil
}

// GetFeatureVector implements Store.GetFeatureVector
func (s *MemoryStore) GetFeatureVector(ctx context.Context, key string) (table.FeatureVector, error) {
	vs, err := s.GetFeatureVectors(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// GetFeatureVectors implements Store.GetFeatureVectors
func (s *MemoryStore) GetFeatureVectors(ctx context.Context, keys []string) ([]table.FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]table.FeatureVector, len(keys))
	for i, k := range keys {
		row, ok := s.index[k]
		if !ok {
			return nil, errors.NewFeatureVectorNotFoundError(s.view.Name, k)
		}
		out[i] = s.features.Row(row)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
