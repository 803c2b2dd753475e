// Package featurestore serves raw feature vectors for training, batch scoring
// and online lookups by primary key.
package featurestore

import (
	"context"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/table"
)

// Store is a source of raw feature vectors described by a View
type Store interface {
	// View returns the feature view the store serves.
	View() View

	// TrainingData returns every row of the view with its binary labels.
	TrainingData(ctx context.Context) (*table.Table, []float64, error)

	// BatchData returns every row of the view for bulk scoring.
	BatchData(ctx context.Context) (*table.Table, error)

	// GetFeatureVector returns the vector stored under key in schema order.
	GetFeatureVector(ctx context.Context, key string) (table.FeatureVector, error)

	// GetFeatureVectors returns one vector per key, in the order of keys.
	// Any missing key fails the whole call.
	GetFeatureVectors(ctx context.Context, keys []string) ([]table.FeatureVector, error)
}

// View names a set of feature columns keyed by a primary key column.
// The label column is kept outside Schema so that served vectors never carry it.
type View struct {
	Name        string       `json:"name" yaml:"name"`
	Schema      table.Schema `json:"schema" yaml:"schema"`
	KeyColumn   string       `json:"key_column" yaml:"key_column"`
	LabelColumn string       `json:"label_column,omitempty" yaml:"label_column,omitempty"`
}

// Validate checks that the key column is a string column of the schema
// and that the label column is not part of it.
func (v View) Validate() error {
	if v.Name == "" {
		return errors.NewValidationError("view.name", "is required", v.Name)
	}
	if err := v.Schema.Validate(); err != nil {
		return err
	}
	if v.KeyColumn == "" {
		return errors.NewValidationError("view.key_column", "is required", v.KeyColumn)
	}
	i := v.Schema.Index(v.KeyColumn)
	if i < 0 {
		return errors.NewValidationError("view.key_column", "is not in the schema", v.KeyColumn)
	}
	if v.Schema[i].Kind != table.String {
		return errors.NewValidationError("view.key_column", "must be a string column", v.KeyColumn)
	}
	if v.LabelColumn != "" && v.Schema.Index(v.LabelColumn) >= 0 {
		return errors.NewValidationError("view.label_column", "must not be part of the feature schema", v.LabelColumn)
	}
	return nil
}

// labelled returns the schema extended with the label column
func (v View) labelled() (table.Schema, error) {
	if v.LabelColumn == "" {
		return nil, errors.NewValidationError("view.label_column", "is required for training data", v.Name)
	}
	schema := append(table.Schema(nil), v.Schema...)
	return append(schema, table.Field{Name: v.LabelColumn, Kind: table.Float}), nil
}

func checkLabels(view string, labels []float64) error {
	for i, y := range labels {
		if y != 0 && y != 1 {
			return errors.NewValidationError(view+" label", "must be 0 or 1", map[string]interface{}{"row": i, "value": y})
		}
	}
	return nil
}
