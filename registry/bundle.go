// Package registry stores named, versioned model bundles: the fitted feature
// transformer and classifier weights that together make one deployable model.
package registry

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/preprocessing"
	"github.com/YuminosukeSato/featurepipe/sklearn/neural_network"
	"github.com/YuminosukeSato/featurepipe/table"
)

// BundleFile is the object name of a serialized bundle inside its version directory
const BundleFile = "bundle.json.zst"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Bundle is everything needed to score raw feature vectors with a trained model
type Bundle struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	// Schema is the raw feature vector layout the bundle expects
	Schema table.Schema `json:"schema"`
	// KeyColumn and LabelColumn are excluded from the model input
	KeyColumn   string `json:"key_column,omitempty"`
	LabelColumn string `json:"label_column,omitempty"`

	Transformer preprocessing.TransformerState `json:"transformer"`
	Weights     *model.NetworkWeights          `json:"weights"`

	Training neural_network.TrainerParams `json:"training"`
	History  *neural_network.History      `json:"history,omitempty"`
	Metrics  map[string]float64           `json:"metrics,omitempty"`
}

// Validate checks that the bundle is complete enough to be loaded back
func (b *Bundle) Validate() error {
	if err := ValidateName(b.Name); err != nil {
		return err
	}
	if b.Version < 0 {
		return errors.NewValidationError("version", "must not be negative", b.Version)
	}
	if err := b.Schema.Validate(); err != nil {
		return err
	}
	if len(b.Transformer.Layout) == 0 {
		return errors.NewValidationError("transformer", "has no fitted columns", b.Name)
	}
	if b.Weights == nil {
		return errors.NewValidationError("weights", "are required", b.Name)
	}
	return b.Weights.Validate()
}

// ValidateName checks that name is usable as a path segment and object key prefix
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return errors.NewValidationError("name", "must match "+namePattern.String(), name)
	}
	return nil
}

// Registry stores and retrieves bundles by name and version.
// Versions start at 1; version 0 in lookups means the latest version.
type Registry interface {
	// Save stores b. When b.Version is 0 the next free version is assigned.
	// Existing versions are immutable. The stored version is returned.
	Save(ctx context.Context, b *Bundle) (int, error)

	// Get returns one version of a bundle, or the latest for version 0.
	Get(ctx context.Context, name string, version int) (*Bundle, error)

	// Latest returns the highest version of a bundle.
	Latest(ctx context.Context, name string) (*Bundle, error)

	// Versions lists the stored versions of a bundle in ascending order.
	Versions(ctx context.Context, name string) ([]int, error)
}

// prepare validates b and returns a copy carrying the version, run id and
// creation time to store, given the versions already stored under its name.
// b itself is left untouched until the write succeeds.
func prepare(b *Bundle, existing []int) (*Bundle, error) {
	if b == nil {
		return nil, errors.NewValueError("registry.Save", "bundle cannot be nil")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	stored := *b
	if stored.Version == 0 {
		stored.Version = 1
		if n := len(existing); n > 0 {
			stored.Version = existing[n-1] + 1
		}
	} else {
		for _, v := range existing {
			if v == stored.Version {
				return nil, errors.NewValidationError("version", "already exists for "+b.Name, b.Version)
			}
		}
	}
	if stored.RunID == "" {
		stored.RunID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	return &stored, nil
}

// commit copies the fields assigned by prepare back onto the caller's bundle
func (b *Bundle) commit(stored *Bundle) int {
	b.Version = stored.Version
	b.RunID = stored.RunID
	b.CreatedAt = stored.CreatedAt
	return b.Version
}

func latestVersion(name string, versions []int) (int, error) {
	if len(versions) == 0 {
		return 0, errors.NewArtifactNotFoundError(name, 0)
	}
	return versions[len(versions)-1], nil
}

func sortedVersions(versions []int) []int {
	sort.Ints(versions)
	return versions
}
