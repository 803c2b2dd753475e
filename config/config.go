// Package config loads the featurepipe YAML configuration
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/featurepipe/featurestore"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
	"github.com/YuminosukeSato/featurepipe/preprocessing"
	"github.com/YuminosukeSato/featurepipe/sklearn/neural_network"
	"github.com/YuminosukeSato/featurepipe/table"
)

// Store backends
const (
	StoreCSV      = "csv"
	StorePostgres = "postgres"
)

// Registry backends
const (
	RegistryFile   = "file"
	RegistryS3     = "s3"
	RegistryMemory = "memory"
)

// Config is the top-level featurepipe configuration
type Config struct {
	ModelName string `yaml:"model_name"`
	LogLevel  string `yaml:"log_level"`

	Store    StoreConfig                  `yaml:"store"`
	Registry RegistryConfig               `yaml:"registry"`
	Features FeaturesConfig               `yaml:"features"`
	Model    ModelConfig                  `yaml:"model"`
	Training neural_network.TrainerParams `yaml:"training"`
}

// StoreConfig selects and configures the feature store
type StoreConfig struct {
	Backend  string            `yaml:"backend"`
	View     featurestore.View `yaml:"view"`
	CSV      CSVConfig         `yaml:"csv,omitempty"`
	Postgres PostgresConfig    `yaml:"postgres,omitempty"`
}

// CSVConfig points at CSV files backing an in-memory store.
// BatchPath defaults to TrainPath.
type CSVConfig struct {
	TrainPath string `yaml:"train_path,omitempty"`
	BatchPath string `yaml:"batch_path,omitempty"`
}

// PostgresConfig configures the Postgres feature store
type PostgresConfig struct {
	DSN   string `yaml:"dsn,omitempty"`
	Table string `yaml:"table,omitempty"`
}

// RegistryConfig selects and configures the model registry
type RegistryConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir,omitempty"`
	S3      S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the S3 registry
type S3Config struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// FeaturesConfig lists the columns the feature transformer handles
type FeaturesConfig struct {
	Categorical   []string                    `yaml:"categorical"`
	Numeric       []string                    `yaml:"numeric"`
	HandleUnknown preprocessing.HandleUnknown `yaml:"handle_unknown"`
}

// ModelConfig holds classifier settings outside the training loop
type ModelConfig struct {
	RandomState int64   `yaml:"random_state"`
	Threshold   float64 `yaml:"threshold"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		ModelName: "featurepipe",
		LogLevel:  "info",
		Store: StoreConfig{
			Backend: StoreCSV,
			View: featurestore.View{
				Name: "features",
				Schema: table.Schema{
					{Name: "id", Kind: table.String},
					{Name: "category", Kind: table.String},
					{Name: "amount", Kind: table.Float},
				},
				KeyColumn:   "id",
				LabelColumn: "label",
			},
			CSV: CSVConfig{TrainPath: "data/train.csv"},
		},
		Registry: RegistryConfig{
			Backend: RegistryFile,
			Dir:     "models",
		},
		Features: FeaturesConfig{
			Categorical:   []string{"category"},
			Numeric:       []string{"amount"},
			HandleUnknown: preprocessing.HandleUnknownError,
		},
		Model: ModelConfig{
			RandomState: 42,
			Threshold:   0.5,
		},
		Training: neural_network.DefaultTrainerParams(),
	}
}

// Load reads path, substitutes ${VAR} references from the environment and
// decodes it over the defaults. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	content := substituteEnvVars(string(data))

	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to parse YAML config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories as needed
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal YAML config")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write config file %s", path)
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return errors.NewValidationError("model_name", "is required", c.ModelName)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.NewValidationError("log_level", "must be debug, info, warn or error", c.LogLevel)
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.Features.Validate(c.Store.View); err != nil {
		return err
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold >= 1 {
		return errors.NewValidationError("model.threshold", "must be in (0, 1)", c.Model.Threshold)
	}
	return c.Training.Validate()
}

// Validate checks the store section
func (s StoreConfig) Validate() error {
	if err := s.View.Validate(); err != nil {
		return err
	}
	switch s.Backend {
	case StoreCSV:
		if s.CSV.TrainPath == "" && s.CSV.BatchPath == "" {
			return errors.NewValidationError("store.csv", "train_path or batch_path is required", s.CSV)
		}
	case StorePostgres:
		if s.Postgres.DSN == "" {
			return errors.NewValidationError("store.postgres.dsn", "is required", s.Postgres.DSN)
		}
		if s.Postgres.Table == "" {
			return errors.NewValidationError("store.postgres.table", "is required", s.Postgres.Table)
		}
	default:
		return errors.NewValidationError("store.backend", "must be csv or postgres", s.Backend)
	}
	return nil
}

// Validate checks the registry section
func (r RegistryConfig) Validate() error {
	switch r.Backend {
	case RegistryFile:
		if r.Dir == "" {
			return errors.NewValidationError("registry.dir", "is required", r.Dir)
		}
	case RegistryS3:
		if r.S3.Bucket == "" {
			return errors.NewValidationError("registry.s3.bucket", "is required", r.S3.Bucket)
		}
	case RegistryMemory:
	default:
		return errors.NewValidationError("registry.backend", "must be file, s3 or memory", r.Backend)
	}
	return nil
}

// Validate checks that every feature column exists in the view with the right kind
func (f FeaturesConfig) Validate(view featurestore.View) error {
	if err := f.HandleUnknown.Validate(); err != nil {
		return err
	}
	if len(f.Categorical)+len(f.Numeric) == 0 {
		return errors.NewValidationError("features", "at least one categorical or numeric column is required", 0)
	}
	check := func(name string, kind table.Kind) error {
		i := view.Schema.Index(name)
		if i < 0 {
			return errors.NewValidationError("features", "column is not in the store view", name)
		}
		if name == view.KeyColumn {
			return errors.NewValidationError("features", "the key column cannot be a feature", name)
		}
		if view.Schema[i].Kind != kind {
			return errors.NewValidationError("features", "column must be a "+kind.String()+" column", name)
		}
		return nil
	}
	for _, name := range f.Categorical {
		if err := check(name, table.String); err != nil {
			return err
		}
	}
	for _, name := range f.Numeric {
		if err := check(name, table.Float); err != nil {
			return err
		}
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables become empty strings.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
