// Package log defines standard attribute keys for featurepipe log records.
//
// The keys follow a hierarchical naming convention ("model.name", "data.samples")
// so that training, registry and inference logs can be filtered the same way
// regardless of which component emitted them.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator or transformer type.
	// Examples: "MLPClassifier", "OneHotEncoder", "FeatureTransformer"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies one training run (a uuid).
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies the package performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the lifecycle phase.
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	// SamplesKey is the number of rows being processed.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of model-input columns.
	FeaturesKey = "data.features"

	// BatchSizeKey is the mini-batch size used by the training loop.
	BatchSizeKey = "data.batch_size"

	// ColumnKey names the table column an event refers to.
	ColumnKey = "data.column"
)

// Training progress and evaluation.
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	AUCKey        = "metrics.auc"
	LossKey       = "metrics.loss"
	EpochKey      = "training.epoch"
	StepsKey      = "training.steps"
)

// Prediction context.
const (
	// PredsKey is the number of predictions made.
	PredsKey = "preds.count"

	// ThresholdKey is the decision threshold applied to probabilities.
	ThresholdKey = "preds.threshold"
)

// Registry and feature store context.
const (
	// ArtifactNameKey is the registered bundle name.
	ArtifactNameKey = "registry.name"

	// ArtifactVersionKey is the registered bundle version.
	ArtifactVersionKey = "registry.version"

	// BackendKey is the storage backend ("file", "s3", "memory", "postgres").
	BackendKey = "storage.backend"

	// FeatureViewKey is the feature view being read.
	FeatureViewKey = "featurestore.view"
)

// Error context.
const (
	ErrorCodeKey  = "error.code"
	SuggestionKey = "error.suggestion"
)

// Hyperparameters.
const (
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationSave         = "save"
	OperationLoad         = "load"

	PhaseTraining      = "training"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted        = "NOT_FITTED"
	ErrorUnseenCategory   = "UNSEEN_CATEGORY"
	ErrorMalformedVector  = "MALFORMED_VECTOR"
	ErrorArtifactNotFound = "ARTIFACT_NOT_FOUND"
)
