// Package featurepipe trains and serves tabular binary classifiers whose
// preprocessing is fitted once and shared by training, batch scoring and
// online scoring.
//
// A model is a bundle of three fitted parts: a one-hot encoder per categorical
// column, a standard scaler over the numeric columns, and a 64/32/1
// feed-forward network (ReLU hidden layers, sigmoid output) trained with
// mini-batch Adam. Bundles are stored under a name and an integer version in a
// model registry and reloaded for inference.
//
// # Installation
//
//	go get github.com/YuminosukeSato/featurepipe
//
// # Quick Start
//
//	store, _ := featurestore.LoadCSV(f, featurestore.View{
//	    Name: "transactions",
//	    Schema: table.Schema{
//	        {Name: "id", Kind: table.String},
//	        {Name: "city", Kind: table.String},
//	        {Name: "amount", Kind: table.Float},
//	    },
//	    KeyColumn:   "id",
//	    LabelColumn: "fraud",
//	})
//	reg, _ := registry.NewFileRegistry("models")
//
//	res, err := pipeline.Train(ctx, pipeline.TrainOptions{
//	    Store:     store,
//	    Registry:  reg,
//	    ModelName: "fraud",
//	    Features:  pipeline.Features{Categorical: []string{"city"}, Numeric: []string{"amount"}},
//	    Training:  neural_network.DefaultTrainerParams(),
//	})
//
//	dep, _ := pipeline.Load(ctx, reg, "fraud", 0) // 0 = latest
//	probs, _ := dep.PredictOnline(ctx, store, "tx-17")
//
// # Packages
//
//   - table: feature vectors, schemas and the column-oriented Table
//   - preprocessing: OneHotEncoder, StandardScaler and FeatureTransformer
//   - sklearn/neural_network: MLPClassifier, Adam and the mini-batch Trainer
//   - metrics: accuracy, AUC and log loss
//   - featurestore: in-memory/CSV and Postgres feature stores
//   - registry: file, S3 and in-memory model registries
//   - pipeline: training and deployment orchestration, Prometheus metrics
//   - config: YAML configuration
//   - core/model: shared interfaces, fitted state and the bundle codec
//   - core/parallel: row-parallel helpers
//   - pkg/errors, pkg/log: error kinds and structured logging
//
// The featurepipe command (cmd/featurepipe) wraps the same operations:
//
//	featurepipe config init
//	featurepipe train --config featurepipe.yaml
//	featurepipe predict batch -o scores.csv
//	featurepipe predict online --key tx-17
//	featurepipe versions
//
// # Unknown categories
//
// By default a category not seen at fit time is an error
// (UnseenCategoryError). With handle_unknown=ignore it encodes as an
// all-zero vector and an UnknownCategoryWarning is emitted.
//
// # Training loop
//
// Rows are visited in contiguous batches in input order; a trailing partial
// batch is dropped and reported once with a DroppedBatchWarning. Shuffling is
// opt-in through TrainerParams.Shuffle and is seeded.
package featurepipe
