package pipeline

import (
	"context"
	"time"

	"github.com/YuminosukeSato/featurepipe/featurestore"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
	"github.com/YuminosukeSato/featurepipe/preprocessing"
	"github.com/YuminosukeSato/featurepipe/registry"
	"github.com/YuminosukeSato/featurepipe/sklearn/neural_network"
	"github.com/YuminosukeSato/featurepipe/table"
)

// ProbabilityColumn はPredictBatchが追加する列名
const ProbabilityColumn = "probability"

// Deployment は登録済みバンドルから復元した推論用モデル
//
// 変換器と分類器は学習済みの不変な状態のみを持つため、
// 複数のゴルーチンから同時に利用できる。
type Deployment struct {
	Name    string
	Version int

	bundle      *registry.Bundle
	transformer *preprocessing.FeatureTransformer
	classifier  *neural_network.MLPClassifier
}

// NewDeployment はバンドルから変換器と分類器を復元する
func NewDeployment(b *registry.Bundle) (*Deployment, error) {
	if b == nil {
		return nil, errors.NewValueError("pipeline.NewDeployment", "bundle cannot be nil")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	ft, err := preprocessing.NewFeatureTransformerFromState(b.Transformer)
	if err != nil {
		return nil, errors.Wrapf(err, "restoring transformer of %s version %d", b.Name, b.Version)
	}
	clf := neural_network.NewMLPClassifier()
	if err := clf.ImportWeights(b.Weights); err != nil {
		return nil, errors.Wrapf(err, "restoring classifier of %s version %d", b.Name, b.Version)
	}
	if width := len(ft.FeatureNames()); width != clf.NFeatures() {
		return nil, errors.NewDimensionError("pipeline.NewDeployment", clf.NFeatures(), width, 1)
	}
	return &Deployment{
		Name:        b.Name,
		Version:     b.Version,
		bundle:      b,
		transformer: ft,
		classifier:  clf,
	}, nil
}

// Load はレジストリからバンドルを取得してDeploymentを作成する（version 0は最新版）
func Load(ctx context.Context, reg registry.Registry, name string, version int) (*Deployment, error) {
	b, err := reg.Get(ctx, name, version)
	if err != nil {
		return nil, err
	}
	d, err := NewDeployment(b)
	if err != nil {
		return nil, err
	}
	log.GetLoggerWithName("pipeline.deployment").Info("Model loaded",
		log.OperationKey, log.OperationLoad,
		log.ArtifactNameKey, d.Name,
		log.ArtifactVersionKey, d.Version,
	)
	return d, nil
}

// Bundle は復元元のバンドルを返す
func (d *Deployment) Bundle() *registry.Bundle { return d.bundle }

// Schema は生の特徴量ベクトルの列構成を返す
func (d *Deployment) Schema() table.Schema { return d.bundle.Schema }

// FeatureNames は分類器の入力列名を返す
func (d *Deployment) FeatureNames() []string { return d.transformer.FeatureNames() }

// PredictTable は生の特徴量テーブルの各行の陽性確率を返す
func (d *Deployment) PredictTable(t *table.Table) ([]float64, error) {
	transformed, err := d.transformer.Transform(t)
	if err != nil {
		return nil, err
	}
	X, err := transformed.Matrix(d.transformer.FeatureNames()...)
	if err != nil {
		return nil, err
	}
	probs, err := d.classifier.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return probs.RawVector().Data, nil
}

// PredictBatch はストアのバッチデータ全体を推論し、probability列を追加したテーブルを返す
func (d *Deployment) PredictBatch(ctx context.Context, store featurestore.Store) (out *table.Table, err error) {
	defer d.observe(ModeBatch, time.Now(), func() int { return rowsOf(out) }, &err)
	defer errors.Recover(&err, "Deployment.PredictBatch")

	batch, err := store.BatchData(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read batch data")
	}
	probs, err := d.PredictTable(batch)
	if err != nil {
		return nil, err
	}
	return batch.WithColumn(table.NewFloatColumn(ProbabilityColumn, probs))
}

// PredictOnline は主キーで取得した特徴量ベクトルを推論する
// 結果はkeysと同じ順序で返る
func (d *Deployment) PredictOnline(ctx context.Context, store featurestore.Store, keys ...string) (probs []float64, err error) {
	defer d.observe(ModeOnline, time.Now(), func() int { return len(probs) }, &err)
	defer errors.Recover(&err, "Deployment.PredictOnline")

	if len(keys) == 0 {
		return nil, errors.NewValueError("Deployment.PredictOnline", "at least one key is required")
	}
	vectors, err := store.GetFeatureVectors(ctx, keys)
	if err != nil {
		return nil, err
	}
	t, err := table.FromVectors(store.View().Schema, vectors)
	if err != nil {
		return nil, err
	}
	return d.PredictTable(t)
}

// PredictVectors はバンドルのスキーマ順に並んだ生の特徴量ベクトルを推論する
// 単一ベクトルは要素数1のスライスとして渡す
func (d *Deployment) PredictVectors(vectors []table.FeatureVector) (probs []float64, err error) {
	defer d.observe(ModeVectors, time.Now(), func() int { return len(probs) }, &err)
	defer errors.Recover(&err, "Deployment.PredictVectors")

	if len(vectors) == 0 {
		return nil, errors.NewValueError("Deployment.PredictVectors", "at least one vector is required")
	}
	t, err := table.FromVectors(d.bundle.Schema, vectors)
	if err != nil {
		return nil, err
	}
	return d.PredictTable(t)
}

func (d *Deployment) observe(mode string, start time.Time, rows func() int, err *error) {
	predictionLatency.WithLabelValues(d.Name, mode).Observe(time.Since(start).Seconds())
	if *err != nil {
		predictionErrors.WithLabelValues(d.Name, mode).Inc()
		return
	}
	predictionsTotal.WithLabelValues(d.Name, mode).Add(float64(rows()))
}

func rowsOf(t *table.Table) int {
	if t == nil {
		return 0
	}
	return t.NumRows()
}
