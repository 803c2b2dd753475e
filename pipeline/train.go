// Package pipeline は特徴量ストア・特徴量変換・分類器・モデルレジストリをつなぐ
//
// 学習時に一度だけFitした変換器と分類器をバンドルとして登録し、バッチ推論と
// オンライン推論では同じバンドルから復元したDeploymentを使う。
package pipeline

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/featurestore"
	"github.com/YuminosukeSato/featurepipe/metrics"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
	"github.com/YuminosukeSato/featurepipe/preprocessing"
	"github.com/YuminosukeSato/featurepipe/registry"
	"github.com/YuminosukeSato/featurepipe/sklearn/neural_network"
)

// 登録される学習時評価指標のキー
const (
	MetricAccuracy = "accuracy"
	MetricAUC      = "auc"
	MetricLogLoss  = "log_loss"
)

// Features は特徴量変換の対象列と未知カテゴリの方針
type Features struct {
	Categorical   []string
	Numeric       []string
	HandleUnknown preprocessing.HandleUnknown
}

// TrainOptions は学習パイプラインの入力
type TrainOptions struct {
	Store     featurestore.Store
	Registry  registry.Registry
	ModelName string
	Features  Features
	Training  neural_network.TrainerParams

	// RandomState は重み初期化のシード
	RandomState int64
	// Threshold はPredictの判定閾値（0の場合は0.5）
	Threshold float64
	// Callbacks は各エポック終了時に呼ばれる
	Callbacks []neural_network.Callback
	// LossCurvePath が空でなければ損失曲線を画像として保存する
	LossCurvePath string
}

// TrainResult は学習パイプラインの出力
type TrainResult struct {
	Version    int
	Bundle     *registry.Bundle
	History    *neural_network.History
	Metrics    map[string]float64
	Deployment *Deployment
}

func (o *TrainOptions) validate() error {
	if o.Store == nil {
		return errors.NewValidationError("store", "is required", nil)
	}
	if o.Registry == nil {
		return errors.NewValidationError("registry", "is required", nil)
	}
	if err := registry.ValidateName(o.ModelName); err != nil {
		return err
	}
	if o.Features.HandleUnknown == "" {
		o.Features.HandleUnknown = preprocessing.HandleUnknownError
	}
	if o.Threshold == 0 {
		o.Threshold = 0.5
	}
	if o.Threshold < 0 || o.Threshold >= 1 {
		return errors.NewValidationError("threshold", "must be in (0, 1)", o.Threshold)
	}
	return o.Training.Validate()
}

// Train は学習データを取得し、変換器と分類器を学習してレジストリに登録する
//
// 処理の流れ:
//
//	TrainingData → FeatureTransformer.FitTransform → Trainer.Fit → 評価 → 損失曲線 → Registry.Save
func Train(ctx context.Context, opts TrainOptions) (result *TrainResult, err error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		} else {
			trainingDuration.WithLabelValues(opts.ModelName).Observe(time.Since(start).Seconds())
		}
		trainingRuns.WithLabelValues(opts.ModelName, status).Inc()
	}()

	logger := log.GetLoggerWithName("pipeline.train").With(
		log.ModelNameKey, opts.ModelName,
		log.FeatureViewKey, opts.Store.View().Name,
	)

	data, labels, err := opts.Store.TrainingData(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read training data")
	}

	ft := preprocessing.NewFeatureTransformer(opts.Features.Categorical, opts.Features.Numeric,
		preprocessing.WithUnknownCategories(opts.Features.HandleUnknown))
	transformed, err := ft.FitTransform(data)
	if err != nil {
		return nil, err
	}
	X, err := transformed.Matrix(ft.FeatureNames()...)
	if err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	if len(labels) != n {
		return nil, errors.NewDimensionError("pipeline.Train", n, len(labels), 0)
	}
	y := mat.NewDense(n, 1, append([]float64(nil), labels...))

	clf := neural_network.NewMLPClassifier(
		neural_network.WithRandomState(opts.RandomState),
		neural_network.WithThreshold(opts.Threshold),
	)
	trainer := neural_network.NewTrainer(
		neural_network.WithParams(opts.Training),
		neural_network.WithCallbacks(opts.Callbacks...),
	)
	history, err := trainer.Fit(ctx, clf, X, y)
	if err != nil {
		return nil, err
	}

	scores, err := evaluate(clf, X, labels, opts.Threshold)
	if err != nil {
		return nil, err
	}

	weights, err := clf.ExportWeights()
	if err != nil {
		return nil, err
	}
	state, err := ft.State()
	if err != nil {
		return nil, err
	}
	view := opts.Store.View()
	bundle := &registry.Bundle{
		Name:        opts.ModelName,
		Schema:      view.Schema,
		KeyColumn:   view.KeyColumn,
		LabelColumn: view.LabelColumn,
		Transformer: state,
		Weights:     weights,
		Training:    opts.Training,
		History:     history,
		Metrics:     scores,
	}
	dep, err := NewDeployment(bundle)
	if err != nil {
		return nil, err
	}

	// 登録は最後の失敗し得る処理の後に行う
	if opts.LossCurvePath != "" {
		if err := neural_network.SaveLossCurve(history, opts.LossCurvePath); err != nil {
			return nil, err
		}
	}

	version, err := opts.Registry.Save(ctx, bundle)
	if err != nil {
		return nil, err
	}
	dep.Version = version

	logger.Info("Model registered",
		log.ArtifactVersionKey, version,
		log.SamplesKey, n,
		log.FeaturesKey, len(ft.FeatureNames()),
		log.LossKey, history.FinalLoss(),
		log.AccuracyKey, scores[MetricAccuracy],
		log.AUCKey, scores[MetricAUC],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	return &TrainResult{
		Version:    version,
		Bundle:     bundle,
		History:    history,
		Metrics:    scores,
		Deployment: dep,
	}, nil
}

// evaluate は学習データ上の正解率・AUC・対数損失を計算する
func evaluate(clf *neural_network.MLPClassifier, X mat.Matrix, labels []float64, threshold float64) (map[string]float64, error) {
	probs, err := clf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	yTrue := mat.NewVecDense(len(labels), append([]float64(nil), labels...))
	yPred := mat.NewVecDense(probs.Len(), nil)
	for i := 0; i < probs.Len(); i++ {
		if probs.AtVec(i) >= threshold {
			yPred.SetVec(i, 1)
		}
	}

	acc, err := metrics.Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	auc, err := metrics.AUC(yTrue, probs)
	if err != nil {
		return nil, err
	}
	logLoss, err := metrics.BinaryLogLoss(yTrue, probs)
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		MetricAccuracy: acc,
		MetricAUC:      auc,
		MetricLogLoss:  logLoss,
	}, nil
}
