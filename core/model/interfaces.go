package model

import "gonum.org/v1/gonum/mat"

// Transformer は行列に対するデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform は学習済みのパラメータでデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// InverseTransformer は逆変換可能な変換器のインターフェース
type InverseTransformer interface {
	Transformer

	// InverseTransform は変換を逆方向に適用する
	InverseTransform(X mat.Matrix) (mat.Matrix, error)
}

// Fitter は教師あり学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対するクラスラベルを返す
	Predict(X mat.Matrix) (*mat.VecDense, error)
}

// ProbabilisticClassifier は二値分類の陽性確率を返すモデルのインターフェース
type ProbabilisticClassifier interface {
	Fitter
	Predictor

	// PredictProba は各行の陽性クラス確率 [0,1] を返す
	PredictProba(X mat.Matrix) (*mat.VecDense, error)
}

// WeightExporter は重みをエクスポート可能なモデルのインターフェース
type WeightExporter interface {
	// ExportWeights はモデルの重みをエクスポートする
	ExportWeights() (*NetworkWeights, error)

	// ImportWeights はエクスポートされた重みを読み込む
	ImportWeights(weights *NetworkWeights) error
}
