package model

import (
	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// LayerWeights は全結合層1つ分の重み
type LayerWeights struct {
	// In は入力次元、Out は出力次元
	In  int `json:"in"`
	Out int `json:"out"`

	// Weights は (In × Out) の行優先配列
	Weights []float64 `json:"weights"`

	// Bias は長さ Out のバイアス
	Bias []float64 `json:"bias"`

	// Activation は層の活性化関数（"relu", "sigmoid"）
	Activation string `json:"activation"`
}

// NetworkWeights はニューラルネットワークの重みを表す構造体（シリアライゼーション用）
type NetworkWeights struct {
	// ModelType はモデルの種類（MLPClassifier等）
	ModelType string `json:"model_type"`

	// Version は重みフォーマットのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Layers は入力側から順に並んだ層
	Layers []LayerWeights `json:"layers"`

	// Features は入力特徴量の名前（オプション）
	Features []string `json:"features,omitempty"`

	// Hyperparameters は学習時のハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加のメタデータ（学習時の統計等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// ToJSON はNetworkWeightsをJSON形式にシリアライズ
func (nw *NetworkWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(nw, "", "  ")
}

// FromJSON はJSON形式からNetworkWeightsをデシリアライズ
func (nw *NetworkWeights) FromJSON(data []byte) error {
	return json.Unmarshal(data, nw)
}

// Validate はNetworkWeightsの妥当性を検証
func (nw *NetworkWeights) Validate() error {
	if nw.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", nw.ModelType)
	}
	if nw.Version == "" {
		return errors.NewValidationError("version", "is required", nw.Version)
	}
	if !nw.IsFitted {
		if len(nw.Layers) > 0 {
			return errors.NewValidationError("layers", "unfitted model should not have layers", len(nw.Layers))
		}
		return nil
	}
	if len(nw.Layers) == 0 {
		return errors.NewValidationError("layers", "fitted model must have layers", 0)
	}

	for i, layer := range nw.Layers {
		if layer.In <= 0 || layer.Out <= 0 {
			return errors.NewValidationError("layers", "layer dimensions must be positive", []int{layer.In, layer.Out})
		}
		if len(layer.Weights) != layer.In*layer.Out {
			return errors.NewDimensionError("NetworkWeights.Validate", layer.In*layer.Out, len(layer.Weights), 1)
		}
		if len(layer.Bias) != layer.Out {
			return errors.NewDimensionError("NetworkWeights.Validate", layer.Out, len(layer.Bias), 1)
		}
		// 隣接層の次元が連結していること
		if i > 0 && nw.Layers[i-1].Out != layer.In {
			return errors.NewDimensionError("NetworkWeights.Validate", nw.Layers[i-1].Out, layer.In, 1)
		}
		if err := errors.CheckNumericalStability("NetworkWeights.Validate", layer.Weights, i); err != nil {
			return err
		}
	}
	return nil
}

// Clone はNetworkWeightsのディープコピーを作成
func (nw *NetworkWeights) Clone() *NetworkWeights {
	clone := &NetworkWeights{
		ModelType:       nw.ModelType,
		Version:         nw.Version,
		IsFitted:        nw.IsFitted,
		Layers:          make([]LayerWeights, len(nw.Layers)),
		Features:        append([]string(nil), nw.Features...),
		Hyperparameters: make(map[string]interface{}, len(nw.Hyperparameters)),
		Metadata:        make(map[string]interface{}, len(nw.Metadata)),
	}
	for i, layer := range nw.Layers {
		clone.Layers[i] = LayerWeights{
			In:         layer.In,
			Out:        layer.Out,
			Weights:    append([]float64(nil), layer.Weights...),
			Bias:       append([]float64(nil), layer.Bias...),
			Activation: layer.Activation,
		}
	}
	for k, v := range nw.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	for k, v := range nw.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
