package model

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

func fittedWeights() *NetworkWeights {
	return &NetworkWeights{
		ModelType: "MLPClassifier",
		Version:   "1.0.0",
		IsFitted:  true,
		Layers: []LayerWeights{
			{In: 2, Out: 3, Weights: []float64{1, 2, 3, 4, 5, 6}, Bias: []float64{0.1, 0.2, 0.3}, Activation: "relu"},
			{In: 3, Out: 1, Weights: []float64{0.5, -0.5, 1}, Bias: []float64{0}, Activation: "sigmoid"},
		},
		Features:        []string{"a", "b"},
		Hyperparameters: map[string]interface{}{"learning_rate": 0.001},
		Metadata:        map[string]interface{}{"epochs": 3.0},
	}
}

func TestNetworkWeights_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, fittedWeights().Validate())
	})

	t.Run("missing model type", func(t *testing.T) {
		w := fittedWeights()
		w.ModelType = ""
		var ve *errors.ValidationError
		assert.True(t, errors.As(w.Validate(), &ve))
	})

	t.Run("weights length mismatch", func(t *testing.T) {
		w := fittedWeights()
		w.Layers[0].Weights = w.Layers[0].Weights[:5]
		var de *errors.DimensionError
		assert.True(t, errors.As(w.Validate(), &de))
	})

	t.Run("layers not chained", func(t *testing.T) {
		w := fittedWeights()
		w.Layers[1].In = 4
		w.Layers[1].Weights = []float64{1, 1, 1, 1}
		assert.Error(t, w.Validate())
	})

	t.Run("NaN weights", func(t *testing.T) {
		w := fittedWeights()
		w.Layers[0].Weights[0] = math.NaN()
		var ne *errors.NumericalInstabilityError
		assert.True(t, errors.As(w.Validate(), &ne))
	})

	t.Run("unfitted without layers", func(t *testing.T) {
		w := &NetworkWeights{ModelType: "MLPClassifier", Version: "1.0.0"}
		assert.NoError(t, w.Validate())
	})
}

func TestNetworkWeights_CloneIsDeep(t *testing.T) {
	w := fittedWeights()
	c := w.Clone()
	c.Layers[0].Weights[0] = 100
	c.Hyperparameters["learning_rate"] = 1.0
	c.Features[0] = "z"

	assert.Equal(t, 1.0, w.Layers[0].Weights[0])
	assert.Equal(t, 0.001, w.Hyperparameters["learning_rate"])
	assert.Equal(t, "a", w.Features[0])
}

func TestNetworkWeights_JSON(t *testing.T) {
	data, err := fittedWeights().ToJSON()
	require.NoError(t, err)

	var got NetworkWeights
	require.NoError(t, got.FromJSON(data))
	assert.Equal(t, fittedWeights().Layers, got.Layers)
	assert.True(t, got.IsFitted)
}

func TestPersistence_ZstdCodec(t *testing.T) {
	w := fittedWeights()

	t.Run("writer and reader", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, SaveModelToWriter(w, &buf))

		var got NetworkWeights
		require.NoError(t, LoadModelFromReader(&got, &buf))
		assert.Equal(t, w.Layers, got.Layers)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "weights.json.zst")
		require.NoError(t, SaveModel(w, path))

		var got NetworkWeights
		require.NoError(t, LoadModel(&got, path))
		assert.Equal(t, w.Features, got.Features)
	})

	t.Run("garbage input", func(t *testing.T) {
		var got NetworkWeights
		assert.Error(t, Unmarshal([]byte("not zstd"), &got))
	})

	t.Run("missing file", func(t *testing.T) {
		var got NetworkWeights
		assert.Error(t, LoadModel(&got, filepath.Join(t.TempDir(), "nope")))
	})
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	err := s.RequireFitted("StandardScaler", "Transform")
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "StandardScaler", nf.ModelName)

	s.SetDimensions(3, 10)
	s.SetFitted()
	assert.NoError(t, s.RequireFitted("StandardScaler", "Transform"))
	assert.True(t, errors.Is(s.RequireUnfitted("Fit"), errors.ErrAlreadyFitted))

	nFeatures, nSamples := s.GetDimensions()
	assert.Equal(t, 3, nFeatures)
	assert.Equal(t, 10, nSamples)

	s.Reset()
	assert.False(t, s.IsFitted())
	assert.NoError(t, s.RequireUnfitted("Fit"))
}
