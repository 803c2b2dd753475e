package neural_network

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// separable builds n rows of two features labelled by the sign of their sum
func separable(n int) (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(n, 2, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		a := math.Sin(float64(i)*0.7) * 2
		b := math.Cos(float64(i)*1.3) * 2
		X.Set(i, 0, a)
		X.Set(i, 1, b)
		if a+b > 0 {
			y.SetVec(i, 1)
		}
	}
	return X, y
}

func captureWarnings(t *testing.T) func() []error {
	t.Helper()
	var (
		mu       sync.Mutex
		warnings []error
	)
	errors.SetWarningHandler(func(w error) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, w)
	})
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	return func() []error {
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), warnings...)
	}
}

func TestBatchesPerEpoch(t *testing.T) {
	tests := []struct {
		rows, batch, wantBatches, wantDropped int
	}{
		{100, 32, 3, 4},
		{96, 32, 3, 0},
		{31, 32, 0, 31},
		{1, 1, 1, 0},
	}
	for _, tt := range tests {
		b, d := BatchesPerEpoch(tt.rows, tt.batch)
		assert.Equal(t, tt.wantBatches, b, "rows=%d batch=%d", tt.rows, tt.batch)
		assert.Equal(t, tt.wantDropped, d, "rows=%d batch=%d", tt.rows, tt.batch)
	}
}

func TestTrainer_ThreeStepsPerEpochFor100Rows(t *testing.T) {
	warnings := captureWarnings(t)
	X, y := separable(100)

	clf := NewMLPClassifier(WithRandomState(1))
	history, err := NewTrainer(WithEpochs(4), WithBatchSize(32)).Fit(context.Background(), clf, X, y)
	require.NoError(t, err)

	assert.Equal(t, 3, history.StepsPerEpoch)
	assert.Equal(t, 12, history.TotalSteps)
	assert.Equal(t, 4, history.DroppedRows)
	assert.Len(t, history.Loss, 4)

	got := warnings()
	require.Len(t, got, 1)
	var w *errors.DroppedBatchWarning
	require.True(t, errors.As(got[0], &w))
	assert.Equal(t, 4, w.Dropped)
}

func TestTrainer_LossDecreases(t *testing.T) {
	X, y := separable(256)
	clf := NewMLPClassifier(WithRandomState(7))

	history, err := NewTrainer(WithEpochs(30), WithBatchSize(32), WithLearningRate(0.01)).
		Fit(context.Background(), clf, X, y)
	require.NoError(t, err)
	assert.Less(t, history.FinalLoss(), history.Loss[0])

	labels, err := clf.Predict(X)
	require.NoError(t, err)
	correct := 0
	for i := 0; i < labels.Len(); i++ {
		if labels.AtVec(i) == y.AtVec(i) {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(labels.Len()), 0.85)
}

func TestTrainer_Deterministic(t *testing.T) {
	X, y := separable(64)
	fit := func(opts ...TrainerOption) *mat.VecDense {
		clf := NewMLPClassifier(WithRandomState(3))
		_, err := NewTrainer(append([]TrainerOption{WithEpochs(3), WithBatchSize(16)}, opts...)...).
			Fit(context.Background(), clf, X, y)
		require.NoError(t, err)
		p, err := clf.PredictProba(X)
		require.NoError(t, err)
		return p
	}

	assert.True(t, mat.Equal(fit(), fit()))
	assert.True(t, mat.Equal(fit(WithShuffle(true)), fit(WithShuffle(true))))
	assert.False(t, mat.Equal(fit(), fit(WithShuffle(true))), "shuffled batches change the updates")
}

func TestTrainer_Errors(t *testing.T) {
	X, y := separable(40)
	ctx := context.Background()

	t.Run("fewer rows than batch size", func(t *testing.T) {
		_, err := NewTrainer(WithBatchSize(64)).Fit(ctx, NewMLPClassifier(), X, y)
		var ve *errors.ValueError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("non-binary labels", func(t *testing.T) {
		bad := mat.VecDenseCopyOf(y)
		bad.SetVec(3, 2)
		_, err := NewTrainer(WithBatchSize(8)).Fit(ctx, NewMLPClassifier(), X, bad)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("label length mismatch", func(t *testing.T) {
		_, err := NewTrainer(WithBatchSize(8)).Fit(ctx, NewMLPClassifier(), X, mat.NewVecDense(3, nil))
		var de *errors.DimensionError
		assert.True(t, errors.As(err, &de))
	})

	t.Run("NaN input", func(t *testing.T) {
		bad := mat.DenseCopyOf(X)
		bad.Set(5, 1, math.NaN())
		_, err := NewTrainer(WithBatchSize(8)).Fit(ctx, NewMLPClassifier(), bad, y)
		var ne *errors.NumericalInstabilityError
		assert.True(t, errors.As(err, &ne))
	})

	t.Run("invalid params", func(t *testing.T) {
		_, err := NewTrainer(WithEpochs(0)).Fit(ctx, NewMLPClassifier(), X, y)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("invalid optimizer", func(t *testing.T) {
		_, err := NewTrainer(WithBatchSize(8), WithLearningRate(math.Inf(1))).Fit(ctx, NewMLPClassifier(), X, y)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewTrainer(WithBatchSize(8)).Fit(cctx, NewMLPClassifier(), X, y)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTrainer_RetryAfterFailureStartsFresh(t *testing.T) {
	X, y := separable(64)
	ctx := context.Background()
	trainer := func(opts ...TrainerOption) *Trainer {
		return NewTrainer(append([]TrainerOption{WithEpochs(3), WithBatchSize(16)}, opts...)...)
	}

	clean := NewMLPClassifier(WithRandomState(5))
	_, err := trainer().Fit(ctx, clean, X, y)
	require.NoError(t, err)
	want, err := clean.PredictProba(X)
	require.NoError(t, err)

	clf := NewMLPClassifier(WithRandomState(5))
	stop := errors.New("stop after first epoch")
	_, err = trainer(WithCallbacks(func(env *CallbackEnv) error { return stop })).Fit(ctx, clf, X, y)
	require.ErrorIs(t, err, stop)
	assert.False(t, clf.IsFitted())

	_, err = trainer().Fit(ctx, clf, X, y)
	require.NoError(t, err)
	got, err := clf.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

func TestTrainer_RecordEvaluation(t *testing.T) {
	X, y := separable(64)
	var record map[string][]float64

	history, err := NewTrainer(WithEpochs(5), WithBatchSize(16), WithCallbacks(RecordEvaluation(&record), LogEvaluation(2))).
		Fit(context.Background(), NewMLPClassifier(), X, y)
	require.NoError(t, err)
	assert.Equal(t, history.Loss, record["loss"])
}

func TestMLPClassifier_Architecture(t *testing.T) {
	X, y := separable(32)
	clf := NewMLPClassifier(WithTrainerOptions(WithEpochs(1), WithBatchSize(8)))
	require.NoError(t, clf.Fit(X, y))

	w, err := clf.ExportWeights()
	require.NoError(t, err)
	require.Len(t, w.Layers, 3)
	assert.Equal(t, [2]int{2, 64}, [2]int{w.Layers[0].In, w.Layers[0].Out})
	assert.Equal(t, [2]int{64, 32}, [2]int{w.Layers[1].In, w.Layers[1].Out})
	assert.Equal(t, [2]int{32, 1}, [2]int{w.Layers[2].In, w.Layers[2].Out})
	assert.Equal(t, "relu", w.Layers[0].Activation)
	assert.Equal(t, "sigmoid", w.Layers[2].Activation)

	probs, err := clf.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < probs.Len(); i++ {
		assert.GreaterOrEqual(t, probs.AtVec(i), 0.0)
		assert.LessOrEqual(t, probs.AtVec(i), 1.0)
	}
}

func TestMLPClassifier_InitializationBounds(t *testing.T) {
	clf := NewMLPClassifier(WithRandomState(11))
	clf.initialize(16)
	for _, layer := range clf.layers {
		in, _ := layer.W.Dims()
		limit := 1 / math.Sqrt(float64(in))
		for _, w := range layer.W.RawMatrix().Data {
			assert.LessOrEqual(t, math.Abs(w), limit)
		}
		for _, b := range layer.B {
			assert.Equal(t, 0.0, b)
		}
	}
}

func TestMLPClassifier_GradientMatchesFiniteDifference(t *testing.T) {
	X := mat.NewDense(4, 3, []float64{
		0.5, -1.2, 0.3,
		-0.7, 0.8, 1.1,
		1.5, 0.2, -0.4,
		-0.1, -0.9, 0.6,
	})
	y := []float64{1, 0, 1, 0}

	clf := NewMLPClassifier(WithRandomState(5))
	clf.initialize(3)
	_, grads := clf.backward(X, y)
	params := clf.params()

	const h = 1e-6
	for tensor := range params {
		for _, idx := range []int{0, len(params[tensor]) / 2, len(params[tensor]) - 1} {
			orig := params[tensor][idx]
			params[tensor][idx] = orig + h
			plus, _ := clf.backward(X, y)
			params[tensor][idx] = orig - h
			minus, _ := clf.backward(X, y)
			params[tensor][idx] = orig

			numeric := (plus - minus) / (2 * h)
			assert.InDelta(t, numeric, grads[tensor][idx], 1e-5, "tensor %d index %d", tensor, idx)
		}
	}
}

func TestMLPClassifier_NotFitted(t *testing.T) {
	clf := NewMLPClassifier()
	_, err := clf.PredictProba(mat.NewDense(1, 2, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestMLPClassifier_WeightsRoundTrip(t *testing.T) {
	X, y := separable(48)
	clf := NewMLPClassifier(WithTrainerOptions(WithEpochs(2), WithBatchSize(16)))
	require.NoError(t, clf.Fit(X, y))

	w, err := clf.ExportWeights()
	require.NoError(t, err)

	restored := NewMLPClassifier()
	require.NoError(t, restored.ImportWeights(w.Clone()))
	assert.Equal(t, 2, restored.NFeatures())

	want, err := clf.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))

	p, err := restored.PredictRow([]float64{X.At(0, 0), X.At(0, 1)})
	require.NoError(t, err)
	assert.InDelta(t, want.AtVec(0), p, 1e-12)

	_, err = restored.PredictProba(mat.NewDense(1, 5, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	w.Layers = w.Layers[:2]
	assert.Error(t, NewMLPClassifier().ImportWeights(w))
}

func TestMLPClassifier_ParallelPredictMatchesSequential(t *testing.T) {
	X, y := separable(3000)
	clf := NewMLPClassifier(WithTrainerOptions(WithEpochs(1), WithBatchSize(100)))
	require.NoError(t, clf.Fit(X, y))

	all, err := clf.PredictProba(X)
	require.NoError(t, err)
	for _, i := range []int{0, 1500, 2999} {
		p, err := clf.PredictRow(mat.Row(nil, i, X))
		require.NoError(t, err)
		assert.InDelta(t, all.AtVec(i), p, 1e-12)
	}
}

func TestAdam(t *testing.T) {
	t.Run("first step has magnitude lr", func(t *testing.T) {
		x := []float64{1}
		opt := NewAdam(0.1)
		require.NoError(t, opt.Step([][]float64{x}, [][]float64{{2 * x[0]}}))
		assert.InDelta(t, 0.9, x[0], 1e-6)
		assert.Equal(t, 1, opt.Steps())
	})

	t.Run("minimizes a quadratic", func(t *testing.T) {
		x := []float64{3, -2}
		opt := NewAdam(0.05)
		for i := 0; i < 2000; i++ {
			g := []float64{2 * x[0], 2 * x[1]}
			require.NoError(t, opt.Step([][]float64{x}, [][]float64{g}))
		}
		assert.InDelta(t, 0, x[0], 0.05)
		assert.InDelta(t, 0, x[1], 0.05)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		opt := NewAdam(0.1)
		assert.Error(t, opt.Step([][]float64{{1, 2}}, [][]float64{{1}}))
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, NewAdam(0.001).Validate())
		assert.Error(t, NewAdam(0.001, WithBetas(1, 0.999)).Validate())
		assert.Error(t, NewAdam(0.001, WithEpsilon(0)).Validate())
	})
}

func TestSaveLossCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, SaveLossCurve(&History{Loss: []float64{0.7, 0.5, 0.4}}, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SaveLossCurve(&History{}, path))
}
