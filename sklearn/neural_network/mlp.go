// Package neural_network provides a small feed-forward binary classifier and
// the mini-batch training loop that fits it.
package neural_network

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/core/parallel"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

const (
	// ModelType identifies exported MLPClassifier weights
	ModelType = "MLPClassifier"
	// WeightsVersion is the NetworkWeights format written by ExportWeights
	WeightsVersion = "1.0.0"

	activationReLU    = "relu"
	activationSigmoid = "sigmoid"
)

// HiddenLayerSizes is the fixed hidden topology: two ReLU layers of 64 and 32 units
var HiddenLayerSizes = []int{64, 32}

// dense is one fully connected layer. W is in × out.
type dense struct {
	W          *mat.Dense
	B          []float64
	activation string
}

// MLPClassifier is a feed-forward binary classifier:
// input → 64 (ReLU) → 32 (ReLU) → 1 (sigmoid).
//
// Parameters are written only by Trainer; prediction is a pure function of
// the parameters and the input and is safe for concurrent use.
type MLPClassifier struct {
	state *model.StateManager

	// Hyperparameters
	randomState int64   // Seed for weight initialization and shuffling
	threshold   float64 // Probability threshold used by Predict

	trainerOpts []TrainerOption

	layers    []*dense
	nFeatures int
	rand      *rand.Rand
}

// MLPOption is a functional option for MLPClassifier
type MLPOption func(*MLPClassifier)

// WithRandomState sets the random seed
func WithRandomState(seed int64) MLPOption {
	return func(m *MLPClassifier) {
		m.randomState = seed
	}
}

// WithThreshold sets the decision threshold for Predict
func WithThreshold(threshold float64) MLPOption {
	return func(m *MLPClassifier) {
		m.threshold = threshold
	}
}

// WithTrainerOptions configures the Trainer used by Fit
func WithTrainerOptions(opts ...TrainerOption) MLPOption {
	return func(m *MLPClassifier) {
		m.trainerOpts = append(m.trainerOpts, opts...)
	}
}

// NewMLPClassifier creates a new, uninitialized MLPClassifier
func NewMLPClassifier(opts ...MLPOption) *MLPClassifier {
	m := &MLPClassifier{
		state:       model.NewStateManager(),
		randomState: 42,
		threshold:   0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rand = rand.New(rand.NewSource(m.randomState))
	return m
}

// RandomState returns the configured seed
func (m *MLPClassifier) RandomState() int64 { return m.randomState }

// IsFitted returns whether the classifier has been trained or loaded
func (m *MLPClassifier) IsFitted() bool { return m.state.IsFitted() }

// NFeatures returns the input width, or 0 before initialization
func (m *MLPClassifier) NFeatures() int { return m.nFeatures }

// initialize allocates layers for nFeatures inputs with weights drawn from
// uniform(-1/sqrt(fan_in), 1/sqrt(fan_in)). Biases start at zero.
func (m *MLPClassifier) initialize(nFeatures int) {
	m.rand = rand.New(rand.NewSource(m.randomState))
	sizes := append([]int{nFeatures}, HiddenLayerSizes...)
	sizes = append(sizes, 1)

	m.layers = make([]*dense, len(sizes)-1)
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		limit := 1 / math.Sqrt(float64(in))
		data := make([]float64, in*out)
		for i := range data {
			data[i] = (2*m.rand.Float64() - 1) * limit
		}
		act := activationReLU
		if l == len(sizes)-2 {
			act = activationSigmoid
		}
		m.layers[l] = &dense{
			W:          mat.NewDense(in, out, data),
			B:          make([]float64, out),
			activation: act,
		}
	}
	m.nFeatures = nFeatures
}

// Fit trains the classifier with a Trainer built from WithTrainerOptions.
// y is an n × 1 matrix of 0/1 labels.
func (m *MLPClassifier) Fit(X, y mat.Matrix) error {
	_, err := NewTrainer(m.trainerOpts...).Fit(context.Background(), m, X, y)
	return err
}

// forward runs X through every layer. It returns the pre-activations and
// activations of each layer; acts[0] is X itself.
func (m *MLPClassifier) forward(X mat.Matrix) (pre []*mat.Dense, acts []mat.Matrix) {
	r, _ := X.Dims()
	acts = make([]mat.Matrix, len(m.layers)+1)
	pre = make([]*mat.Dense, len(m.layers))
	acts[0] = X

	for l, layer := range m.layers {
		_, out := layer.W.Dims()
		z := mat.NewDense(r, out, nil)
		z.Mul(acts[l], layer.W)
		b := layer.B
		z.Apply(func(_, j int, v float64) float64 { return v + b[j] }, z)
		pre[l] = z

		a := mat.NewDense(r, out, nil)
		switch layer.activation {
		case activationReLU:
			a.Apply(func(_, _ int, v float64) float64 { return relu(v) }, z)
		case activationSigmoid:
			a.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, z)
		}
		acts[l+1] = a
	}
	return pre, acts
}

// backward computes the mean binary cross-entropy of the batch and the
// gradient of every parameter tensor, ordered as params().
func (m *MLPClassifier) backward(X mat.Matrix, y []float64) (float64, [][]float64) {
	pre, acts := m.forward(X)
	n := float64(len(y))

	out := acts[len(acts)-1]
	var loss float64
	delta := mat.NewDense(len(y), 1, nil)
	for i, yi := range y {
		p := out.At(i, 0)
		pc := errors.ClipProbability(p)
		loss -= yi*math.Log(pc) + (1-yi)*math.Log(1-pc)
		// d(BCE)/dz for a sigmoid output
		delta.Set(i, 0, (p-yi)/n)
	}
	loss /= n

	grads := make([][]float64, 2*len(m.layers))
	for l := len(m.layers) - 1; l >= 0; l-- {
		layer := m.layers[l]
		in, outW := layer.W.Dims()

		gW := mat.NewDense(in, outW, nil)
		gW.Mul(acts[l].T(), delta)
		gB := make([]float64, outW)
		rows, _ := delta.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < outW; j++ {
				gB[j] += delta.At(i, j)
			}
		}
		grads[2*l] = gW.RawMatrix().Data
		grads[2*l+1] = gB

		if l == 0 {
			break
		}
		next := mat.NewDense(rows, in, nil)
		next.Mul(delta, layer.W.T())
		z := pre[l-1]
		next.Apply(func(i, j int, v float64) float64 {
			if z.At(i, j) > 0 {
				return v
			}
			return 0
		}, next)
		delta = next
	}
	return loss, grads
}

// params returns the parameter tensors as flat slices aliasing the layers,
// ordered W0, B0, W1, B1, ...
func (m *MLPClassifier) params() [][]float64 {
	ps := make([][]float64, 0, 2*len(m.layers))
	for _, layer := range m.layers {
		ps = append(ps, layer.W.RawMatrix().Data, layer.B)
	}
	return ps
}

func (m *MLPClassifier) checkInput(op string, X mat.Matrix) error {
	if err := m.state.RequireFitted(ModelType, op); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 {
		return errors.NewModelError(ModelType+"."+op, "empty data", errors.ErrEmptyData)
	}
	if c != m.nFeatures {
		return errors.NewDimensionError(ModelType+"."+op, m.nFeatures, c, 1)
	}
	return nil
}

// PredictProba returns the positive-class probability for each row of X.
// Large inputs are split across goroutines by row.
func (m *MLPClassifier) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	if err := m.checkInput("PredictProba", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := make([]float64, r)

	parallel.ParallelizeWithThreshold(r, parallel.DefaultThreshold, func(start, end int) {
		var chunk mat.Matrix
		if d, ok := X.(*mat.Dense); ok {
			chunk = d.Slice(start, end, 0, c)
		} else {
			cp := mat.NewDense(end-start, c, nil)
			for i := start; i < end; i++ {
				for j := 0; j < c; j++ {
					cp.Set(i-start, j, X.At(i, j))
				}
			}
			chunk = cp
		}
		_, acts := m.forward(chunk)
		probs := acts[len(acts)-1]
		for i := start; i < end; i++ {
			out[i] = probs.At(i-start, 0)
		}
	})

	if err := errors.CheckNumericalStability(ModelType+".PredictProba", out, 0); err != nil {
		return nil, err
	}
	return mat.NewVecDense(r, out), nil
}

// PredictRow returns the positive-class probability for a single input row
func (m *MLPClassifier) PredictRow(row []float64) (float64, error) {
	probs, err := m.PredictProba(mat.NewDense(1, len(row), append([]float64(nil), row...)))
	if err != nil {
		return 0, err
	}
	return probs.AtVec(0), nil
}

// Predict returns 0/1 labels using the configured threshold
func (m *MLPClassifier) Predict(X mat.Matrix) (*mat.VecDense, error) {
	probs, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	labels := mat.NewVecDense(probs.Len(), nil)
	for i := 0; i < probs.Len(); i++ {
		if probs.AtVec(i) >= m.threshold {
			labels.SetVec(i, 1)
		}
	}
	return labels, nil
}

// ExportWeights exports the layer parameters
func (m *MLPClassifier) ExportWeights() (*model.NetworkWeights, error) {
	if err := m.state.RequireFitted(ModelType, "ExportWeights"); err != nil {
		return nil, err
	}
	w := &model.NetworkWeights{
		ModelType: ModelType,
		Version:   WeightsVersion,
		IsFitted:  true,
		Hyperparameters: map[string]interface{}{
			"hidden_layer_sizes": append([]int(nil), HiddenLayerSizes...),
			"random_state":       m.randomState,
			"threshold":          m.threshold,
		},
	}
	for _, layer := range m.layers {
		in, out := layer.W.Dims()
		w.Layers = append(w.Layers, model.LayerWeights{
			In:         in,
			Out:        out,
			Weights:    append([]float64(nil), layer.W.RawMatrix().Data...),
			Bias:       append([]float64(nil), layer.B...),
			Activation: layer.activation,
		})
	}
	return w, nil
}

// ImportWeights replaces the parameters with exported weights.
// The layer topology must match the fixed architecture.
func (m *MLPClassifier) ImportWeights(w *model.NetworkWeights) error {
	if w == nil {
		return errors.NewValueError("MLPClassifier.ImportWeights", "weights cannot be nil")
	}
	if w.ModelType != ModelType {
		return errors.NewValidationError("model_type", "must be "+ModelType, w.ModelType)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if !w.IsFitted {
		return errors.NewValidationError("is_fitted", "cannot import weights of an unfitted model", false)
	}
	if len(w.Layers) != len(HiddenLayerSizes)+1 {
		return errors.NewValidationError("layers", fmt.Sprintf("expected %d layers", len(HiddenLayerSizes)+1), len(w.Layers))
	}
	for l, size := range append(append([]int(nil), HiddenLayerSizes...), 1) {
		if w.Layers[l].Out != size {
			return errors.NewDimensionError("MLPClassifier.ImportWeights", size, w.Layers[l].Out, 1)
		}
	}

	layers := make([]*dense, len(w.Layers))
	for l, lw := range w.Layers {
		act := activationReLU
		if l == len(w.Layers)-1 {
			act = activationSigmoid
		}
		layers[l] = &dense{
			W:          mat.NewDense(lw.In, lw.Out, append([]float64(nil), lw.Weights...)),
			B:          append([]float64(nil), lw.Bias...),
			activation: act,
		}
	}
	if t, ok := w.Hyperparameters["threshold"].(float64); ok {
		m.threshold = t
	}

	m.layers = layers
	m.nFeatures = w.Layers[0].In
	m.state.SetDimensions(m.nFeatures, 0)
	m.state.SetFitted()
	return nil
}

// String returns a string representation of the classifier
func (m *MLPClassifier) String() string {
	if !m.IsFitted() {
		return fmt.Sprintf("MLPClassifier(hidden_layer_sizes=%v, random_state=%d)", HiddenLayerSizes, m.randomState)
	}
	return fmt.Sprintf("MLPClassifier(hidden_layer_sizes=%v, random_state=%d, n_features=%d)",
		HiddenLayerSizes, m.randomState, m.nFeatures)
}

// relu keeps NaN so that instability reaches the loss check
func relu(x float64) float64 {
	return math.Max(x, 0)
}

// sigmoid avoids overflow of exp for large |x|
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

var (
	_ model.ProbabilisticClassifier = (*MLPClassifier)(nil)
	_ model.WeightExporter          = (*MLPClassifier)(nil)
)
