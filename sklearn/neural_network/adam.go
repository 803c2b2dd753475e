package neural_network

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// Adam implements adaptive moment estimation with bias correction.
// Parameters and gradients are passed as flat slices, one per tensor, and are
// updated in place.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	t int         // Steps taken
	m [][]float64 // First moment per tensor
	v [][]float64 // Second moment per tensor
}

// AdamOption is a functional option for Adam
type AdamOption func(*Adam)

// WithBetas sets the exponential decay rates for the moment estimates
func WithBetas(beta1, beta2 float64) AdamOption {
	return func(a *Adam) {
		a.Beta1 = beta1
		a.Beta2 = beta2
	}
}

// WithEpsilon sets the numerical stability term
func WithEpsilon(eps float64) AdamOption {
	return func(a *Adam) {
		a.Epsilon = eps
	}
}

// NewAdam creates an Adam optimizer with beta1=0.9, beta2=0.999, eps=1e-8
func NewAdam(learningRate float64, opts ...AdamOption) *Adam {
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate checks the optimizer hyperparameters
func (a *Adam) Validate() error {
	if !(a.LearningRate > 0) || math.IsInf(a.LearningRate, 1) {
		return errors.NewValidationError("learning_rate", "must be positive and finite", a.LearningRate)
	}
	if a.Beta1 < 0 || a.Beta1 >= 1 {
		return errors.NewValidationError("beta1", "must be in [0, 1)", a.Beta1)
	}
	if a.Beta2 < 0 || a.Beta2 >= 1 {
		return errors.NewValidationError("beta2", "must be in [0, 1)", a.Beta2)
	}
	if a.Epsilon <= 0 {
		return errors.NewValidationError("epsilon", "must be positive", a.Epsilon)
	}
	return nil
}

// Steps returns the number of updates applied so far
func (a *Adam) Steps() int { return a.t }

// Step applies one update to every tensor in params using grads.
// The tensor layout must not change between calls.
func (a *Adam) Step(params, grads [][]float64) error {
	if len(params) != len(grads) {
		return errors.NewDimensionError("Adam.Step", len(params), len(grads), 0)
	}
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p))
			a.v[i] = make([]float64, len(p))
		}
	}
	if len(a.m) != len(params) {
		return errors.NewValueError("Adam.Step", fmt.Sprintf("expected %d tensors, got %d", len(a.m), len(params)))
	}

	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		if len(g) != len(p) || len(p) != len(a.m[i]) {
			return errors.NewDimensionError("Adam.Step", len(a.m[i]), len(g), 1)
		}
		m, v := a.m[i], a.v[i]
		for j := range p {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p[j] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
	return nil
}
