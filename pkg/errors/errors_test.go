package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "featurepipe: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			err:     nil,
			wantMsg: "featurepipe: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			assert.True(t, strings.Contains(formatted, "errors_test.go"), "stack trace should mention the test file")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 3, 4, 1)
	assert.Equal(t, "featurepipe: Predict: dimension mismatch on axis 1 (features). Expected 3, got 4", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Got)
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("OneHotEncoder", "Transform")
	assert.Equal(t, "featurepipe: OneHotEncoder: this model is not fitted yet. Call Fit() before using Transform()", err.Error())

	var notFittedErr *NotFittedError
	assert.True(t, As(err, &notFittedErr))
}

func TestFeaturePipelineErrors(t *testing.T) {
	t.Run("arity", func(t *testing.T) {
		err := NewArityError(2, 3, 1)
		var mv *MalformedVectorError
		require.True(t, As(err, &mv))
		assert.Equal(t, 2, mv.Index)
		assert.Contains(t, err.Error(), "expected 3 values, got 1")
	})

	t.Run("malformed column", func(t *testing.T) {
		err := NewMalformedVectorError(0, "amount", "expected float64, got string")
		assert.Equal(t, "featurepipe: malformed feature vector at index 0, column 'amount': expected float64, got string", err.Error())
	})

	t.Run("unseen category", func(t *testing.T) {
		err := NewUnseenCategoryError("city", "Berlin", []string{"Amsterdam", "Paris"})
		var uc *UnseenCategoryError
		require.True(t, As(err, &uc))
		assert.Equal(t, "Berlin", uc.Category)
		assert.Contains(t, err.Error(), `"Berlin"`)
	})

	t.Run("artifact not found", func(t *testing.T) {
		assert.Equal(t, "featurepipe: artifact 'fraud' version 3 not found", NewArtifactNotFoundError("fraud", 3).Error())
		assert.Equal(t, "featurepipe: artifact 'fraud' has no registered versions", NewArtifactNotFoundError("fraud", 0).Error())
	})

	t.Run("feature vector not found", func(t *testing.T) {
		err := NewFeatureVectorNotFoundError("transactions", "42")
		var nf *FeatureVectorNotFoundError
		require.True(t, As(err, &nf))
		assert.Equal(t, "42", nf.Key)
	})
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrapf(ErrEmptyData, "failed to load %s", "train.csv")
	assert.True(t, Is(err, ErrEmptyData))
	assert.Contains(t, err.Error(), "failed to load train.csv")
}

func TestWarn(t *testing.T) {
	var got []error
	SetZerologWarnFunc(nil)
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewDroppedBatchWarning(100, 32, 4))
	require.Len(t, got, 1)
	assert.Equal(t, "4 of 100 rows are dropped every epoch (batch_size=32, trailing partial batch is not used)", got[0].Error())

	var routed []error
	SetZerologWarnFunc(func(w error) { routed = append(routed, w) })
	defer SetZerologWarnFunc(nil)
	Warn(NewUnknownCategoryWarning("city", "Berlin", 1))
	assert.Len(t, routed, 1)
	assert.Len(t, got, 1)
}

func TestNumericalChecks(t *testing.T) {
	assert.NoError(t, CheckScalar("loss", 0.5, 1))

	err := CheckScalar("loss", math.NaN(), 7)
	var ni *NumericalInstabilityError
	require.True(t, As(err, &ni))
	assert.Equal(t, 7, ni.Iteration)

	assert.Error(t, CheckNumericalStability("weights", []float64{1, math.Inf(1)}, 0))
	assert.NoError(t, CheckNumericalStability("weights", []float64{1, 2}, 0))

	assert.Equal(t, 1e-15, ClipProbability(0))
	assert.Equal(t, 1-1e-15, ClipProbability(1))
	assert.Equal(t, 0.3, ClipProbability(0.3))
}
