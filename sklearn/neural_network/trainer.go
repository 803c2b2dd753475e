package neural_network

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
)

// TrainerParams holds the training loop hyperparameters
type TrainerParams struct {
	Epochs       int     `json:"epochs" yaml:"epochs"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Shuffle      bool    `json:"shuffle" yaml:"shuffle"`
	RandomState  int64   `json:"random_state" yaml:"random_state"`
}

// DefaultTrainerParams returns 10 epochs of batch 32 at learning rate 0.001, unshuffled
func DefaultTrainerParams() TrainerParams {
	return TrainerParams{
		Epochs:       10,
		BatchSize:    32,
		LearningRate: 0.001,
		Shuffle:      false,
		RandomState:  42,
	}
}

// Validate checks the hyperparameters
func (p TrainerParams) Validate() error {
	if p.Epochs <= 0 {
		return errors.NewValidationError("epochs", "must be positive", p.Epochs)
	}
	if p.BatchSize <= 0 {
		return errors.NewValidationError("batch_size", "must be positive", p.BatchSize)
	}
	if p.LearningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", p.LearningRate)
	}
	return nil
}

// History is the outcome of a training run
type History struct {
	// Loss is the mean batch loss of each epoch
	Loss []float64 `json:"loss"`
	// StepsPerEpoch is the number of full batches per epoch
	StepsPerEpoch int `json:"steps_per_epoch"`
	// TotalSteps is the number of optimizer steps taken
	TotalSteps int `json:"total_steps"`
	// DroppedRows is the size of the trailing partial batch skipped every epoch
	DroppedRows int `json:"dropped_rows"`
}

// FinalLoss returns the last epoch's loss
func (h *History) FinalLoss() float64 {
	if len(h.Loss) == 0 {
		return 0
	}
	return h.Loss[len(h.Loss)-1]
}

// Trainer is the mini-batch Adam training loop for MLPClassifier.
//
// Each epoch walks the rows in contiguous batches of BatchSize. A trailing
// partial batch is dropped, never padded. Rows are visited in input order
// unless shuffling is enabled. Training always runs the full epoch count.
type Trainer struct {
	params    TrainerParams
	callbacks []Callback
}

// TrainerOption is a functional option for Trainer
type TrainerOption func(*Trainer)

// WithEpochs sets the number of epochs
func WithEpochs(epochs int) TrainerOption {
	return func(t *Trainer) { t.params.Epochs = epochs }
}

// WithBatchSize sets the mini-batch size
func WithBatchSize(batchSize int) TrainerOption {
	return func(t *Trainer) { t.params.BatchSize = batchSize }
}

// WithLearningRate sets the Adam learning rate
func WithLearningRate(lr float64) TrainerOption {
	return func(t *Trainer) { t.params.LearningRate = lr }
}

// WithShuffle enables a seeded row permutation at the start of every epoch
func WithShuffle(shuffle bool) TrainerOption {
	return func(t *Trainer) { t.params.Shuffle = shuffle }
}

// WithShuffleSeed sets the seed of the shuffling permutation
func WithShuffleSeed(seed int64) TrainerOption {
	return func(t *Trainer) { t.params.RandomState = seed }
}

// WithParams replaces all hyperparameters
func WithParams(p TrainerParams) TrainerOption {
	return func(t *Trainer) { t.params = p }
}

// WithCallbacks adds per-epoch callbacks
func WithCallbacks(cbs ...Callback) TrainerOption {
	return func(t *Trainer) { t.callbacks = append(t.callbacks, cbs...) }
}

// NewTrainer creates a Trainer with DefaultTrainerParams
func NewTrainer(opts ...TrainerOption) *Trainer {
	t := &Trainer{params: DefaultTrainerParams()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Params returns the hyperparameters
func (t *Trainer) Params() TrainerParams { return t.params }

// BatchesPerEpoch returns the number of full batches in rows, and the rows
// left over in the dropped trailing batch.
func BatchesPerEpoch(rows, batchSize int) (batches, dropped int) {
	if batchSize <= 0 {
		return 0, rows
	}
	return rows / batchSize, rows % batchSize
}

// Fit trains m on X (n × features) and y (n × 1, values 0 or 1).
// An unfitted classifier is initialized from its seed for X's width, so a
// retry after a failed Fit starts from the same weights as the first attempt.
func (t *Trainer) Fit(ctx context.Context, m *MLPClassifier, X, y mat.Matrix) (*History, error) {
	if err := t.params.Validate(); err != nil {
		return nil, err
	}

	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return nil, errors.NewModelError("Trainer.Fit", "empty data", errors.ErrEmptyData)
	}
	if yCols != 1 {
		return nil, errors.NewDimensionError("Trainer.Fit", 1, yCols, 1)
	}
	if yRows != nSamples {
		return nil, errors.NewDimensionError("Trainer.Fit", nSamples, yRows, 0)
	}
	for i := 0; i < nSamples; i++ {
		if err := errors.CheckNumericalStability("Trainer.Fit input", mat.Row(nil, i, X), 0); err != nil {
			return nil, err
		}
	}
	labels := mat.Col(nil, 0, y)
	for i, v := range labels {
		if v != 0 && v != 1 {
			return nil, errors.NewValidationError(fmt.Sprintf("y[%d]", i), "labels must be 0 or 1", v)
		}
	}

	steps, dropped := BatchesPerEpoch(nSamples, t.params.BatchSize)
	if steps == 0 {
		return nil, errors.NewValueError("Trainer.Fit",
			fmt.Sprintf("%d rows is fewer than batch_size=%d, no full batch to train on", nSamples, t.params.BatchSize))
	}
	if dropped > 0 {
		errors.Warn(errors.NewDroppedBatchWarning(nSamples, t.params.BatchSize, dropped))
	}

	opt := NewAdam(t.params.LearningRate)
	if err := opt.Validate(); err != nil {
		return nil, err
	}

	// Weights left by an interrupted Fit are discarded. A fitted classifier
	// continues from its current weights.
	if !m.IsFitted() {
		m.initialize(nFeatures)
	} else if m.nFeatures != nFeatures {
		return nil, errors.NewDimensionError("Trainer.Fit", m.nFeatures, nFeatures, 1)
	}

	logger := log.GetLoggerWithName("neural_network.trainer").With(
		log.ModelNameKey, ModelType,
		log.OperationKey, log.OperationFit,
	)
	logger.Info("Training started",
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.BatchSizeKey, t.params.BatchSize,
		log.LearningRateKey, t.params.LearningRate,
		"training.epochs", t.params.Epochs,
		"training.shuffle", t.params.Shuffle,
	)
	start := time.Now()

	params := m.params()
	callbacks := NewCallbackList(t.callbacks...)
	history := &History{StepsPerEpoch: steps, DroppedRows: dropped}

	order := make([]int, nSamples)
	for i := range order {
		order[i] = i
	}
	var rng *rand.Rand
	if t.params.Shuffle {
		rng = rand.New(rand.NewSource(t.params.RandomState))
	}

	bs := t.params.BatchSize
	xb := mat.NewDense(bs, nFeatures, nil)
	yb := make([]float64, bs)
	row := make([]float64, nFeatures)

	for epoch := 0; epoch < t.params.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "training interrupted at epoch %d", epoch)
		}
		callbacks.BeforeEpoch(epoch, m)
		if rng != nil {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var epochLoss float64
		for s := 0; s < steps; s++ {
			for k := 0; k < bs; k++ {
				idx := order[s*bs+k]
				mat.Row(row, idx, X)
				xb.SetRow(k, row)
				yb[k] = labels[idx]
			}

			loss, grads := m.backward(xb, yb)
			if err := errors.CheckScalar("batch_loss", loss, history.TotalSteps); err != nil {
				return nil, err
			}
			if err := opt.Step(params, grads); err != nil {
				return nil, err
			}
			history.TotalSteps++
			epochLoss += loss
		}
		epochLoss /= float64(steps)
		history.Loss = append(history.Loss, epochLoss)

		logger.Debug("Epoch completed",
			log.EpochKey, epoch+1,
			log.LossKey, epochLoss,
			log.StepsKey, history.TotalSteps,
		)
		if err := callbacks.AfterEpoch(epoch, history.TotalSteps, m, map[string]float64{"loss": epochLoss}); err != nil {
			return nil, err
		}
	}

	m.state.SetDimensions(nFeatures, nSamples)
	m.state.SetFitted()

	logger.Info("Training completed",
		log.LossKey, history.FinalLoss(),
		log.StepsKey, history.TotalSteps,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return history, nil
}
