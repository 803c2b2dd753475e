package neural_network

import (
	"time"

	"github.com/YuminosukeSato/featurepipe/pkg/log"
)

// CallbackEnv contains the environment for callbacks
type CallbackEnv struct {
	Model       *MLPClassifier
	Epoch       int
	Steps       int // Optimizer steps taken so far
	BeginTime   time.Time
	EndTime     time.Time
	EvalResults map[string]float64
}

// Callback is a function that is called after every epoch
type Callback func(env *CallbackEnv) error

// LogEvaluation logs evaluation results every period epochs
func LogEvaluation(period int) Callback {
	if period <= 0 {
		period = 1
	}
	logger := log.GetLoggerWithName("neural_network.trainer")
	return func(env *CallbackEnv) error {
		if (env.Epoch+1)%period != 0 {
			return nil
		}
		fields := []any{
			log.EpochKey, env.Epoch + 1,
			log.StepsKey, env.Steps,
			log.DurationMsKey, env.EndTime.Sub(env.BeginTime).Milliseconds(),
		}
		for name, value := range env.EvalResults {
			fields = append(fields, "metrics."+name, value)
		}
		logger.Info("Epoch finished", fields...)
		return nil
	}
}

// RecordEvaluation records evaluation history
func RecordEvaluation(history *map[string][]float64) Callback {
	return func(env *CallbackEnv) error {
		if *history == nil {
			*history = make(map[string][]float64)
		}
		for name, value := range env.EvalResults {
			(*history)[name] = append((*history)[name], value)
		}
		return nil
	}
}

// CallbackList manages multiple callbacks
type CallbackList struct {
	callbacks []Callback
	env       *CallbackEnv
}

// NewCallbackList creates a new callback list
func NewCallbackList(callbacks ...Callback) *CallbackList {
	return &CallbackList{
		callbacks: callbacks,
		env:       &CallbackEnv{EvalResults: make(map[string]float64)},
	}
}

// BeforeEpoch records the epoch start
func (cl *CallbackList) BeforeEpoch(epoch int, m *MLPClassifier) {
	cl.env.Epoch = epoch
	cl.env.Model = m
	cl.env.BeginTime = time.Now()
}

// AfterEpoch calls callbacks after each epoch
func (cl *CallbackList) AfterEpoch(epoch, steps int, m *MLPClassifier, evalResults map[string]float64) error {
	cl.env.Epoch = epoch
	cl.env.Steps = steps
	cl.env.Model = m
	cl.env.EndTime = time.Now()
	cl.env.EvalResults = evalResults

	for _, cb := range cl.callbacks {
		if err := cb(cl.env); err != nil {
			return err
		}
	}
	return nil
}
