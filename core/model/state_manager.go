// Package model provides the shared estimator kernel: fitted-state tracking,
// model interfaces, weight export and the bundle codec.
package model

import (
	"sync"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// StateManager tracks whether an estimator has been fitted.
// Fit writes it once; Transform/Predict read it from any goroutine.
type StateManager struct {
	Fitted bool // Public for serialization
	mu     sync.RWMutex

	NFeatures int
	NSamples  int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted marks the model as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// Reset returns the state to unfitted.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.NFeatures = 0
	s.NSamples = 0
}

// SetDimensions records the number of features and samples seen during fitting.
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// GetDimensions returns the number of features and samples seen during fitting.
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures, s.NSamples
}

// RequireFitted returns a NotFittedError for modelName/method when unfitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireUnfitted guards fit-once estimators: fitted state is immutable.
func (s *StateManager) RequireUnfitted(op string) error {
	if s.IsFitted() {
		return errors.NewModelError(op, "fitted state is immutable", errors.ErrAlreadyFitted)
	}
	return nil
}
