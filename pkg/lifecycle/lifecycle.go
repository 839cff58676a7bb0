// Package lifecycle drives ordered construction and teardown of subsystems.
package lifecycle

import (
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Step acquires one subsystem and knows how to release it. Release may be nil
// for steps that hold nothing. Abort, when set, replaces Release while a
// failed Run unwinds, so a step that formatted something can erase it.
type Step struct {
	Name    string
	Acquire func() error
	Release func() error
	Abort   func() error
}

// Injector lets tests fail a named step before it runs.
type Injector func(step string) error

// Stack records acquired steps so they can be released in reverse order.
// It is not safe for concurrent use.
type Stack struct {
	logger *slog.Logger
	inject Injector
	done   []Step
}

// New returns an empty stack logging to logger.
func New(logger *slog.Logger, inject Injector) *Stack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stack{logger: logger, inject: inject}
}

// Run acquires steps in order. On the first failure every step acquired so
// far, including those from earlier calls, is released in reverse and the
// failure is returned. Release errors during that unwind are only logged.
func (s *Stack) Run(steps ...Step) error {
	for _, step := range steps {
		if err := s.acquire(step); err != nil {
			s.logger.Error("lifecycle step failed", "step", step.Name, "error", err)
			s.unwind()
			return errors.Wrapf(err, "failed to %s", step.Name)
		}
		s.done = append(s.done, step)
		s.logger.Debug("lifecycle step acquired", "step", step.Name)
	}
	return nil
}

func (s *Stack) acquire(step Step) error {
	if s.inject != nil {
		if err := s.inject(step.Name); err != nil {
			return err
		}
	}
	if step.Acquire == nil {
		return nil
	}
	return step.Acquire()
}

func (s *Stack) unwind() {
	for i := len(s.done) - 1; i >= 0; i-- {
		step := s.done[i]
		if err := abort(step); err != nil {
			s.logger.Error("failed to release during rollback", "step", step.Name, "error", err)
			continue
		}
		s.logger.Debug("lifecycle step released", "step", step.Name)
	}
	s.done = nil
}

// Close releases every acquired step in reverse order. All steps are
// released even if some fail; the failures are combined.
func (s *Stack) Close() error {
	var result error
	for i := len(s.done) - 1; i >= 0; i-- {
		step := s.done[i]
		if err := release(step); err != nil {
			s.logger.Error("failed to release", "step", step.Name, "error", err)
			result = errors.CombineErrors(result, errors.Wrapf(err, "failed to release %s", step.Name))
			continue
		}
		s.logger.Debug("lifecycle step released", "step", step.Name)
	}
	s.done = nil
	return result
}

// Acquired returns the names of the held steps in acquisition order.
func (s *Stack) Acquired() []string {
	names := make([]string, len(s.done))
	for i, step := range s.done {
		names[i] = step.Name
	}
	return names
}

func release(step Step) error {
	if step.Release == nil {
		return nil
	}
	return step.Release()
}

func abort(step Step) error {
	if step.Abort == nil {
		return release(step)
	}
	return step.Abort()
}
