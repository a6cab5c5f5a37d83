// Package passes holds the checks that run over a region's graphs before
// the host function is touched. Lowering cannot be undone once it starts,
// so everything a graph could fail on is caught here.
package passes

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dsac/internal/dfg"
)

// Pass checks one region.
type Pass interface {
	Name() string
	Run(f *dfg.File) error
}

// Manager runs passes in order.
type Manager struct {
	passes []Pass
	log    *zap.Logger
}

// NewManager builds a manager running passes in the given order.
func NewManager(log *zap.Logger, passes ...Pass) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{passes: passes, log: log}
}

// Add appends a pass.
func (m *Manager) Add(p Pass) { m.passes = append(m.passes, p) }

// Run executes every pass, even after one fails, and returns all failures.
func (m *Manager) Run(f *dfg.File) error {
	if f == nil {
		return fmt.Errorf("passes require a non-nil region")
	}
	var errs error
	for _, p := range m.passes {
		m.log.Debug("running pass", zap.String("pass", p.Name()), zap.String("region", f.Name))
		if err := p.Run(f); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errs
}
