package main

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/logging"
)

// stopFunc releases one component.
type stopFunc struct {
	name string
	fn   func() error
}

// shutdownStack stops components in reverse registration order.
type shutdownStack struct {
	funcs []stopFunc
}

// push registers a component to stop on shutdown.
func (s *shutdownStack) push(name string, fn func() error) {
	s.funcs = append(s.funcs, stopFunc{name: name, fn: fn})
}

// run stops every registered component, newest first. A failing component
// does not prevent the others from stopping.
//
// Returns:
//   - error: all stop failures, or nil
func (s *shutdownStack) run(log *logging.Logger) error {
	var result *multierror.Error

	for i := len(s.funcs) - 1; i >= 0; i-- {
		f := s.funcs[i]
		log.Info("stopping component", "component", f.name)
		if err := f.fn(); err != nil {
			log.Error("error stopping component", "component", f.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", f.name, err))
		}
	}
	s.funcs = nil

	return result.ErrorOrNil()
}
