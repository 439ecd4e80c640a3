// Package shutdown generalizes the teacher's inline defer chain
// (prov.Close(), svc.proxy.Close(), svc.lspManager.StopAll(...),
// svc.webCache.Close()) into an explicit, ordered supervisor so components
// registered dynamically (a delegate's provider, a session's rollout store)
// still close in the right order without growing the call site's defer list.
package shutdown

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Closer is anything a component registers to run on shutdown.
type Closer func() error

// Supervisor runs registered Closers in reverse-registration order, the same
// order Go's own defer stack would give a hand-written chain.
type Supervisor struct {
	closers []namedCloser

	// suppressNextComplete, when true, tells a consumer-side UI to skip the
	// next "shutdown complete" notification — set when Shutdown is invoked as
	// part of a restart rather than a final exit.
	suppressNextComplete bool
}

type namedCloser struct {
	name   string
	closer Closer
}

// New creates an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Register adds a Closer, to run before any Closer registered earlier.
func (s *Supervisor) Register(name string, closer Closer) {
	s.closers = append(s.closers, namedCloser{name: name, closer: closer})
}

// SuppressNextComplete marks the next Shutdown as not final.
func (s *Supervisor) SuppressNextComplete() {
	s.suppressNextComplete = true
}

// ConsumeSuppressNextComplete reports and clears the suppression flag.
func (s *Supervisor) ConsumeSuppressNextComplete() bool {
	v := s.suppressNextComplete
	s.suppressNextComplete = false
	return v
}

// Shutdown runs every registered Closer in reverse order, logging but not
// stopping on individual failures, and returns the joined errors if any.
func (s *Supervisor) Shutdown() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		nc := s.closers[i]
		if err := nc.closer(); err != nil {
			log.Warn().Err(err).Str("component", nc.name).Msg("shutdown: component close failed")
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	s.closers = nil
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %v", joined, e)
	}
	return joined
}
