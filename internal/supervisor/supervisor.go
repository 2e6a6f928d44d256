// Package supervisor implements the periodic heartbeat-timeout sweep and
// the shutdown reset-all pass, grounded on the teacher's conn_tracker's
// CloseStale and the keepalive ticker pattern.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/campushub/eqserver/internal/catalog"
	"github.com/campushub/eqserver/internal/registry"
	"github.com/campushub/eqserver/pkg/wire"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the default heartbeat timeout (I4/§4.7).
const DefaultTimeout = 60 * time.Second

// DefaultInterval is the default maintenance tick period.
const DefaultInterval = time.Second

// Supervisor runs the periodic timeout sweep in its own goroutine.
type Supervisor struct {
	reg     *registry.Registry
	cat     *catalog.Catalog
	timeout time.Duration
	tick    time.Duration
	log     zerolog.Logger

	wg sync.WaitGroup
}

// New creates a supervisor. timeout and tick fall back to their defaults
// when zero.
func New(reg *registry.Registry, cat *catalog.Catalog, timeout, tick time.Duration, logger zerolog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tick <= 0 {
		tick = DefaultInterval
	}
	return &Supervisor{reg: reg, cat: cat, timeout: timeout, tick: tick, log: logger}
}

// Run starts the maintenance ticker; it returns once ctx is canceled,
// after performing the shutdown reset-all pass.
func (s *Supervisor) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.ResetAll()
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Wait blocks until Run has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// sweep closes every connection whose heartbeat has gone stale and logs a
// periodic count of connections/devices for operators tailing the log.
func (s *Supervisor) sweep() {
	cutoff := time.Now().Add(-s.timeout)
	closed := 0
	snapshot := s.reg.Snapshot()

	for _, entry := range snapshot {
		if entry.LastHeartbeat.Before(cutoff) {
			s.reg.CloseAndUnbind(entry.ConnID)
			closed++
		}
	}

	if closed > 0 {
		s.log.Debug().Int("closed", closed).Msg("supervisor closed stale connections")
	}

	online := 0
	for _, d := range s.cat.Snapshot() {
		if d.Status == wire.StatusOnline {
			online++
		}
	}
	s.log.Debug().
		Int("connections", len(snapshot)).
		Int("devices_online", online).
		Msg("supervisor tick")
}

// ResetAll forces every catalog device offline/off and closes every
// connection. Invoked once on server shutdown.
func (s *Supervisor) ResetAll() {
	s.cat.ResetAll()

	for _, entry := range s.reg.Snapshot() {
		s.reg.CloseAndUnbind(entry.ConnID)
	}

	s.log.Info().Msg("supervisor reset all devices offline for shutdown")
}
