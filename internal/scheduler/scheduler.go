// Package scheduler provides a cron-driven alternative to the pulling
// engine's built-in reschedule ticker: an external, coarser-grained driver
// for callers who want to own the due-request sweep cadence themselves
// (pulling.EngineConfig.SelfReschedule = false).
package scheduler

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/pulling"
)

// Scheduler drives PullingEngine.Sweep on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	engine *pulling.PullingEngine
	logger *zap.Logger
}

// New builds a Scheduler that calls engine.Sweep according to spec, a
// six-field cron expression whose first field is seconds (the parser is
// built with cron.WithSeconds), e.g. "* * * * * *" for every second.
func New(engine *pulling.PullingEngine, spec string, logger *zap.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithSeconds())
	s := &Scheduler{cron: c, engine: engine, logger: logger}
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the cron schedule in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron schedule and waits for the running job, if any, to
// finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) sweep() {
	if s.logger != nil {
		s.logger.Debug("scheduler sweeping due requests")
	}
	s.engine.Sweep()
}
