package archive

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Pruner deletes archived sessions past their retention on a cron schedule.
type Pruner struct {
	cron      *cron.Cron
	store     *Store
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPruner schedules pruning. schedule accepts standard five-field cron
// expressions and descriptors such as "@daily" or "@every 1h".
func NewPruner(store *Store, retention time.Duration, schedule string, logger zerolog.Logger) (*Pruner, error) {
	p := &Pruner{
		cron:      cron.New(),
		store:     store,
		retention: retention,
		logger:    logger.With().Str("component", "archive-pruner").Logger(),
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce() }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start starts the scheduler
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop stops the scheduler and waits for a running prune to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// RunOnce prunes immediately. A zero retention keeps everything.
func (p *Pruner) RunOnce() (int, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	n, err := p.store.Prune(p.now().Add(-p.retention))
	if err != nil {
		p.logger.Error().Err(err).Msg("Archive prune failed")
		return 0, err
	}
	if n > 0 {
		p.logger.Info().Int("sessions", n).Msg("Pruned archived sessions")
	}
	return n, nil
}
