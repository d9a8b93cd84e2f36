package cache

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"kardex_assistant/internal/logger"
)

// Janitor sweeps expired entries on a cron schedule so idle keys do not pile up
type Janitor struct {
	cron  *cron.Cron
	cache *Service
}

// NewJanitor schedules SweepExpired on spec (cron syntax or "@every 1m")
func NewJanitor(c *Service, spec string) (*Janitor, error) {
	if spec == "" {
		spec = "@every 1m"
	}
	j := &Janitor{
		cron:  cron.New(),
		cache: c,
	}
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid cache sweep schedule %q: %w", spec, err)
	}
	return j, nil
}

func (j *Janitor) sweep() {
	if n := j.cache.SweepExpired(); n > 0 {
		logger.Debug().Int("cleaned", n).Msg("Cache janitor sweep")
	}
}

// Start starts the scheduler
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
