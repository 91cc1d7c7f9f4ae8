package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweepable is anything whose viewers can be probed for liveness.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically probes viewers so dead connections are pruned even when no
// message is being broadcast.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules target.Sweep every interval.
func NewSweeper(target Sweepable, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc("@every "+interval.String(), func() {
		n := target.Sweep()
		logger.Debug("liveness sweep", "probes", n)
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling sweep: %w", err)
	}
	return &Sweeper{cron: c, logger: logger}, nil
}

// Start begins scheduling sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("liveness sweeper started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("liveness sweeper stopped")
}
