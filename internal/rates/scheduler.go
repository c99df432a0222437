package rates

import (
	"context"
	"time"

	"famfin/internal/log"
)

// Scheduler refreshes rates for a set of base currencies once a day at the
// configured UTC hour. Only the single next instant is ever scheduled.
type Scheduler struct {
	service *Service
	bases   []string
	hour    int
	now     func() time.Time
	logger  *log.Logger
}

func NewScheduler(service *Service, bases []string, hourUTC int, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Scheduler{
		service: service,
		bases:   bases,
		hour:    hourUTC,
		now:     time.Now,
		logger:  logger.WithComponent(log.ComponentRates),
	}
}

// Run blocks until ctx ends, refreshing at each scheduled instant.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := NextUpdate(s.now(), s.hour)
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		s.logger.InfoContext(ctx, "Next exchange rate update scheduled",
			log.FieldOperation, log.OpSchedule, "at", next, "in", wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every base, logging failures. It returns how many
// bases were updated.
func (s *Scheduler) RefreshAll(ctx context.Context) int {
	updated := 0
	for _, base := range s.bases {
		if _, err := s.service.Refresh(ctx, base); err != nil {
			s.logger.ErrorContext(ctx, "Exchange rate update failed",
				log.FieldCurrency, base, log.FieldError, err)
			continue
		}
		updated++
	}
	return updated
}
