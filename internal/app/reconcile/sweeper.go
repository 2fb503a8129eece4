package reconcile

import (
	"context"
	"log/slog"

	"github.com/wildpath-tours/call-scheduler-api/internal/app/calls"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/clock"
)

// Sweeper retries calendar event creation for calls that were booked while
// the calendar was unavailable. Each run is idempotent: a call that gained
// a link since it was listed is left alone, and failures are simply retried
// on the next tick.
type Sweeper struct {
	calls callrepo.Repository
	svc   *calls.Service
	clk   clock.Clock
	log   *slog.Logger
}

func NewSweeper(repo callrepo.Repository, svc *calls.Service, clk clock.Clock, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{calls: repo, svc: svc, clk: clk, log: log}
}

// Run performs one sweep over degraded calls with a future start time and
// reports how many gained a calendar link.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	degraded, err := s.calls.ListDegraded(ctx, s.clk.Now().UTC())
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, c := range degraded {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		ok, err := s.svc.RepairCalendarLink(ctx, c.ID)
		if err != nil {
			s.log.Warn("calendar link repair failed", "callId", c.ID, "error", err)
			continue
		}
		if ok {
			repaired++
			s.log.Info("calendar link repaired", "callId", c.ID)
		}
	}
	if len(degraded) > 0 {
		s.log.Info("reconcile sweep finished", "degraded", len(degraded), "repaired", repaired)
	}
	return repaired, nil
}
