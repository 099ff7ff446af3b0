package freeze

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/relaymesh/paf/internal/profile"
)

// reprobeSchedule is the once-per-minute cadence spec §4.4 names for the
// re-probe loop.
const reprobeSchedule = "@every 1m"

// reprobeScheduler drives one re-probe round per family, once a minute.
// Unlike a general-purpose job scheduler, it knows exactly one shape of
// work — "run a re-probe round for family F" — because Manager never
// needs anything else from it: no arbitrary job registration, no
// per-job cron expressions, just one ticking round per known family with
// a per-family TryLock so a slow round for one family never delays or
// piles up against the next tick for another.
type reprobeScheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	locks  map[profile.Family]*sync.Mutex
}

func newReprobeScheduler(logger *slog.Logger) *reprobeScheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &reprobeScheduler{
		logger: logger,
		locks:  make(map[profile.Family]*sync.Mutex),
	}
}

// start registers one reprobeSchedule tick per family and begins running
// them. round is invoked with the scheduler's background context; it
// should return once that family's re-probe pass has issued every probe
// it's going to issue for this tick (the probes themselves may still be
// in flight — reprobeFamily fires them off and returns).
func (s *reprobeScheduler) start(families []profile.Family, round func(ctx context.Context, family profile.Family)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(cron.WithParser(parser))

	for _, family := range families {
		family := family
		lock := &sync.Mutex{}
		s.locks[family] = lock

		_, err := s.cron.AddFunc(reprobeSchedule, func() {
			// TryLock is atomic — no race between check and acquire. If
			// the previous minute's round for this family is still
			// running (a slow or hung probe), skip this tick rather than
			// letting rounds pile up.
			if !lock.TryLock() {
				s.logger.Warn("freeze: re-probe round still running, skipping tick", "family", family)
				return
			}
			defer lock.Unlock()
			round(ctx, family)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("freeze: scheduling re-probe for family %q: %w", family, err)
		}
	}

	s.cron.Start()
	s.logger.Info("freeze: re-probe scheduler started", "families", len(families))
	return nil
}

// stop cancels the round context and waits for any in-flight tick to
// finish before returning.
func (s *reprobeScheduler) stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("freeze: re-probe scheduler stopped")
	}
	return nil
}
