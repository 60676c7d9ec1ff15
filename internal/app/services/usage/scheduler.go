package usage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/pkg/logger"
)

// rollupSpec runs shortly after midnight UTC so the previous day is complete.
const rollupSpec = "15 0 * * *"

// Scheduler runs the nightly usage rollup for every account. It implements
// the registry component lifecycle.
type Scheduler struct {
	service *Service
	users   storage.UserStore
	cron    *cron.Cron
	log     *logger.Logger
	now     func() time.Time
}

func NewScheduler(service *Service, users storage.UserStore, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		service: service,
		users:   users,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		log:     log,
		now:     time.Now,
	}
}

func (s *Scheduler) Name() string { return "usage-rollup" }

func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(rollupSpec, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunOnce(runCtx, s.now().UTC().AddDate(0, 0, -1))
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunOnce rolls up the given day for every account. Per-user failures are
// logged and skipped so one bad account does not starve the rest.
func (s *Scheduler) RunOnce(ctx context.Context, day time.Time) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.log.WithError(err).Error("rollup user listing failed")
		return
	}

	var failed int
	for _, u := range users {
		if err := s.service.RollupDay(ctx, u.ID, day); err != nil {
			failed++
			s.log.WithError(err).WithField("user_id", u.ID).Warn("rollup failed")
		}
	}
	s.log.WithField("users", len(users)).WithField("failed", failed).Info("usage rollup complete")
}
