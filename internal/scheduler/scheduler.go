package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tidecal/config"
	"tidecal/internal/interop"
	"tidecal/internal/mail"
	"tidecal/internal/service"
	"tidecal/internal/sync"
)

// Scheduler runs the periodic background work: the sync cycle, the mail
// flush and external subscription refreshes.
type Scheduler struct {
	cron         *cron.Cron
	cfg          *config.Config
	coordinator  *sync.Coordinator
	flusher      *mail.Flusher
	events       *service.EventService
	subscription *interop.Subscription
	log          *logrus.Logger
}

func New(cfg *config.Config, coordinator *sync.Coordinator, flusher *mail.Flusher,
	events *service.EventService, subscription *interop.Subscription, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithLocation(cfg.Timezone)),
		cfg:          cfg,
		coordinator:  coordinator,
		flusher:      flusher,
		events:       events,
		subscription: subscription,
		log:          log,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	syncSpec := fmt.Sprintf("@every %s", s.cfg.SyncInterval)
	if _, err := s.cron.AddFunc(syncSpec, func() { s.runSync(ctx) }); err != nil {
		return fmt.Errorf("add sync job: %w", err)
	}

	mailSpec := fmt.Sprintf("@every %s", s.cfg.MailFlushInterval)
	if _, err := s.cron.AddFunc(mailSpec, func() { s.runMailFlush(ctx) }); err != nil {
		return fmt.Errorf("add mail flush job: %w", err)
	}

	if s.subscription != nil && s.subscription.IsConfigured() {
		feedSpec := fmt.Sprintf("@every %s", s.cfg.FeedRefreshInterval)
		if _, err := s.cron.AddFunc(feedSpec, func() { s.runFeedRefresh(ctx) }); err != nil {
			return fmt.Errorf("add feed refresh job: %w", err)
		}
	}

	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"sync": s.cfg.SyncInterval,
		"mail": s.cfg.MailFlushInterval,
	}).Info("scheduler started")

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runSync(ctx context.Context) {
	result, err := s.coordinator.Sync(ctx)
	if errors.Is(err, sync.ErrSyncInProgress) {
		// Acquire-or-skip: another trigger already runs this cycle.
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("scheduled sync failed, will retry next cycle")
		return
	}
	if result.Pushed > 0 || result.Pulled > 0 {
		s.log.WithFields(logrus.Fields{"pushed": result.Pushed, "pulled": result.Pulled}).
			Debug("scheduled sync done")
	}
}

func (s *Scheduler) runMailFlush(ctx context.Context) {
	if err := s.flusher.Flush(ctx); err != nil {
		s.log.WithError(err).Warn("mail flush failed")
	}
}

func (s *Scheduler) runFeedRefresh(ctx context.Context) {
	from := time.Now().Truncate(24 * time.Hour)
	to := from.AddDate(0, 3, 0)
	records, err := s.subscription.FetchEvents(ctx, from, to)
	if err != nil {
		s.log.WithError(err).Warn("feed refresh failed")
		return
	}
	changed, err := s.events.ImportExternal(records)
	if err != nil {
		s.log.WithError(err).Warn("feed import failed")
		return
	}
	if changed > 0 {
		s.log.WithField("changed", changed).Info("imported external feed updates")
	}
}
