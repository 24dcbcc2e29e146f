// Package mail keeps the outbound-mail bookkeeping for event updates. The
// actual transactional sending is an external capability; this package only
// decides who still needs a mail, when, and how rate limits are respected
// across restarts.
package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tidecal/internal/domain"
	"tidecal/internal/storage"
)

// Sender is the external transactional mail capability.
type Sender interface {
	SendEventUpdate(ctx context.Context, event *domain.Event, recipients []string) error
}

// LogSender is a Sender that only logs what would have been sent. Used when
// no transactional mail provider is configured.
type LogSender struct {
	Log *logrus.Logger
}

func (s *LogSender) SendEventUpdate(_ context.Context, event *domain.Event, recipients []string) error {
	s.Log.WithFields(logrus.Fields{
		"event":      event.ParentEventID,
		"recipients": len(recipients),
	}).Info("mail delivery skipped, no provider configured")
	return nil
}

// RequestForEvent records that an event's pushed update requires outbound
// mail: the queue is filled from attendees that need notifying and the
// request timestamp advances past the current one.
func RequestForEvent(e *domain.Event, now int64) {
	if !e.Local.UpdateTypes.Has(domain.UpdateTypeContent) && !e.Local.UpdateTypes.Has(domain.UpdateTypeRsvp) {
		return
	}
	queued := make(map[string]bool, len(e.Local.Emails.Queue))
	for _, addr := range e.Local.Emails.Queue {
		queued[addr] = true
	}
	for _, a := range e.Content.Attendees {
		if a.Email == "" || queued[a.Email] {
			continue
		}
		// Tombstoned attendees still get one uninvite mail.
		if a.Deleted && !a.IsNew {
			continue
		}
		e.Local.Emails.Queue = append(e.Local.Emails.Queue, a.Email)
	}
	if len(e.Local.Emails.Queue) > 0 {
		e.Local.RequestMailTimestamp = now
	}
}

// stealLock is a mutual-exclusion guard with an escape hatch: a holder that
// has been gone longer than the steal window loses the lock, so a crashed
// flush cannot wedge mail delivery forever.
type stealLock struct {
	mu    sync.Mutex
	held  bool
	since time.Time
}

func (l *stealLock) tryAcquire(now time.Time, stealAfter time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held && now.Sub(l.since) < stealAfter {
		return false
	}
	l.held = true
	l.since = now
	return true
}

func (l *stealLock) release() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}

// Flusher drains pending event mail.
type Flusher struct {
	storage    *storage.Storage
	sender     Sender
	log        *logrus.Logger
	lock       stealLock
	stealAfter time.Duration
	now        func() time.Time
}

func NewFlusher(s *storage.Storage, sender Sender, log *logrus.Logger) *Flusher {
	return &Flusher{
		storage:    s,
		sender:     sender,
		log:        log,
		stealAfter: 10 * time.Minute,
		now:        time.Now,
	}
}

// Flush sends queued mail for every event whose request timestamp is ahead
// of its current one. Lock losers skip; a persisted rate-limit cooldown is
// honored even across restarts. Send failures stop the run and leave the
// queue intact for the next flush.
func (f *Flusher) Flush(ctx context.Context) error {
	now := f.now()
	if !f.lock.tryAcquire(now, f.stealAfter) {
		return nil
	}
	defer f.lock.release()

	meta, err := f.storage.GetMetadata()
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("mail flush: calendar %w", domain.ErrNotFound)
	}
	if now.UnixMilli() < meta.MailCooldownUntil {
		f.log.WithField("until", meta.MailCooldownUntil).Debug("mail flush on cooldown")
		return nil
	}

	events, err := f.storage.PendingMailEvents()
	if err != nil {
		return err
	}

	for _, e := range events {
		if len(e.Local.Emails.Queue) == 0 {
			e.Local.CurrentMailTimestamp = e.Local.RequestMailTimestamp
			if err := f.storage.UpsertEvent(e); err != nil {
				return err
			}
			continue
		}

		err := f.sender.SendEventUpdate(ctx, e, e.Local.Emails.Queue)
		var rateErr *domain.RateLimitedError
		if errors.As(err, &rateErr) {
			// Server-supplied cooldown; persisted so it survives restarts.
			meta.MailCooldownUntil = f.now().UnixMilli() + rateErr.RetryAfter.Milliseconds()
			if saveErr := f.storage.SaveMetadata(meta); saveErr != nil {
				return saveErr
			}
			f.log.WithField("retryAfter", rateErr.RetryAfter).Warn("mail rate limited, backing off")
			return nil
		}
		if err != nil {
			return fmt.Errorf("send mail for %s: %w", e.ParentEventID, err)
		}

		e.Local.Emails.Sent = append(e.Local.Emails.Sent, e.Local.Emails.Queue...)
		e.Local.Emails.Queue = nil
		e.Local.CurrentMailTimestamp = e.Local.RequestMailTimestamp
		for i := range e.Content.Attendees {
			e.Content.Attendees[i].IsNew = false
		}
		if err := f.storage.UpsertEvent(e); err != nil {
			return err
		}
	}
	return nil
}
