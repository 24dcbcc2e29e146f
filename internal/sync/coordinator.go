package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"tidecal/internal/crypto"
	"tidecal/internal/domain"
	"tidecal/internal/mail"
	"tidecal/internal/merge"
	"tidecal/internal/storage"
)

// ErrSyncInProgress is returned to a caller that lost the acquire-or-skip
// race. The loser simply does not run; it never queues.
var ErrSyncInProgress = errors.New("sync already in progress")

// Result summarizes one completed sync cycle.
type Result struct {
	Checkpoint *int64
	Pushed     int
	Pulled     int
	State      ResponseState
}

// Coordinator drives the checkpointed push/pull cycle: collect unsynced
// events, exchange them for the server's deltas, merge each delta against
// the local copy and advance the checkpoint.
type Coordinator struct {
	storage *storage.Storage
	client  *Client
	keys    *crypto.Keyring
	log     *logrus.Logger
	mu      gosync.Mutex
	now     func() int64
}

func NewCoordinator(s *storage.Storage, client *Client, keys *crypto.Keyring, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		storage: s,
		client:  client,
		keys:    keys,
		log:     log,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Sync runs one cycle. Overlapping invocations (timer, user action, app
// foreground) are collapsed: only one runs, the rest get ErrSyncInProgress.
// A transport failure leaves every local record untouched and still
// waiting; the next scheduled cycle retries.
func (c *Coordinator) Sync(ctx context.Context) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer c.mu.Unlock()

	meta, err := c.storage.GetMetadata()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("sync: calendar %w", domain.ErrNotFound)
	}

	unsynced, err := c.storage.UnsyncedEvents(meta.LastUpdated)
	if err != nil {
		return nil, err
	}

	req := &Request{
		CalendarID: meta.CalendarID,
		Checkpoint: meta.LastUpdated,
		Events:     make([]WireEvent, 0, len(unsynced)),
	}
	pushedIDs := make([]string, 0, len(unsynced))
	for _, e := range unsynced {
		we, err := encodeEvent(c.keys, e)
		if err != nil {
			c.log.WithError(err).WithField("event", e.ParentEventID).Warn("skipping unencodable event")
			continue
		}
		req.Events = append(req.Events, we)
		pushedIDs = append(pushedIDs, e.ParentEventID)
	}

	resp, err := c.client.Sync(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sync exchange: %w", err)
	}

	result := &Result{Pushed: len(req.Events), State: resp.State}
	now := c.now()

	err = c.storage.WithTx(func(tx *storage.Storage) error {
		// An anomalous response without a checkpoint must not regress the
		// cursor and force a full re-pull.
		if resp.Checkpoint != nil {
			meta.LastUpdated = resp.Checkpoint
		}
		if err := tx.SaveMetadata(meta); err != nil {
			return err
		}

		// Acked pushes transition Waiting -> Done first: the server's delta
		// echoes the events just pushed, and an echo with equal stamps then
		// merges conflict-free and stays Done. A genuinely newer or
		// conflicting delta re-flags the event below. This is the only
		// place the Waiting -> Done transition happens.
		for _, id := range pushedIDs {
			e, err := tx.GetEvent(id)
			if err != nil {
				return err
			}
			if e == nil {
				continue
			}
			mail.RequestForEvent(e, now)
			e.Local.SyncState = domain.SyncStateDone
			e.Local.UpdateTypes = nil
			if err := tx.UpsertEvent(e); err != nil {
				return err
			}
		}

		for _, we := range resp.Events {
			incoming, err := decodeEvent(c.keys, we)
			if err != nil {
				return err
			}
			local, err := tx.GetEvent(incoming.ParentEventID)
			if err != nil {
				return err
			}
			merged := merge.Merge(local, incoming)
			if err := tx.UpsertEvent(merged); err != nil {
				return err
			}
			result.Pulled++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Checkpoint = meta.LastUpdated

	c.log.WithFields(logrus.Fields{
		"pushed": result.Pushed,
		"pulled": result.Pulled,
		"state":  result.State,
	}).Info("sync cycle complete")
	return result, nil
}
