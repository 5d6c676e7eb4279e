package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/davidahmann/liqueflow/internal/ledger"
)

type Poster interface {
	PostEscalation(channel string, message Message) error
}

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	// OutboxStatusDead marks a notification that exhausted its attempts or cannot be decoded.
	OutboxStatusDead    = "dead"
)

const (
	// MaxDeliveryAttempts bounds retries; at the capped backoff this is roughly half an hour of trying.
	MaxDeliveryAttempts = 12

	defaultBatch = 50
	firstBackoff = 5 * time.Second
	backoffCeil  = 5 * time.Minute
	defaultPoll  = 2 * time.Second
	workerBatch  = 25
)

// ProcessOutboxDue delivers every due pending notification once. A failed post is rescheduled
// with exponential backoff; notifications for escalations that were already resolved are
// closed without posting. It returns how many records it touched.
func ProcessOutboxDue(ctx context.Context, store ledger.Store, poster Poster, now time.Time, limit int) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("missing store")
	}
	if poster == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultBatch
	}

	due, err := store.ListOutboxDue(now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return touched, err
		}
		if rec.Status != OutboxStatusPending {
			continue
		}
		deliver(store, poster, &rec, now.UTC())
		if err := store.PutOutbox(rec); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

// deliver advances one record to its next state in place.
func deliver(store ledger.Store, poster Poster, rec *ledger.OutboxRecord, now time.Time) {
	stamp := now.Format(time.RFC3339)
	rec.UpdatedAt = stamp

	if esc, ok := store.GetEscalation(rec.EscalationID); ok && esc.Status != StatusPending {
		rec.Status = OutboxStatusSent
		rec.SentAt = &stamp
		return
	}

	var msg Message
	if err := json.Unmarshal(rec.MessageJSON, &msg); err != nil {
		reason := "invalid message_json: " + err.Error()
		rec.LastError = &reason
		rec.Status = OutboxStatusDead
		return
	}

	if err := poster.PostEscalation(rec.Channel, msg); err != nil {
		reason := err.Error()
		rec.LastError = &reason
		rec.AttemptCount++
		if rec.AttemptCount >= MaxDeliveryAttempts {
			rec.Status = OutboxStatusDead
			return
		}
		rec.NextAttemptAt = now.Add(backoff(rec.AttemptCount - 1)).Format(time.RFC3339)
		return
	}

	rec.Status = OutboxStatusSent
	rec.SentAt = &stamp
}

// backoff doubles from 5s per prior failure and stops growing at 5m.
func backoff(failures int) time.Duration {
	if failures <= 0 {
		return firstBackoff
	}
	if failures >= 6 {
		return backoffCeil
	}
	return min(firstBackoff<<failures, backoffCeil)
}

// RunOutboxWorker polls and processes due escalation notifications until ctx is cancelled.
// A failed pass is logged and retried on the next tick; a nil logger uses log.Default.
func RunOutboxWorker(ctx context.Context, store ledger.Store, poster Poster, pollInterval time.Duration, logger *log.Logger) {
	if pollInterval <= 0 {
		pollInterval = defaultPoll
	}
	if logger == nil {
		logger = log.Default()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := ProcessOutboxDue(ctx, store, poster, now, workerBatch); err != nil && ctx.Err() == nil {
				logger.Printf("outbox_error err=%v", err)
			}
		}
	}
}
