package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/eventarchive"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Publisher delivers one event to the external queue.
type Publisher interface {
	Publish(ctx context.Context, rec *relationaldb.EventRecord) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, rec *relationaldb.EventRecord) error

func (f PublisherFunc) Publish(ctx context.Context, rec *relationaldb.EventRecord) error {
	return f(ctx, rec)
}

// Retry policy for transient delivery faults.
const (
	retryBaseDelay  = 250 * time.Millisecond
	retryMultiplier = 2
	retryMaxDelay   = 4 * time.Second
	retryMaxAttempt = 5
)

// Queue is the outbound event queue. Events are spooled to the append-only
// archive first, then delivered in order. Delivery failure never loses the
// event: the cursor stays put and the next drain retries from it.
type Queue struct {
	archive   eventarchive.Backend
	publisher Publisher

	mu     sync.Mutex
	cursor uint64 // last delivered sequence

	baseDelay time.Duration
	wake      chan struct{}
}

// NewQueue creates a queue over an opened archive backend.
func NewQueue(archive eventarchive.Backend, publisher Publisher) *Queue {
	return &Queue{
		archive:   archive,
		publisher: publisher,
		baseDelay: retryBaseDelay,
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue spools one committed event for delivery.
func (qu *Queue) Enqueue(rec *relationaldb.EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := qu.archive.Append(data); err != nil {
		return err
	}
	select {
	case qu.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run drains the spool until ctx is cancelled.
func (qu *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		if err := qu.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[events] drain: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-qu.wake:
		case <-ticker.C:
		}
	}
}

// Drain delivers every spooled event past the cursor, in order. It stops at
// the first event that exhausts its retry budget so ordering is preserved.
func (qu *Queue) Drain(ctx context.Context) error {
	qu.mu.Lock()
	defer qu.mu.Unlock()

	var pending []eventarchive.Record
	err := qu.archive.Scan(qu.cursor+1, func(r eventarchive.Record) bool {
		pending = append(pending, r)
		return true
	})
	if err != nil {
		return err
	}
	for _, rec := range pending {
		var ev relationaldb.EventRecord
		if err := json.Unmarshal(rec.Data, &ev); err != nil {
			// Unreadable spool entries are skipped, not retried forever.
			log.Printf("[events] skipping corrupt spool record %d: %v", rec.Seq, err)
			qu.cursor = rec.Seq
			continue
		}
		if err := qu.deliver(ctx, &ev); err != nil {
			return err
		}
		qu.cursor = rec.Seq
	}
	return nil
}

// Pending reports how many spooled events await delivery.
func (qu *Queue) Pending() (uint64, error) {
	qu.mu.Lock()
	defer qu.mu.Unlock()
	last, err := qu.archive.LastSeq()
	if err != nil {
		return 0, err
	}
	if last <= qu.cursor {
		return 0, nil
	}
	return last - qu.cursor, nil
}

func (qu *Queue) deliver(ctx context.Context, ev *relationaldb.EventRecord) error {
	delay := qu.baseDelay
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempt; attempt++ {
		lastErr = qu.publisher.Publish(ctx, ev)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == retryMaxAttempt {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= retryMultiplier
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}
