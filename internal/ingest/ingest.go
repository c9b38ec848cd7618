// Package ingest stores newly seen notices and announces them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/metrics"
	"github.com/ajou-notice/noticepoller/internal/notice"
)

// Outcome is the result of ingesting one notice.
type Outcome int

// Ingest outcomes.
const (
	Skipped Outcome = iota
	Inserted
)

func (o Outcome) String() string {
	if o == Inserted {
		return "inserted"
	}
	return "skipped"
}

// EventType tags published new-notice events.
const EventType = "notice.created"

// Event is the payload published for every inserted notice.
type Event struct {
	Type       string        `json:"type"`
	Notice     notice.Notice `json:"notice"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Summary counts the outcomes of one batch.
type Summary struct {
	Inserted int
	Skipped  int
	New      []notice.Notice
}

// Config controls event publication.
type Config struct {
	// Channel receives one Event per inserted notice. Empty disables publishing.
	Channel string
}

// Ingester deduplicates notices against a store.
type Ingester struct {
	store     notice.Store
	publisher notice.Publisher
	clock     notice.Clock
	channel   string
	logger    *zap.Logger
}

// New wires an Ingester. publisher may be nil.
func New(cfg Config, store notice.Store, publisher notice.Publisher, clock notice.Clock, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:     store,
		publisher: publisher,
		clock:     clock,
		channel:   cfg.Channel,
		logger:    logger,
	}
}

// Ingest inserts n unless its id is already stored.
func (i *Ingester) Ingest(ctx context.Context, n notice.Notice) (Outcome, error) {
	exists, err := i.store.Exists(ctx, n.ID)
	if err != nil {
		return Skipped, fmt.Errorf("ingest notice %d: %w", n.ID, err)
	}
	if exists {
		metrics.ObserveNotice(Skipped.String())
		return Skipped, nil
	}
	if err := i.store.Insert(ctx, n); err != nil {
		return Skipped, fmt.Errorf("ingest notice %d: %w", n.ID, err)
	}
	metrics.ObserveNotice(Inserted.String())
	i.logger.Info("notice stored",
		zap.Int64("notice_id", n.ID),
		zap.String("title", n.Title),
		zap.String("date", n.Date),
	)
	i.announce(ctx, n)
	return Inserted, nil
}

// IngestAll ingests notices in order and stops at the first store error.
func (i *Ingester) IngestAll(ctx context.Context, notices []notice.Notice) (Summary, error) {
	var sum Summary
	for _, n := range notices {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("ingest canceled: %w", err)
		}
		outcome, err := i.Ingest(ctx, n)
		if err != nil {
			return sum, err
		}
		switch outcome {
		case Inserted:
			sum.Inserted++
			sum.New = append(sum.New, n)
		case Skipped:
			sum.Skipped++
		}
	}
	return sum, nil
}

func (i *Ingester) announce(ctx context.Context, n notice.Notice) {
	if i.publisher == nil || i.channel == "" {
		return
	}
	evt := Event{Type: EventType, Notice: n}
	if i.clock != nil {
		evt.DetectedAt = i.clock.Now()
	}
	id, err := i.publisher.Publish(ctx, i.channel, evt)
	if err != nil {
		metrics.ObservePublishError()
		i.logger.Warn("publish notice failed", zap.Int64("notice_id", n.ID), zap.Error(err))
		return
	}
	i.logger.Debug("notice published", zap.Int64("notice_id", n.ID), zap.String("message_id", id))
}
