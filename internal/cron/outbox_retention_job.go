package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
)

// publishedPruner is the outbox surface the retention job depends on.
type publishedPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxRetentionParams configure the outbox retention job.
type OutboxRetentionParams struct {
	Logger    *logger.Logger
	Outbox    publishedPruner
	Retention time.Duration
}

// OutboxRetentionJob prunes published outbox rows older than the retention
// window. Unpublished rows are never deleted here; they stay until the
// publisher either delivers them or parks them in the DLQ.
type OutboxRetentionJob struct {
	logg      *logger.Logger
	outbox    publishedPruner
	retention time.Duration
	now       func() time.Time
}

// NewOutboxRetentionJob builds the retention job.
func NewOutboxRetentionJob(params OutboxRetentionParams) (*OutboxRetentionJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("retention window must be positive")
	}
	return &OutboxRetentionJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		retention: params.Retention,
		now:       time.Now,
	}, nil
}

// Name implements Job.
func (j *OutboxRetentionJob) Name() string { return "outbox_retention" }

// Run deletes published events older than the cutoff.
func (j *OutboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.outbox.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune published outbox events: %w", err)
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithField(ctx, "deleted", deleted), "pruned published outbox events")
	}
	return nil
}
