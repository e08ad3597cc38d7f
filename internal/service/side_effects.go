package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"social-service/internal/bucketing"
	"social-service/internal/events"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// SideEffects fans out the post-commit work of a service call: domain events
// and security audit rows. Failures are logged and never reach the caller.
type SideEffects struct {
	publisher events.Publisher
	audit     repository.SecurityEventRecorder
	buckets   *bucketing.BucketingManager
	logger    *zap.Logger
}

func NewSideEffects(
	publisher events.Publisher,
	audit repository.SecurityEventRecorder,
	buckets *bucketing.BucketingManager,
	logger *zap.Logger,
) *SideEffects {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = util.Get()
	}
	return &SideEffects{publisher: publisher, audit: audit, buckets: buckets, logger: logger}
}

// SecurityEvent fills the partitioning columns for an audit row.
func (e *SideEffects) SecurityEvent(eventType models.SecurityEventType, identityID, subject, ip, details string) models.SecurityEvent {
	now := time.Now().UTC()
	bucketKey := identityID
	if bucketKey == "" {
		bucketKey = subject
	}
	ev := models.SecurityEvent{
		IdentityID: identityID,
		Subject:    subject,
		EventTime:  now,
		EventType:  eventType,
		IPAddress:  ip,
		Details:    details,
		EventDate:  now.Format("2006-01-02"),
	}
	if e.buckets != nil {
		ev.EventBucket = e.buckets.EventBucket(bucketKey)
		ev.EventDate = e.buckets.DateBucket(now)
	}
	return ev
}

// Emit publishes evs and records audits concurrently and waits for both.
func (e *SideEffects) Emit(ctx context.Context, evs []events.Event, audits ...models.SecurityEvent) {
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(4)
	for _, ev := range evs {
		ev := ev
		g.Go(func() error {
			if err := e.publisher.Publish(ctx, ev); err != nil {
				return fmt.Errorf("publish %s: %w", ev.Type, err)
			}
			return nil
		})
	}
	if e.audit != nil {
		for _, a := range audits {
			a := a
			g.Go(func() error {
				if err := e.audit.RecordSecurityEvent(ctx, a); err != nil {
					return fmt.Errorf("audit %s: %w", a.EventType, err)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		e.logger.Warn("Post-commit side effect failed", util.ErrorField(err))
	}
}
