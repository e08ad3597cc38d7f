// Package clickhouse stores the append-only security audit trail.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"social-service/internal/models"
	"social-service/internal/repository"
)

const createSecurityEvents = `
CREATE TABLE IF NOT EXISTS security_events (
    event_bucket UInt16,
    identity_id  String,
    subject      String,
    event_date   Date,
    event_time   DateTime64(3, 'UTC'),
    event_type   LowCardinality(String),
    ip_address   String,
    details      String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_bucket, event_date, event_time)`

const insertSecurityEvent = `INSERT INTO security_events
    (event_bucket, identity_id, subject, event_date, event_time, event_type, ip_address, details)`

// Conn is satisfied by client.ClickHouseClient.
type Conn interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

type SecurityEventRepository struct {
	conn Conn
}

var _ repository.SecurityEventRecorder = (*SecurityEventRepository)(nil)

func NewSecurityEventRepository(conn Conn) *SecurityEventRepository {
	return &SecurityEventRepository{conn: conn}
}

func (r *SecurityEventRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, createSecurityEvents); err != nil {
		return fmt.Errorf("create security_events: %w", err)
	}
	return nil
}

func (r *SecurityEventRepository) RecordSecurityEvent(ctx context.Context, e models.SecurityEvent) error {
	eventDate, err := time.Parse("2006-01-02", e.EventDate)
	if err != nil {
		eventDate = e.EventTime.UTC().Truncate(24 * time.Hour)
	}

	row := []interface{}{
		uint16(e.EventBucket),
		e.IdentityID,
		e.Subject,
		eventDate,
		e.EventTime.UTC(),
		string(e.EventType),
		e.IPAddress,
		e.Details,
	}
	if err := r.conn.BatchInsert(ctx, insertSecurityEvent, [][]interface{}{row}); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}
