package memory

import (
	"context"
	"sync"

	"social-service/internal/models"
	"social-service/internal/repository"
)

// AuditLog keeps security events in memory when ClickHouse is disabled.
type AuditLog struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

var _ repository.SecurityEventRecorder = (*AuditLog)(nil)

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) RecordSecurityEvent(ctx context.Context, event models.SecurityEvent) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	return nil
}

func (a *AuditLog) Events() []models.SecurityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.SecurityEvent(nil), a.events...)
}
