package models

import "time"

type SecurityEventType string

const (
	SecurityEventLoginSuccess         SecurityEventType = "login_success"
	SecurityEventLoginFailure         SecurityEventType = "login_failure"
	SecurityEventLoginThrottled       SecurityEventType = "login_throttled"
	SecurityEventLogout               SecurityEventType = "logout"
	SecurityEventVerificationReviewed SecurityEventType = "verification_reviewed"
)

// SecurityEvent is an append-only audit row.
type SecurityEvent struct {
	EventBucket int               `db:"event_bucket"`
	IdentityID  string            `db:"identity_id"`
	Subject     string            `db:"subject"`
	EventDate   string            `db:"event_date"`
	EventTime   time.Time         `db:"event_time"`
	EventType   SecurityEventType `db:"event_type"`
	IPAddress   string            `db:"ip_address"`
	Details     string            `db:"details"`
}
