package models

import "time"

type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusApproved VerificationStatus = "approved"
	VerificationStatusRejected VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationStatusPending, VerificationStatusApproved, VerificationStatusRejected:
		return true
	}
	return false
}

func (s VerificationStatus) IsDecision() bool {
	return s == VerificationStatusApproved || s == VerificationStatusRejected
}

// CanTransitionTo allows a single review out of pending; both decisions are terminal.
func (s VerificationStatus) CanTransitionTo(next VerificationStatus) bool {
	return s == VerificationStatusPending && next.IsDecision()
}

type VerificationEvidence struct {
	SelfieURL    string `db:"selfie_url" json:"selfie_url"`
	ContactEmail string `db:"contact_email" json:"contact_email"`
	ContactPhone string `db:"contact_phone" json:"contact_phone,omitempty"`
	SocialLinks  string `db:"social_links" json:"social_links,omitempty"`
	Description  string `db:"description" json:"description"`
	Reason       string `db:"reason" json:"reason"`
}

// VerificationRequest invariant: ReviewedAt != nil iff Status != pending.
type VerificationRequest struct {
	ID         string `db:"id" json:"id"`
	IdentityID string `db:"identity_id" json:"identity_id"`
	VerificationEvidence
	// DataKey is the wrapped key for the encrypted contact fields.
	DataKey      string             `db:"data_key" json:"-"`
	Status       VerificationStatus `db:"status" json:"status"`
	AdminComment *string            `db:"admin_comment" json:"admin_comment,omitempty"`
	ReviewedBy   *string            `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	ReviewedAt   *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// VerificationEntry joins a request with its owner's public profile.
type VerificationEntry struct {
	VerificationRequest
	Owner PublicProfile `json:"identity"`
}

// Review is the reviewer decision applied to a pending request.
type Review struct {
	Decision   VerificationStatus
	Comment    *string
	ReviewerID string
	ReviewedAt time.Time
}
