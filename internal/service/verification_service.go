package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-service/internal/encryption"
	"social-service/internal/events"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// SubmitVerificationRequest represents the evidence an identity submits.
type SubmitVerificationRequest struct {
	IdentityID   string `json:"user_id"`
	SelfieURL    string `json:"selfie_url" validate:"required,url,max=2048"`
	ContactEmail string `json:"contact_email" validate:"required,email,max=254"`
	ContactPhone string `json:"contact_phone" validate:"omitempty,max=32"`
	SocialLinks  string `json:"social_links" validate:"omitempty,max=1024"`
	Description  string `json:"description" validate:"required,max=2000"`
	Reason       string `json:"reason" validate:"required,max=2000"`
}

// ReviewVerificationRequest represents a reviewer decision.
type ReviewVerificationRequest struct {
	RequestID    string `json:"request_id" validate:"required,max=64"`
	Status       string `json:"status" validate:"required,oneof=approved rejected"`
	AdminComment string `json:"admin_comment" validate:"omitempty,max=2000"`
}

type verificationEventPayload struct {
	ID         string                    `json:"id"`
	IdentityID string                    `json:"identity_id"`
	Status     models.VerificationStatus `json:"status"`
	ReviewedBy string                    `json:"reviewed_by,omitempty"`
}

// VerificationService owns the verification state machine:
// pending -> approved and pending -> rejected, both terminal.
type VerificationService struct {
	identities    repository.IdentityRepository
	verifications repository.VerificationRepository
	encryptionMgr *encryption.EncryptionManager
	effects       *SideEffects
	logger        *zap.Logger
}

func NewVerificationService(
	identities repository.IdentityRepository,
	verifications repository.VerificationRepository,
	encryptionMgr *encryption.EncryptionManager,
	effects *SideEffects,
	logger *zap.Logger,
) *VerificationService {
	return &VerificationService{
		identities:    identities,
		verifications: verifications,
		encryptionMgr: encryptionMgr,
		effects:       effects,
		logger:        logger,
	}
}

// contactAAD binds sealed contact fields to their request and owner.
func contactAAD(requestID, identityID string) string {
	return "verification:" + requestID + ":" + identityID
}

// Submit files a pending request for the caller. Contact fields are sealed at rest.
func (s *VerificationService) Submit(ctx context.Context, caller *models.Identity, req *SubmitVerificationRequest) (*models.VerificationRequest, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.IdentityID != "" && req.IdentityID != caller.ID {
		return nil, unauthorizedf("verification can only be requested for your own identity")
	}

	owner, err := s.identities.GetIdentityByID(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("identity %s does not exist", caller.ID)
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if owner.Verified {
		return nil, invalidTransitionf("identity is already verified")
	}

	evidence := models.VerificationEvidence{
		SelfieURL:    req.SelfieURL,
		ContactEmail: util.NormalizeEmail(req.ContactEmail),
		ContactPhone: req.ContactPhone,
		SocialLinks:  req.SocialLinks,
		Description:  req.Description,
		Reason:       req.Reason,
	}

	request := &models.VerificationRequest{
		ID:                   uuid.NewString(),
		IdentityID:           caller.ID,
		VerificationEvidence: evidence,
		Status:               models.VerificationStatusPending,
	}
	sealed, wrappedKey, err := s.encryptionMgr.SealFields(ctx, contactAAD(request.ID, request.IdentityID),
		evidence.ContactEmail, evidence.ContactPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to seal contact fields: %w", err)
	}
	request.ContactEmail, request.ContactPhone = sealed[0], sealed[1]
	request.DataKey = wrappedKey

	if err := s.verifications.CreateVerification(ctx, request); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, conflictf("a verification request is already pending")
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFoundf("identity %s does not exist", caller.ID)
		}
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}
	request.ContactEmail, request.ContactPhone = evidence.ContactEmail, evidence.ContactPhone

	s.effects.Emit(ctx, []events.Event{events.New(events.VerificationSubmitted, request.ID, verificationEventPayload{
		ID:         request.ID,
		IdentityID: request.IdentityID,
		Status:     request.Status,
	})})

	s.logger.Info("Verification submitted",
		util.String("request_id", request.ID),
		util.String("identity_id", request.IdentityID),
	)
	return request, nil
}

// ListByStatus returns requests in status (default pending), newest first. Reviewers only.
func (s *VerificationService) ListByStatus(ctx context.Context, caller *models.Identity, status string) ([]models.VerificationEntry, error) {
	if !caller.IsReviewer() {
		return nil, unauthorizedf("only reviewers may list verification requests")
	}
	if status == "" {
		status = string(models.VerificationStatusPending)
	}
	st := models.VerificationStatus(status)
	if !st.Valid() {
		return nil, validationErrorf("status must be one of: pending approved rejected")
	}

	entries, err := s.verifications.ListVerificationsByStatus(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification requests: %w", err)
	}
	for i := range entries {
		s.openContact(ctx, &entries[i].VerificationRequest)
	}
	if entries == nil {
		entries = []models.VerificationEntry{}
	}
	return entries, nil
}

// Get returns one request with its contact fields opened. Only the owner or
// a reviewer may read it.
func (s *VerificationService) Get(ctx context.Context, caller *models.Identity, requestID string) (*models.VerificationRequest, error) {
	if requestID == "" {
		return nil, validationErrorf("request_id is required")
	}
	request, err := s.verifications.GetVerification(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("verification request %s does not exist", requestID)
		}
		return nil, fmt.Errorf("failed to load verification request: %w", err)
	}
	if request.IdentityID != caller.ID && !caller.IsReviewer() {
		return nil, unauthorizedf("only the owner or a reviewer may view a verification request")
	}
	s.openContact(ctx, request)
	return request, nil
}

// ListMine returns the caller's own requests, newest first.
func (s *VerificationService) ListMine(ctx context.Context, caller *models.Identity) ([]models.VerificationRequest, error) {
	requests, err := s.verifications.ListVerificationsByIdentity(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification requests: %w", err)
	}
	for i := range requests {
		s.openContact(ctx, &requests[i])
	}
	if requests == nil {
		requests = []models.VerificationRequest{}
	}
	return requests, nil
}

// Review moves a pending request to approved or rejected. Approval sets the
// owner's verified flag in the same transaction. Reviewing a terminal request
// fails with ErrInvalidStateTransition and writes nothing.
func (s *VerificationService) Review(ctx context.Context, caller *models.Identity, req *ReviewVerificationRequest, clientIP string) (*models.VerificationRequest, error) {
	if !caller.IsReviewer() {
		return nil, unauthorizedf("only reviewers may review verification requests")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	decision := models.VerificationStatus(req.Status)
	review := models.Review{
		Decision:   decision,
		ReviewerID: caller.ID,
		ReviewedAt: time.Now().UTC(),
	}
	if req.AdminComment != "" {
		comment := req.AdminComment
		review.Comment = &comment
	}

	reviewed, err := s.verifications.ReviewVerification(ctx, req.RequestID, review, func(current *models.VerificationRequest) error {
		if current.IdentityID == caller.ID {
			return unauthorizedf("reviewers cannot review their own request")
		}
		if !current.Status.CanTransitionTo(decision) {
			return invalidTransitionf("verification request is already %s", current.Status)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("verification request %s does not exist", req.RequestID)
		}
		return nil, err
	}

	evs := []events.Event{events.New(events.VerificationReviewed, reviewed.ID, verificationEventPayload{
		ID:         reviewed.ID,
		IdentityID: reviewed.IdentityID,
		Status:     reviewed.Status,
		ReviewedBy: caller.ID,
	})}
	if reviewed.Status == models.VerificationStatusApproved {
		evs = append(evs, events.New(events.IdentityVerified, reviewed.IdentityID, nil))
	}
	s.effects.Emit(ctx, evs, s.effects.SecurityEvent(
		models.SecurityEventVerificationReviewed, caller.ID, reviewed.ID, clientIP, string(reviewed.Status)))

	s.logger.Info("Verification reviewed",
		util.String("request_id", reviewed.ID),
		util.String("identity_id", reviewed.IdentityID),
		util.String("status", string(reviewed.Status)),
		util.String("reviewer_id", caller.ID),
	)

	s.openContact(ctx, reviewed)
	return reviewed, nil
}

// openContact replaces sealed contact fields with plaintext. A request whose
// key cannot be opened is returned with the fields blanked.
func (s *VerificationService) openContact(ctx context.Context, v *models.VerificationRequest) {
	if v.DataKey == "" {
		return
	}
	plain, err := s.encryptionMgr.OpenFields(ctx, v.DataKey, contactAAD(v.ID, v.IdentityID), v.ContactEmail, v.ContactPhone)
	if err != nil {
		s.logger.Error("Failed to open verification contact fields",
			util.String("request_id", v.ID),
			util.ErrorField(err))
		v.ContactEmail, v.ContactPhone = "", ""
		return
	}
	v.ContactEmail, v.ContactPhone = plain[0], plain[1]
}
