package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-service/internal/events"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// SendFriendRequest represents a new friend request. RequesterID is optional
// and must match the caller when present.
type SendFriendRequest struct {
	RequesterID string `json:"user_id"`
	RecipientID string `json:"friend_id" validate:"required,max=64"`
}

// RespondFriendRequest represents the recipient's answer to a pending request.
type RespondFriendRequest struct {
	RequestID string `json:"request_id" validate:"required,max=64"`
	Status    string `json:"status" validate:"required,oneof=accepted declined"`
}

// RelationshipService owns the friendship state machine:
// pending -> accepted and pending -> declined, plus withdrawal by either party.
type RelationshipService struct {
	identities  repository.IdentityRepository
	friendships repository.FriendshipRepository
	effects     *SideEffects
	logger      *zap.Logger
}

func NewRelationshipService(
	identities repository.IdentityRepository,
	friendships repository.FriendshipRepository,
	effects *SideEffects,
	logger *zap.Logger,
) *RelationshipService {
	return &RelationshipService{
		identities:  identities,
		friendships: friendships,
		effects:     effects,
		logger:      logger,
	}
}

// SendRequest creates a pending friendship from caller to the recipient.
func (s *RelationshipService) SendRequest(ctx context.Context, caller *models.Identity, req *SendFriendRequest) (*models.Friendship, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.RequesterID != "" && req.RequesterID != caller.ID {
		return nil, unauthorizedf("requests can only be sent on your own behalf")
	}
	if req.RecipientID == caller.ID {
		return nil, validationErrorf("cannot send a friend request to yourself")
	}

	if _, err := s.identities.GetIdentityByID(ctx, req.RecipientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("recipient %s does not exist", req.RecipientID)
		}
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}

	friendship := &models.Friendship{
		ID:          uuid.NewString(),
		RequesterID: caller.ID,
		RecipientID: req.RecipientID,
		Status:      models.FriendshipStatusPending,
	}
	if err := s.friendships.CreateFriendship(ctx, friendship); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, conflictf("a pending or accepted friendship already exists for this pair")
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFoundf("recipient %s does not exist", req.RecipientID)
		}
		return nil, fmt.Errorf("failed to create friendship: %w", err)
	}

	s.effects.Emit(ctx, []events.Event{events.New(events.FriendshipRequested, friendship.ID, friendship)})

	s.logger.Info("Friend request sent",
		util.String("friendship_id", friendship.ID),
		util.String("requester_id", friendship.RequesterID),
		util.String("recipient_id", friendship.RecipientID),
	)
	return friendship, nil
}

// RespondToRequest applies the recipient's decision under the row lock.
func (s *RelationshipService) RespondToRequest(ctx context.Context, caller *models.Identity, req *RespondFriendRequest) (*models.Friendship, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	decision := models.FriendshipStatus(req.Status)

	friendship, err := s.friendships.UpdateFriendship(ctx, req.RequestID, func(current *models.Friendship) error {
		if current.RecipientID != caller.ID {
			return unauthorizedf("only the recipient may respond to a friend request")
		}
		if !current.Status.CanTransitionTo(decision) {
			return invalidTransitionf("friend request is already %s", current.Status)
		}
		current.Status = decision
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("friend request %s does not exist", req.RequestID)
		}
		return nil, err
	}

	s.effects.Emit(ctx, []events.Event{events.New(events.FriendshipResponded, friendship.ID, friendship)})

	s.logger.Info("Friend request answered",
		util.String("friendship_id", friendship.ID),
		util.String("status", string(friendship.Status)),
	)
	return friendship, nil
}

// GetRequest returns one friendship row. Only its two parties may read it.
func (s *RelationshipService) GetRequest(ctx context.Context, caller *models.Identity, requestID string) (*models.Friendship, error) {
	if requestID == "" {
		return nil, validationErrorf("request_id is required")
	}
	friendship, err := s.friendships.GetFriendship(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("friend request %s does not exist", requestID)
		}
		return nil, fmt.Errorf("failed to load friend request: %w", err)
	}
	if !friendship.Involves(caller.ID) {
		return nil, unauthorizedf("only a party to the friendship may view it")
	}
	return friendship, nil
}

// WithdrawRequest removes the friendship. A missing row is a successful no-op;
// an existing row may only be removed by one of its two parties.
func (s *RelationshipService) WithdrawRequest(ctx context.Context, caller *models.Identity, requestID string) (bool, error) {
	if requestID == "" {
		return false, validationErrorf("request_id is required")
	}

	deleted, err := s.friendships.DeleteFriendship(ctx, requestID, func(current *models.Friendship) error {
		if !current.Involves(caller.ID) {
			return unauthorizedf("only a party to the friendship may withdraw it")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if deleted {
		s.effects.Emit(ctx, []events.Event{events.New(events.FriendshipWithdrawn, requestID, map[string]string{
			"withdrawn_by": caller.ID,
		})})
		s.logger.Info("Friendship withdrawn",
			util.String("friendship_id", requestID),
			util.String("identity_id", caller.ID),
		)
	}
	return deleted, nil
}

// ListFriends returns the caller's accepted friendships, oldest first.
func (s *RelationshipService) ListFriends(ctx context.Context, caller *models.Identity, identityID string) ([]models.FriendEntry, error) {
	if err := requireSelf(caller, identityID); err != nil {
		return nil, err
	}
	friends, err := s.friendships.ListFriends(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	if friends == nil {
		friends = []models.FriendEntry{}
	}
	return friends, nil
}

// ListIncomingRequests returns pending requests addressed to the caller, oldest first.
func (s *RelationshipService) ListIncomingRequests(ctx context.Context, caller *models.Identity, identityID string) ([]models.FriendRequestEntry, error) {
	if err := requireSelf(caller, identityID); err != nil {
		return nil, err
	}
	requests, err := s.friendships.ListIncomingRequests(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friend requests: %w", err)
	}
	if requests == nil {
		requests = []models.FriendRequestEntry{}
	}
	return requests, nil
}

// requireSelf rejects an explicit identity id that is not the caller's.
func requireSelf(caller *models.Identity, identityID string) error {
	if identityID != "" && identityID != caller.ID {
		return unauthorizedf("cannot act on behalf of another identity")
	}
	return nil
}
