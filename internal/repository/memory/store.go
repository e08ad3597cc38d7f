// Package memory is an in-process implementation of every repository
// contract. It enforces the same uniqueness rules as the postgres schema.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"social-service/internal/models"
	"social-service/internal/repository"
)

type Store struct {
	mu            sync.RWMutex
	identities    map[string]*models.Identity
	friendships   map[string]*models.Friendship
	verifications map[string]*models.VerificationRequest
	messages      []*models.Message
	now           func() time.Time
}

var (
	_ repository.IdentityRepository     = (*Store)(nil)
	_ repository.FriendshipRepository   = (*Store)(nil)
	_ repository.VerificationRepository = (*Store)(nil)
	_ repository.MessageRepository      = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		identities:    make(map[string]*models.Identity),
		friendships:   make(map[string]*models.Friendship),
		verifications: make(map[string]*models.VerificationRequest),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source, tests use it for deterministic ordering.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// ===================== IDENTITIES =====================

func (s *Store) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if strings.EqualFold(existing.Handle, identity.Handle) || strings.EqualFold(existing.Email, identity.Email) {
			return repository.ErrDuplicate
		}
	}
	now := s.now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	stored := *identity
	s.identities[identity.ID] = &stored
	return nil
}

func (s *Store) GetIdentityByID(ctx context.Context, id string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *identity
	return &out, nil
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return s.findIdentity(func(i *models.Identity) bool { return strings.EqualFold(i.Email, email) })
}

func (s *Store) GetIdentityByHandle(ctx context.Context, handle string) (*models.Identity, error) {
	return s.findIdentity(func(i *models.Identity) bool { return strings.EqualFold(i.Handle, handle) })
}

func (s *Store) findIdentity(match func(*models.Identity) bool) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, identity := range s.identities {
		if match(identity) {
			out := *identity
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.Online = online
	identity.UpdatedAt = s.now()
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.PasswordHash = passwordHash
	identity.UpdatedAt = s.now()
	return nil
}

func (s *Store) SearchIdentities(ctx context.Context, query string, limit int) ([]models.PublicProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var matches []*models.Identity
	for _, identity := range s.identities {
		if strings.Contains(strings.ToLower(identity.Handle), needle) ||
			strings.Contains(strings.ToLower(identity.DisplayName), needle) {
			matches = append(matches, identity)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Handle < matches[j].Handle })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]models.PublicProfile, 0, len(matches))
	for _, identity := range matches {
		out = append(out, identity.PublicProfile())
	}
	return out, nil
}

func (s *Store) GetPublicProfiles(ctx context.Context, ids []string) (map[string]models.PublicProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.PublicProfile, len(ids))
	for _, id := range ids {
		if identity, ok := s.identities[id]; ok {
			out[id] = identity.PublicProfile()
		}
	}
	return out, nil
}

// ===================== FRIENDSHIPS =====================

func (s *Store) CreateFriendship(ctx context.Context, friendship *models.Friendship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := friendship.PairKey()
	for _, existing := range s.friendships {
		if existing.PairKey() == pair && existing.Status.IsOpen() {
			return repository.ErrDuplicate
		}
	}
	now := s.now()
	friendship.CreatedAt = now
	friendship.UpdatedAt = now
	stored := *friendship
	s.friendships[friendship.ID] = &stored
	return nil
}

func (s *Store) GetFriendship(ctx context.Context, id string) (*models.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	friendship, ok := s.friendships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *friendship
	return &out, nil
}

func (s *Store) UpdateFriendship(ctx context.Context, id string, mutate repository.FriendshipMutator) (*models.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.friendships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	working := *stored
	if err := mutate(&working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.now()
	*stored = working
	out := working
	return &out, nil
}

func (s *Store) DeleteFriendship(ctx context.Context, id string, authorize repository.FriendshipMutator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.friendships[id]
	if !ok {
		return false, nil
	}
	current := *stored
	if err := authorize(&current); err != nil {
		return false, err
	}
	delete(s.friendships, id)
	return true, nil
}

func (s *Store) ListFriends(ctx context.Context, identityID string) ([]models.FriendEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.sortedFriendships(func(f *models.Friendship) bool {
		return f.Status == models.FriendshipStatusAccepted && f.Involves(identityID)
	})
	out := make([]models.FriendEntry, 0, len(rows))
	for _, f := range rows {
		counterpartID := f.RecipientID
		if counterpartID == identityID {
			counterpartID = f.RequesterID
		}
		counterpart, ok := s.identities[counterpartID]
		if !ok {
			continue
		}
		out = append(out, models.FriendEntry{
			PublicProfile: counterpart.PublicProfile(),
			FriendshipID:  f.ID,
			Status:        f.Status,
			CreatedAt:     f.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) ListIncomingRequests(ctx context.Context, identityID string) ([]models.FriendRequestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.sortedFriendships(func(f *models.Friendship) bool {
		return f.Status == models.FriendshipStatusPending && f.RecipientID == identityID
	})
	out := make([]models.FriendRequestEntry, 0, len(rows))
	for _, f := range rows {
		requester, ok := s.identities[f.RequesterID]
		if !ok {
			continue
		}
		out = append(out, models.FriendRequestEntry{
			PublicProfile: requester.PublicProfile(),
			RequestID:     f.ID,
			CreatedAt:     f.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) sortedFriendships(keep func(*models.Friendship) bool) []*models.Friendship {
	var rows []*models.Friendship
	for _, f := range s.friendships {
		if keep(f) {
			rows = append(rows, f)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// ===================== VERIFICATION =====================

func (s *Store) CreateVerification(ctx context.Context, request *models.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[request.IdentityID]; !ok {
		return repository.ErrNotFound
	}
	for _, existing := range s.verifications {
		if existing.IdentityID == request.IdentityID && existing.Status == models.VerificationStatusPending {
			return repository.ErrDuplicate
		}
	}
	request.CreatedAt = s.now()
	stored := copyVerification(request)
	s.verifications[request.ID] = stored
	return nil
}

func (s *Store) GetVerification(ctx context.Context, id string) (*models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.verifications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyVerification(request), nil
}

func (s *Store) ListVerificationsByStatus(ctx context.Context, status models.VerificationStatus) ([]models.VerificationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.newestVerifications(func(v *models.VerificationRequest) bool { return v.Status == status })
	out := make([]models.VerificationEntry, 0, len(rows))
	for _, v := range rows {
		owner, ok := s.identities[v.IdentityID]
		if !ok {
			continue
		}
		out = append(out, models.VerificationEntry{
			VerificationRequest: *copyVerification(v),
			Owner:               owner.PublicProfile(),
		})
	}
	return out, nil
}

func (s *Store) ListVerificationsByIdentity(ctx context.Context, identityID string) ([]models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.newestVerifications(func(v *models.VerificationRequest) bool { return v.IdentityID == identityID })
	out := make([]models.VerificationRequest, 0, len(rows))
	for _, v := range rows {
		out = append(out, *copyVerification(v))
	}
	return out, nil
}

func (s *Store) ReviewVerification(ctx context.Context, id string, review models.Review, check repository.VerificationMutator) (*models.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.verifications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := check(copyVerification(stored)); err != nil {
		return nil, err
	}
	owner, ok := s.identities[stored.IdentityID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	reviewedAt := review.ReviewedAt
	reviewer := review.ReviewerID
	stored.Status = review.Decision
	stored.AdminComment = review.Comment
	stored.ReviewedBy = &reviewer
	stored.ReviewedAt = &reviewedAt
	if review.Decision == models.VerificationStatusApproved {
		owner.Verified = true
		owner.UpdatedAt = reviewedAt
	}
	return copyVerification(stored), nil
}

func (s *Store) newestVerifications(keep func(*models.VerificationRequest) bool) []*models.VerificationRequest {
	var rows []*models.VerificationRequest
	for _, v := range s.verifications {
		if keep(v) {
			rows = append(rows, v)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	return rows
}

func copyVerification(v *models.VerificationRequest) *models.VerificationRequest {
	out := *v
	if v.AdminComment != nil {
		comment := *v.AdminComment
		out.AdminComment = &comment
	}
	if v.ReviewedBy != nil {
		reviewer := *v.ReviewedBy
		out.ReviewedBy = &reviewer
	}
	if v.ReviewedAt != nil {
		reviewedAt := *v.ReviewedAt
		out.ReviewedAt = &reviewedAt
	}
	return &out
}

// ===================== MESSAGES =====================

func (s *Store) AppendMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message.CreatedAt = s.now()
	message.Read = false
	stored := *message
	s.messages = append(s.messages, &stored)
	return nil
}

func (s *Store) History(ctx context.Context, identityA, identityB string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := models.PairKey(identityA, identityB)
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationKey() == key {
			out = append(out, *m)
		}
	}
	// equal timestamps keep append order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Conversations(ctx context.Context, identityID string) ([]repository.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCounterpart := make(map[string]*repository.ConversationSummary)
	for _, m := range s.messages {
		var counterpart string
		switch identityID {
		case m.SenderID:
			counterpart = m.ReceiverID
		case m.ReceiverID:
			counterpart = m.SenderID
		default:
			continue
		}
		summary, ok := byCounterpart[counterpart]
		if !ok {
			summary = &repository.ConversationSummary{CounterpartID: counterpart}
			byCounterpart[counterpart] = summary
		}
		if !m.CreatedAt.Before(summary.LastMessage.CreatedAt) {
			summary.LastMessage = *m
		}
		if m.ReceiverID == identityID && !m.Read {
			summary.UnreadCount++
		}
	}

	out := make([]repository.ConversationSummary, 0, len(byCounterpart))
	for _, summary := range byCounterpart {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, identityID, counterpartID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, m := range s.messages {
		if m.ReceiverID == identityID && m.SenderID == counterpartID && !m.Read {
			m.Read = true
			updated++
		}
	}
	return updated, nil
}
