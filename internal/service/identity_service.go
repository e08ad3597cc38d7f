package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-service/internal/events"
	"social-service/internal/hashing"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// IdentityConfig carries the session and throttling knobs of the identity service.
type IdentityConfig struct {
	SessionTTL       time.Duration
	MaxLoginFailures int
	LoginWindow      time.Duration
	// IsReviewer decides the role granted at registration.
	IsReviewer func(email string) bool
}

// RegisterRequest represents an account creation request
type RegisterRequest struct {
	Handle      string `json:"handle" validate:"required,min=2,max=32,nomarkup"`
	DisplayName string `json:"display_name" validate:"required,max=64,nomarkup"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,max=256"`
	AvatarURL   string `json:"avatar_url" validate:"omitempty,url,max=2048"`
}

// LoginRequest represents a credential check
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

// IdentityService owns registration, login, sessions and search.
type IdentityService struct {
	identities repository.IdentityRepository
	index      repository.IdentitySearcher
	sessions   repository.SessionStore
	throttle   repository.LoginThrottle
	hasher     *hashing.Hasher
	effects    *SideEffects
	cfg        IdentityConfig
	logger     *zap.Logger
}

func NewIdentityService(
	identities repository.IdentityRepository,
	index repository.IdentitySearcher,
	sessions repository.SessionStore,
	throttle repository.LoginThrottle,
	hasher *hashing.Hasher,
	effects *SideEffects,
	cfg IdentityConfig,
	logger *zap.Logger,
) *IdentityService {
	if cfg.IsReviewer == nil {
		cfg.IsReviewer = func(string) bool { return false }
	}
	return &IdentityService{
		identities: identities,
		index:      index,
		sessions:   sessions,
		throttle:   throttle,
		hasher:     hasher,
		effects:    effects,
		cfg:        cfg,
		logger:     logger,
	}
}

// Register creates an identity with a salted argon2id credential hash.
func (s *IdentityService) Register(ctx context.Context, req *RegisterRequest) (*models.Profile, error) {
	startTime := time.Now()

	req.Handle = strings.TrimSpace(req.Handle)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Email = util.NormalizeEmail(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := models.RoleMember
	if s.cfg.IsReviewer(req.Email) {
		role = models.RoleReviewer
	}

	identity := &models.Identity{
		ID:           uuid.NewString(),
		Handle:       req.Handle,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: passwordHash,
		AvatarURL:    req.AvatarURL,
		Role:         role,
	}

	if err := s.identities.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflictf("handle or email is already registered")
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	s.effects.Emit(ctx, []events.Event{
		events.New(events.IdentityRegistered, identity.ID, identity.PublicProfile()),
	})

	s.logger.Info("Identity registered",
		util.String("identity_id", identity.ID),
		util.String("role", string(role)),
		util.Duration("duration", time.Since(startTime)),
	)

	profile := identity.Profile()
	return &profile, nil
}

// Login verifies credentials, marks the identity online and opens a session.
// Every mismatch returns ErrInvalidCredentials without naming the field.
func (s *IdentityService) Login(ctx context.Context, req *LoginRequest, clientIP string) (*models.Session, error) {
	req.Email = util.NormalizeEmail(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	throttleKey := req.Email
	if s.loginBlocked(ctx, throttleKey) {
		s.effects.Emit(ctx, nil, s.effects.SecurityEvent(models.SecurityEventLoginThrottled, "", req.Email, clientIP, ""))
		return nil, fmt.Errorf("%w: try again later", ErrRateLimited)
	}

	identity, err := s.identities.GetIdentityByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity == nil {
		// same argon2 cost as a real check so timing does not reveal unknown emails
		s.hasher.VerifyDummy(req.Password)
		s.loginFailed(ctx, throttleKey, "", req.Email, clientIP)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.VerifyPassword(req.Password, identity.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.loginFailed(ctx, throttleKey, identity.ID, req.Email, clientIP)
		return nil, ErrInvalidCredentials
	}

	if err := s.throttle.Reset(ctx, throttleKey); err != nil {
		s.logger.Warn("Failed to reset login throttle", util.ErrorField(err))
	}
	s.rehashIfNeeded(ctx, identity, req.Password)

	if err := s.identities.SetOnline(ctx, identity.ID, true); err != nil {
		return nil, fmt.Errorf("failed to mark identity online: %w", err)
	}
	identity.Online = true

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.CreateSession(ctx, token, identity.ID, s.cfg.SessionTTL); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.effects.Emit(ctx,
		[]events.Event{events.New(events.IdentityPresence, identity.ID, presencePayload{Online: true})},
		s.effects.SecurityEvent(models.SecurityEventLoginSuccess, identity.ID, req.Email, clientIP, ""),
	)

	s.logger.Info("Identity logged in", util.String("identity_id", identity.ID))

	return &models.Session{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.cfg.SessionTTL),
		Profile:   identity.Profile(),
	}, nil
}

type presencePayload struct {
	Online bool `json:"online"`
}

func (s *IdentityService) loginBlocked(ctx context.Context, key string) bool {
	if s.cfg.MaxLoginFailures <= 0 {
		return false
	}
	failures, err := s.throttle.Failures(ctx, key)
	if err != nil {
		s.logger.Warn("Login throttle unavailable", util.ErrorField(err))
		return false
	}
	return failures >= s.cfg.MaxLoginFailures
}

func (s *IdentityService) loginFailed(ctx context.Context, key, identityID, email, clientIP string) {
	failures, err := s.throttle.RecordFailure(ctx, key, s.cfg.LoginWindow)
	if err != nil {
		s.logger.Warn("Failed to record login failure", util.ErrorField(err))
	}
	s.effects.Emit(ctx, nil, s.effects.SecurityEvent(
		models.SecurityEventLoginFailure, identityID, email, clientIP, fmt.Sprintf("failures=%d", failures)))
}

// rehashIfNeeded upgrades hashes made with old argon2 parameters or a retired pepper.
func (s *IdentityService) rehashIfNeeded(ctx context.Context, identity *models.Identity, password string) {
	if !s.hasher.NeedsRehash(identity.PasswordHash) {
		return
	}
	newHash, err := s.hasher.HashPassword(password)
	if err != nil {
		s.logger.Warn("Failed to rehash password", util.String("identity_id", identity.ID), util.ErrorField(err))
		return
	}
	if err := s.identities.UpdatePasswordHash(ctx, identity.ID, newHash); err != nil {
		s.logger.Warn("Failed to store rehashed password", util.String("identity_id", identity.ID), util.ErrorField(err))
		return
	}
	identity.PasswordHash = newHash
}

// Logout revokes the session and marks its identity offline. Unknown tokens are a no-op.
func (s *IdentityService) Logout(ctx context.Context, token, clientIP string) error {
	if token == "" {
		return nil
	}
	identityID, err := s.sessions.LookupSession(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}

	if err := s.sessions.RevokeSession(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if err := s.identities.SetOnline(ctx, identityID, false); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to mark identity offline: %w", err)
	}

	s.effects.Emit(ctx,
		[]events.Event{events.New(events.IdentityPresence, identityID, presencePayload{Online: false})},
		s.effects.SecurityEvent(models.SecurityEventLogout, identityID, "", clientIP, ""),
	)

	s.logger.Info("Identity logged out", util.String("identity_id", identityID))
	return nil
}

// Authenticate resolves a bearer token to its identity.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, unauthorizedf("missing session token")
	}
	identityID, err := s.sessions.LookupSession(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, unauthorizedf("session expired or unknown")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	identity, err := s.identities.GetIdentityByID(ctx, identityID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, unauthorizedf("session identity no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return identity, nil
}

// Search matches handle or display name case-insensitively, at most
// repository.SearchLimit results. index is optional; when it fails the store answers.
func (s *IdentityService) Search(ctx context.Context, query string) ([]models.PublicProfile, error) {
	query = strings.TrimSpace(query)
	if len(query) > 64 {
		return nil, validationErrorf("query must be at most 64 characters")
	}

	var (
		results []models.PublicProfile
		err     error
	)
	if s.index != nil {
		results, err = s.index.SearchIdentities(ctx, query, repository.SearchLimit)
		if err != nil {
			s.logger.Warn("Search index unavailable, using store", util.ErrorField(err))
		}
	}
	if s.index == nil || err != nil {
		results, err = s.identities.SearchIdentities(ctx, query, repository.SearchLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search identities: %w", err)
	}
	if results == nil {
		results = []models.PublicProfile{}
	}
	return results, nil
}

// ProfileByHandle returns the public profile for handle, matched case-insensitively.
func (s *IdentityService) ProfileByHandle(ctx context.Context, handle string) (*models.PublicProfile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, validationErrorf("handle is required")
	}
	identity, err := s.identities.GetIdentityByHandle(ctx, handle)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundf("no identity with handle %s", handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	profile := identity.PublicProfile()
	return &profile, nil
}

func (s *IdentityService) HealthCheck(ctx context.Context) error {
	if err := s.identities.HealthCheck(ctx); err != nil {
		return fmt.Errorf("identity repository health check failed: %w", err)
	}
	return nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
