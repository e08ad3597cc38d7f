package service

import (
	"go.uber.org/zap"

	"social-service/internal/bucketing"
	"social-service/internal/encryption"
	"social-service/internal/events"
	"social-service/internal/hashing"
	"social-service/internal/repository"
)

// Dependencies is everything the services need, assembled by the factory.
type Dependencies struct {
	Identities    repository.IdentityRepository
	Friendships   repository.FriendshipRepository
	Verifications repository.VerificationRepository
	Messages      repository.MessageRepository
	SearchIndex   repository.IdentitySearcher
	Sessions      repository.SessionStore
	Throttle      repository.LoginThrottle
	Audit         repository.SecurityEventRecorder
	Publisher     events.Publisher
	Hasher        *hashing.Hasher
	EncryptionMgr *encryption.EncryptionManager
	BucketingMgr  *bucketing.BucketingManager
	Identity      IdentityConfig
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps    Dependencies
	logger  *zap.Logger
	effects *SideEffects

	identityService     *IdentityService
	relationshipService *RelationshipService
	verificationService *VerificationService
	messageService      *MessageService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		deps:    deps,
		logger:  logger,
		effects: NewSideEffects(deps.Publisher, deps.Audit, deps.BucketingMgr, logger),
	}
}

// IdentityService returns the identity service instance (singleton)
func (f *ServiceFactory) IdentityService() *IdentityService {
	if f.identityService == nil {
		f.identityService = NewIdentityService(
			f.deps.Identities,
			f.deps.SearchIndex,
			f.deps.Sessions,
			f.deps.Throttle,
			f.deps.Hasher,
			f.effects,
			f.deps.Identity,
			f.logger,
		)
	}
	return f.identityService
}

// RelationshipService returns the relationship service instance (singleton)
func (f *ServiceFactory) RelationshipService() *RelationshipService {
	if f.relationshipService == nil {
		f.relationshipService = NewRelationshipService(f.deps.Identities, f.deps.Friendships, f.effects, f.logger)
	}
	return f.relationshipService
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.deps.Identities,
			f.deps.Verifications,
			f.deps.EncryptionMgr,
			f.effects,
			f.logger,
		)
	}
	return f.verificationService
}

// MessageService returns the message service instance (singleton)
func (f *ServiceFactory) MessageService() *MessageService {
	if f.messageService == nil {
		f.messageService = NewMessageService(f.deps.Identities, f.deps.Messages, f.effects, f.logger)
	}
	return f.messageService
}
