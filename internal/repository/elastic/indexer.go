package elastic

import (
	"context"
	"errors"

	"social-service/internal/events"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// ProfileIndexer is satisfied by IdentityIndex.
type ProfileIndexer interface {
	IndexProfile(ctx context.Context, profile models.PublicProfile) error
}

// Indexer refreshes the search document whenever an identity changes.
type Indexer struct {
	identities repository.IdentityRepository
	index      ProfileIndexer
}

var _ events.Handler = (*Indexer)(nil)

func NewIndexer(identities repository.IdentityRepository, index ProfileIndexer) *Indexer {
	return &Indexer{identities: identities, index: index}
}

func (x *Indexer) Handle(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.IdentityRegistered, events.IdentityPresence, events.IdentityVerified:
	default:
		return nil
	}

	identity, err := x.identities.GetIdentityByID(ctx, event.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		util.Debug("Skipping index refresh for missing identity", util.String("identity_id", event.Subject))
		return nil
	}
	if err != nil {
		return err
	}
	return x.index.IndexProfile(ctx, identity.PublicProfile())
}
