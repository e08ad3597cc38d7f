package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-service/internal/models"
	"social-service/internal/repository"
)

type FriendshipRepository struct {
	db *pgxpool.Pool
}

var _ repository.FriendshipRepository = (*FriendshipRepository)(nil)

func NewFriendshipRepository(db *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{db: db}
}

func (r *FriendshipRepository) CreateFriendship(ctx context.Context, f *models.Friendship) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO friendships (id, requester_id, recipient_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		f.ID, f.RequesterID, f.RecipientID, string(f.Status),
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create friendship: %w", mapError(err))
	}
	return nil
}

func (r *FriendshipRepository) GetFriendship(ctx context.Context, id string) (*models.Friendship, error) {
	f, err := scanFriendship(r.db.QueryRow(ctx, `
		SELECT id, requester_id, recipient_id, status, created_at, updated_at
		FROM friendships WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return f, nil
}

func (r *FriendshipRepository) UpdateFriendship(ctx context.Context, id string, mutate repository.FriendshipMutator) (*models.Friendship, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockFriendship(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(current); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE friendships SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, id, string(current.Status)).Scan(&current.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update friendship: %w", mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit friendship update: %w", mapError(err))
	}
	return current, nil
}

func (r *FriendshipRepository) DeleteFriendship(ctx context.Context, id string, authorize repository.FriendshipMutator) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockFriendship(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := authorize(current); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM friendships WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("delete friendship: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit friendship delete: %w", err)
	}
	return true, nil
}

func (r *FriendshipRepository) ListFriends(ctx context.Context, identityID string) ([]models.FriendEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT f.id, f.status, f.created_at,
		       i.id, i.handle, i.display_name, i.avatar_url, i.verified, i.online
		FROM friendships f
		JOIN identities i
		  ON i.id = CASE WHEN f.requester_id = $1 THEN f.recipient_id ELSE f.requester_id END
		WHERE f.status = 'accepted'
		  AND (f.requester_id = $1 OR f.recipient_id = $1)
		ORDER BY f.created_at, f.id`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", mapError(err))
	}
	defer rows.Close()

	var out []models.FriendEntry
	for rows.Next() {
		var (
			e      models.FriendEntry
			status string
		)
		if err := rows.Scan(&e.FriendshipID, &status, &e.CreatedAt,
			&e.ID, &e.Handle, &e.DisplayName, &e.AvatarURL, &e.Verified, &e.Online); err != nil {
			return nil, err
		}
		e.Status = models.FriendshipStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *FriendshipRepository) ListIncomingRequests(ctx context.Context, identityID string) ([]models.FriendRequestEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT f.id, f.created_at,
		       i.id, i.handle, i.display_name, i.avatar_url, i.verified, i.online
		FROM friendships f
		JOIN identities i ON i.id = f.requester_id
		WHERE f.recipient_id = $1 AND f.status = 'pending'
		ORDER BY f.created_at, f.id`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list incoming requests: %w", mapError(err))
	}
	defer rows.Close()

	var out []models.FriendRequestEntry
	for rows.Next() {
		var e models.FriendRequestEntry
		if err := rows.Scan(&e.RequestID, &e.CreatedAt,
			&e.ID, &e.Handle, &e.DisplayName, &e.AvatarURL, &e.Verified, &e.Online); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func lockFriendship(ctx context.Context, tx pgx.Tx, id string) (*models.Friendship, error) {
	f, err := scanFriendship(tx.QueryRow(ctx, `
		SELECT id, requester_id, recipient_id, status, created_at, updated_at
		FROM friendships WHERE id = $1
		FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return f, nil
}

func scanFriendship(row pgx.Row) (*models.Friendship, error) {
	var (
		f      models.Friendship
		status string
	)
	if err := row.Scan(&f.ID, &f.RequesterID, &f.RecipientID, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = models.FriendshipStatus(status)
	return &f, nil
}
