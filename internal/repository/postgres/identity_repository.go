package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-service/internal/models"
	"social-service/internal/repository"
)

const identityColumns = `id, handle, display_name, email, password_hash, avatar_url, verified, online, role, created_at, updated_at`

type IdentityRepository struct {
	db *pgxpool.Pool
}

var _ repository.IdentityRepository = (*IdentityRepository)(nil)

func NewIdentityRepository(db *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (id, handle, display_name, email, password_hash, avatar_url, verified, online, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		identity.ID,
		identity.Handle,
		identity.DisplayName,
		identity.Email,
		identity.PasswordHash,
		identity.AvatarURL,
		identity.Verified,
		identity.Online,
		string(identity.Role),
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create identity: %w", mapError(err))
	}
	return nil
}

func (r *IdentityRepository) GetIdentityByID(ctx context.Context, id string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

func (r *IdentityRepository) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE LOWER(email) = LOWER($1)`, email)
}

func (r *IdentityRepository) GetIdentityByHandle(ctx context.Context, handle string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE LOWER(handle) = LOWER($1)`, handle)
}

func (r *IdentityRepository) getOne(ctx context.Context, query string, arg string) (*models.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, mapError(err)
	}
	return identity, nil
}

func (r *IdentityRepository) SetOnline(ctx context.Context, id string, online bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE identities SET online = $2, updated_at = NOW() WHERE id = $1`, id, online)
	if err != nil {
		return fmt.Errorf("set online: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE identities SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) SearchIdentities(ctx context.Context, query string, limit int) ([]models.PublicProfile, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := r.db.Query(ctx, `
		SELECT id, handle, display_name, avatar_url, verified, online
		FROM identities
		WHERE handle ILIKE $1 OR display_name ILIKE $1
		ORDER BY handle
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search identities: %w", err)
	}
	defer rows.Close()

	var out []models.PublicProfile
	for rows.Next() {
		var p models.PublicProfile
		if err := rows.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Verified, &p.Online); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *IdentityRepository) GetPublicProfiles(ctx context.Context, ids []string) (map[string]models.PublicProfile, error) {
	out := make(map[string]models.PublicProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, handle, display_name, avatar_url, verified, online
		FROM identities
		WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("get public profiles: %w", mapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var p models.PublicProfile
		if err := rows.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Verified, &p.Online); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *IdentityRepository) HealthCheck(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var (
		i    models.Identity
		role string
	)
	err := row.Scan(
		&i.ID,
		&i.Handle,
		&i.DisplayName,
		&i.Email,
		&i.PasswordHash,
		&i.AvatarURL,
		&i.Verified,
		&i.Online,
		&role,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Role = models.Role(role)
	return &i, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
