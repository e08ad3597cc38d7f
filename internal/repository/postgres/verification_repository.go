package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-service/internal/models"
	"social-service/internal/repository"
)

const verificationColumns = `v.id, v.identity_id, v.selfie_url, v.contact_email, v.contact_phone, v.social_links,
	v.description, v.reason, v.data_key, v.status, v.admin_comment, v.reviewed_by::text, v.created_at, v.reviewed_at`

type VerificationRepository struct {
	db *pgxpool.Pool
}

var _ repository.VerificationRepository = (*VerificationRepository)(nil)

func NewVerificationRepository(db *pgxpool.Pool) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func (r *VerificationRepository) CreateVerification(ctx context.Context, v *models.VerificationRequest) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO verification_requests
			(id, identity_id, selfie_url, contact_email, contact_phone, social_links, description, reason, data_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		v.ID,
		v.IdentityID,
		v.SelfieURL,
		v.ContactEmail,
		v.ContactPhone,
		v.SocialLinks,
		v.Description,
		v.Reason,
		v.DataKey,
		string(v.Status),
	).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create verification request: %w", mapError(err))
	}
	return nil
}

func (r *VerificationRepository) GetVerification(ctx context.Context, id string) (*models.VerificationRequest, error) {
	v, err := scanVerification(r.db.QueryRow(ctx,
		`SELECT `+verificationColumns+` FROM verification_requests v WHERE v.id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return v, nil
}

func (r *VerificationRepository) ListVerificationsByStatus(ctx context.Context, status models.VerificationStatus) ([]models.VerificationEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+verificationColumns+`,
		       i.id, i.handle, i.display_name, i.avatar_url, i.verified, i.online
		FROM verification_requests v
		JOIN identities i ON i.id = v.identity_id
		WHERE v.status = $1
		ORDER BY v.created_at DESC, v.id DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []models.VerificationEntry
	for rows.Next() {
		var e models.VerificationEntry
		var o = &e.Owner
		v, err := scanVerificationWith(rows, &o.ID, &o.Handle, &o.DisplayName, &o.AvatarURL, &o.Verified, &o.Online)
		if err != nil {
			return nil, err
		}
		e.VerificationRequest = *v
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *VerificationRepository) ListVerificationsByIdentity(ctx context.Context, identityID string) ([]models.VerificationRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_requests v
		WHERE v.identity_id = $1
		ORDER BY v.created_at DESC, v.id DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list identity verifications: %w", mapError(err))
	}
	defer rows.Close()

	var out []models.VerificationRequest
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *VerificationRepository) ReviewVerification(ctx context.Context, id string, review models.Review, check repository.VerificationMutator) (*models.VerificationRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanVerification(tx.QueryRow(ctx,
		`SELECT `+verificationColumns+` FROM verification_requests v WHERE v.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err)
	}
	if err := check(current); err != nil {
		return nil, err
	}

	updated, err := scanVerification(tx.QueryRow(ctx, `
		UPDATE verification_requests v
		SET status = $2, admin_comment = $3, reviewed_by = $4, reviewed_at = $5
		WHERE v.id = $1
		RETURNING `+verificationColumns,
		id, string(review.Decision), review.Comment, review.ReviewerID, review.ReviewedAt))
	if err != nil {
		return nil, fmt.Errorf("review verification: %w", mapError(err))
	}

	if review.Decision == models.VerificationStatusApproved {
		tag, err := tx.Exec(ctx,
			`UPDATE identities SET verified = TRUE, updated_at = NOW() WHERE id = $1`, updated.IdentityID)
		if err != nil {
			return nil, fmt.Errorf("mark identity verified: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, repository.ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit review: %w", err)
	}
	return updated, nil
}

func scanVerification(row pgx.Row) (*models.VerificationRequest, error) {
	return scanVerificationWith(row)
}

func scanVerificationWith(row pgx.Row, extra ...any) (*models.VerificationRequest, error) {
	var (
		v          models.VerificationRequest
		status     string
		reviewedBy *string
	)
	dest := []any{
		&v.ID,
		&v.IdentityID,
		&v.SelfieURL,
		&v.ContactEmail,
		&v.ContactPhone,
		&v.SocialLinks,
		&v.Description,
		&v.Reason,
		&v.DataKey,
		&status,
		&v.AdminComment,
		&reviewedBy,
		&v.CreatedAt,
		&v.ReviewedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	v.Status = models.VerificationStatus(status)
	v.ReviewedBy = reviewedBy
	return &v, nil
}
