package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barangay-portal/portal/internal/platform/db"
	"github.com/barangay-portal/portal/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches an account by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var account Account
	err := r.pool.QueryRow(ctx, `SELECT id, email, password_hash, is_active, created_at, updated_at
FROM auth_accounts WHERE email = $1`, email).Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.IsActive, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdatePassword replaces the password hash and lifts the reset lock on the profile.
func (r *PGRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE auth_accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE profiles SET must_reset_password = FALSE, updated_at = NOW() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("clear reset lock: %w", err)
		}
		return nil
	})
}

// RevokeSessions deletes every refresh session of the account.
func (r *PGRepository) RevokeSessions(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_refresh_sessions WHERE user_id = $1`, id)
	return err
}

// HasVerifiedFactor reports whether the account enrolled a verified second factor.
func (r *PGRepository) HasVerifiedFactor(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mfa_factors WHERE user_id = $1 AND status = 'verified')`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

var _ Repository = (*PGRepository)(nil)
