package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barangay-portal/portal/internal/platform/db"
	"github.com/barangay-portal/portal/internal/shared"
)

// Repository provides PostgreSQL backed access to profiles, role
// assignments, barangay approval and preferences.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Profile loads the profile keyed by user id.
func (r *Repository) Profile(ctx context.Context, id uuid.UUID) (Profile, error) {
	const query = `SELECT id, barangay_id, full_name, role, status, must_reset_password, is_online, last_login_at
FROM profiles WHERE id = $1`
	var (
		profile   Profile
		barangay  *int64
		role      string
		status    string
		lastLogin *time.Time
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID, &barangay, &profile.FullName, &role, &status,
		&profile.MustReset, &profile.Online, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, fmt.Errorf("profiles: load profile: %w", err)
	}
	if profile.Role, err = ParseRole(role); err != nil {
		return Profile{}, err
	}
	if profile.Status, err = ParseStatus(status); err != nil {
		return Profile{}, err
	}
	profile.BarangayID = barangay
	profile.LastLoginAt = lastLogin
	return profile, nil
}

// Status re-reads only the status and lock columns.
func (r *Repository) Status(ctx context.Context, id uuid.UUID) (StatusCheck, error) {
	var (
		raw   string
		check StatusCheck
	)
	err := r.pool.QueryRow(ctx, `SELECT status, must_reset_password FROM profiles WHERE id = $1`, id).Scan(&raw, &check.MustReset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusCheck{}, shared.ErrNotFound
		}
		return StatusCheck{}, fmt.Errorf("profiles: load status: %w", err)
	}
	if check.Status, err = ParseStatus(raw); err != nil {
		return StatusCheck{}, err
	}
	return check, nil
}

// Role returns the role assignment of the user.
func (r *Repository) Role(ctx context.Context, id uuid.UUID) (Role, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY assigned_at DESC LIMIT 1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", fmt.Errorf("profiles: load role: %w", err)
	}
	return ParseRole(raw)
}

// Barangay loads a barangay and its approval flag.
func (r *Repository) Barangay(ctx context.Context, id int64) (Barangay, error) {
	var b Barangay
	err := r.pool.QueryRow(ctx, `SELECT id, name, is_approved FROM barangays WHERE id = $1`, id).Scan(&b.ID, &b.Name, &b.Approved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Barangay{}, shared.ErrNotFound
		}
		return Barangay{}, fmt.Errorf("profiles: load barangay: %w", err)
	}
	return b, nil
}

// BarangayApproved reports whether the barangay has been approved.
func (r *Repository) BarangayApproved(ctx context.Context, id int64) (bool, error) {
	b, err := r.Barangay(ctx, id)
	if err != nil {
		return false, err
	}
	return b.Approved, nil
}

// SetOnline updates the presence flag.
func (r *Repository) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE profiles SET is_online = $2, updated_at = NOW() WHERE id = $1`, id, online)
	if err != nil {
		return fmt.Errorf("profiles: set online: %w", err)
	}
	return nil
}

// TouchLastLogin records the sign-in timestamp.
func (r *Repository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE profiles SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("profiles: touch last login: %w", err)
	}
	return nil
}

// ClearMustReset drops the password-reset lock.
func (r *Repository) ClearMustReset(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE profiles SET must_reset_password = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("profiles: clear reset lock: %w", err)
	}
	return nil
}

// Settings returns the raw key/value preferences of the user.
func (r *Repository) Settings(ctx context.Context, id uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM user_settings WHERE user_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("profiles: load settings: %w", err)
	}
	defer rows.Close()
	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// PutSettings upserts the given preferences in a single transaction.
func (r *Repository) PutSettings(ctx context.Context, id uuid.UUID, values map[string]string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for key, value := range values {
			if _, err := tx.Exec(ctx, `INSERT INTO user_settings (user_id, key, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, id, key, value); err != nil {
				return fmt.Errorf("profiles: put setting %s: %w", key, err)
			}
		}
		return nil
	})
}
