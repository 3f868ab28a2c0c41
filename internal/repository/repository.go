package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/provisioning/internal/policy"
)

//go:embed schema.sql
var schema string

var (
	ErrEmailExists     = errors.New("email_already_exists")
	ErrAccountNotFound = errors.New("account_not_found")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateAccount(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, email, passwordHash, s.now())
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return "", ErrEmailExists
		}
		return "", fmt.Errorf("insert account: %w", err)
	}
	return id, nil
}

// SetClaims replaces every claim of the account.
func (s *Store) SetClaims(ctx context.Context, uid string, claims map[string]bool) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM account_claims WHERE account_id = $1`, uid); err != nil {
			return fmt.Errorf("clear claims: %w", err)
		}
		batch := &pgx.Batch{}
		for claim, value := range claims {
			batch.Queue(`INSERT INTO account_claims (account_id, claim, value) VALUES ($1, $2, $3)`, uid, claim, value)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if pgCode(err) == foreignKeyViolation {
				return ErrAccountNotFound
			}
			return fmt.Errorf("insert claims: %w", err)
		}
		return nil
	})
}

func (s *Store) Claims(ctx context.Context, uid string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT claim, value FROM account_claims WHERE account_id = $1`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := map[string]bool{}
	for rows.Next() {
		var claim string
		var value bool
		if err := rows.Scan(&claim, &value); err != nil {
			return nil, err
		}
		claims[claim] = value
	}
	return claims, rows.Err()
}

func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// PutProfile writes users/{uid}, overwriting any previous document.
func (s *Store) PutProfile(ctx context.Context, uid string, profile policy.ProfileRecord) error {
	now := s.now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (account_id, name, surname, email, role, school_ref, class_ref, parent_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (account_id) DO UPDATE SET
			name = EXCLUDED.name,
			surname = EXCLUDED.surname,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			school_ref = EXCLUDED.school_ref,
			class_ref = EXCLUDED.class_ref,
			parent_ref = EXCLUDED.parent_ref,
			updated_at = EXCLUDED.updated_at
	`, uid, profile.Name, profile.Surname, profile.Email, string(profile.Role),
		refPath(profile.School), refPath(profile.Class), refPath(profile.Parent), now)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return ErrAccountNotFound
		}
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// profile returns the stored document fields of users/{uid}.
func (s *Store) profile(ctx context.Context, uid string) (map[string]any, error) {
	var name, surname, email, role string
	var school, class, parent *string
	err := s.pool.QueryRow(ctx, `
		SELECT name, surname, email, role, school_ref, class_ref, parent_ref
		FROM profiles
		WHERE account_id = $1
	`, uid).Scan(&name, &surname, &email, &role, &school, &class, &parent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	fields := map[string]any{"name": name, "surname": surname, "email": email, "role": role}
	for key, value := range map[string]*string{"school_id": school, "class_id": class, "parent_id": parent} {
		if value != nil {
			fields[key] = *value
		}
	}
	return fields, nil
}

// DeleteOrphanAccounts removes accounts that never received a profile, which is
// what a failed compensation leaves behind.
func (s *Store) DeleteOrphanAccounts(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM accounts a
		WHERE a.created_at < $1
			AND NOT EXISTS (SELECT 1 FROM profiles p WHERE p.account_id = a.id)
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("delete orphan accounts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func refPath(ref *policy.Reference) *string {
	if ref == nil {
		return nil
	}
	path := ref.Path
	return &path
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
