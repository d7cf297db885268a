package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBTX is the subset of database/sql used by [PostgresStore]. Both *sql.DB
// and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists records in the refresh_tokens table.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore constructs a store bound to the given DBTX.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `token_hash, family_id, owner_id, issued_at, expires_at, last_used_at,
		revoked, revoked_at, revoked_reason, device_info, ip_address, user_agent`

// Insert stores a new record. It returns [ErrDuplicate] if the hash exists.
func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	query := `
		INSERT INTO refresh_tokens (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (token_hash) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		record.TokenHash,
		record.FamilyID,
		record.OwnerID,
		record.IssuedAt,
		record.ExpiresAt,
		nullTime(record.LastUsedAt),
		record.Revoked,
		nullTime(record.RevokedAt),
		string(record.RevokedReason),
		record.DeviceInfo,
		record.IPAddress,
		record.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// FindByHash loads a record, revoked or not.
func (s *PostgresStore) FindByHash(ctx context.Context, tokenHash string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return record, nil
}

// RevokeIfActive implements [Store]. The revoked = FALSE guard makes the
// update a compare-and-set under row locking.
func (s *PostgresStore) RevokeIfActive(ctx context.Context, tokenHash string, reason RevokeReason, now time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE,
			revoked_at = $2,
			revoked_reason = $3,
			last_used_at = CASE WHEN $4::boolean THEN $2 ELSE last_used_at END
		WHERE token_hash = $1 AND revoked = FALSE
	`
	res, err := s.db.ExecContext(ctx, query, tokenHash, now, string(reason), reason == ReasonRotated)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// RevokeFamily implements [Store].
func (s *PostgresStore) RevokeFamily(ctx context.Context, familyID string, reason RevokeReason, now time.Time) (int, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE family_id = $1 AND revoked = FALSE
	`
	return s.bulkRevoke(ctx, query, familyID, reason, now)
}

// RevokeOwner implements [Store].
func (s *PostgresStore) RevokeOwner(ctx context.Context, ownerID string, reason RevokeReason, now time.Time) (int, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE owner_id = $1 AND revoked = FALSE
	`
	return s.bulkRevoke(ctx, query, ownerID, reason, now)
}

func (s *PostgresStore) bulkRevoke(ctx context.Context, query, id string, reason RevokeReason, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, query, id, now, string(reason))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// ListFamily returns every record of a family ordered by issue time.
func (s *PostgresStore) ListFamily(ctx context.Context, familyID string) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM refresh_tokens
		WHERE family_id = $1
		ORDER BY issued_at
	`
	rows, err := s.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// PurgeExpired implements [Store].
func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record     Record
		lastUsedAt sql.NullTime
		revokedAt  sql.NullTime
		reason     string
	)
	err := row.Scan(
		&record.TokenHash,
		&record.FamilyID,
		&record.OwnerID,
		&record.IssuedAt,
		&record.ExpiresAt,
		&lastUsedAt,
		&record.Revoked,
		&revokedAt,
		&reason,
		&record.DeviceInfo,
		&record.IPAddress,
		&record.UserAgent,
	)
	if err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		record.LastUsedAt = lastUsedAt.Time
	}
	if revokedAt.Valid {
		record.RevokedAt = revokedAt.Time
	}
	record.RevokedReason = RevokeReason(reason)
	return &record, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
