package refresh

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresStore(db), mock, db
}

var recordRowColumns = []string{
	"token_hash", "family_id", "owner_id", "issued_at", "expires_at", "last_used_at",
	"revoked", "revoked_at", "revoked_reason", "device_info", "ip_address", "user_agent",
}

func TestPostgresInsert_Success(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	rec := testRecord("h1", "f1", "u1", now)

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b.*ON\s+CONFLICT\s+\(token_hash\)\s+DO\s+NOTHING\s*$`).
		WithArgs("h1", "f1", "u1", rec.IssuedAt, rec.ExpiresAt, sqlmock.AnyArg(), false, sqlmock.AnyArg(), "",
			"Chrome on Linux", "10.0.0.1", "Mozilla/5.0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresInsert_Duplicate(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Insert(context.Background(), testRecord("h1", "f1", "u1", time.Now()))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestPostgresInsert_DBError(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b`).
		WillReturnError(errors.New("db down"))

	err := store.Insert(context.Background(), testRecord("h1", "f1", "u1", time.Now()))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestPostgresFindByHash_Found(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	issued := time.Now().Add(-time.Hour)
	revokedAt := time.Now()
	rows := sqlmock.NewRows(recordRowColumns).
		AddRow("h1", "f1", "u1", issued, issued.Add(24*time.Hour), revokedAt,
			true, revokedAt, "rotated", "Safari on iOS", "10.0.0.2", "ua")

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token_hash,.*FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1\s*$`).
		WithArgs("h1").
		WillReturnRows(rows)

	got, err := store.FindByHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OwnerID != "u1" || !got.Revoked || got.RevokedReason != ReasonRotated {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.RevokedAt.Equal(revokedAt) || !got.LastUsedAt.Equal(revokedAt) {
		t.Fatalf("unexpected nullable timestamps: %+v", got)
	}
}

func TestPostgresFindByHash_NullTimestamps(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	issued := time.Now()
	rows := sqlmock.NewRows(recordRowColumns).
		AddRow("h1", "f1", "u1", issued, issued.Add(time.Hour), nil,
			false, nil, "", "", "", "")

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token_hash,`).
		WithArgs("h1").
		WillReturnRows(rows)

	got, err := store.FindByHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.LastUsedAt.IsZero() || !got.RevokedAt.IsZero() {
		t.Fatalf("expected zero timestamps for NULL columns, got %+v", got)
	}
}

func TestPostgresFindByHash_NotFound(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token_hash,`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.FindByHash(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresRevokeIfActive(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	q := `(?s)^\s*UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE.*WHERE\s+token_hash\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s*$`

	mock.ExpectExec(q).
		WithArgs("h1", now, "rotated", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("h1", now, "rotated", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := store.RevokeIfActive(context.Background(), "h1", ReasonRotated, now)
	if err != nil || !changed {
		t.Fatalf("expected first update to win, changed=%v err=%v", changed, err)
	}
	changed, err = store.RevokeIfActive(context.Background(), "h1", ReasonRotated, now)
	if err != nil || changed {
		t.Fatalf("expected second update to lose, changed=%v err=%v", changed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRevokeFamilyAndOwner(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`(?s)^\s*UPDATE\s+refresh_tokens\b.*WHERE\s+family_id\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s*$`).
		WithArgs("f1", now, "family_revoked").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`(?s)^\s*UPDATE\s+refresh_tokens\b.*WHERE\s+owner_id\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s*$`).
		WithArgs("u1", now, "logout").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.RevokeFamily(context.Background(), "f1", ReasonFamilyRevoked, now)
	if err != nil || n != 3 {
		t.Fatalf("family revoke: n=%d err=%v", n, err)
	}
	n, err = store.RevokeOwner(context.Background(), "u1", ReasonLogout, now)
	if err != nil || n != 2 {
		t.Fatalf("owner revoke: n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresListFamily(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	issued := time.Now()
	rows := sqlmock.NewRows(recordRowColumns).
		AddRow("h1", "f1", "u1", issued, issued.Add(time.Hour), issued, true, issued, "rotated", "", "", "").
		AddRow("h2", "f1", "u1", issued.Add(time.Minute), issued.Add(time.Hour), nil, false, nil, "", "", "", "")

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token_hash,.*WHERE\s+family_id\s*=\s*\$1\s+ORDER\s+BY\s+issued_at\s*$`).
		WithArgs("f1").
		WillReturnRows(rows)

	records, err := store.ListFamily(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || records[0].TokenHash != "h1" || records[1].Revoked {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestPostgresPurgeExpired(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	cutoff := time.Now()
	mock.ExpectExec(`(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<\s*\$1\s*$`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.PurgeExpired(context.Background(), cutoff)
	if err != nil || n != 7 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}

func TestMigrate_UsesEmbeddedDir(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "migrations" {
			return errors.New("unexpected dir " + dir)
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected embedded migrations, got %v err=%v", entries, err)
	}
}

func TestMigrate_PropagatesError(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	if err := Migrate(context.Background(), db); err == nil {
		t.Fatal("expected error")
	}
}
