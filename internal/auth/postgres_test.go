package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"userboard.io/internal/token"
)

var userCols = []string{"id", "email", "password_hash", "first_name", "last_name", "phone", "roles", "status", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGStore(db), mock
}

func TestPGUserCreate(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), "a@x.com", "hash", "Ann", "Lee", "", "USER", "PENDING", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u := &User{Email: " A@X.com", PasswordHash: "hash", FirstName: "Ann", LastName: "Lee", Roles: []string{RoleUser}, Status: StatusPending}
	if err := store.Users(ctx).Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" || u.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps to be assigned: %+v", u)
	}
}

func TestPGUserCreateDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_uq"})

	err := store.Users(ctx).Create(ctx, &User{Email: "A@x.com", PasswordHash: "h", Status: StatusPending})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestPGUserFindByEmailCaseInsensitive(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select .+ from users where lower\(email\)=\$1`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "hash", "Ann", "Lee", "+15551234567", "USER,ADMIN", "ACTIVE", now, now))

	u, err := store.Users(ctx).FindByEmail(ctx, "A@X.COM")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.Status != StatusActive || len(u.Roles) != 2 || !u.HasRole("admin") {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestPGUserFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select .+ from users where id=").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := store.Users(ctx).Find(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGUpdateStatusFromWrongState(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("update users set status").
		WithArgs("ACTIVE", at, "u1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from users where id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("REJECTED"))

	err := store.Users(ctx).UpdateStatus(ctx, "u1", StatusPending, StatusActive, at)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPGUpdateStatusMissingUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	mock.ExpectExec("update users set status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from users").WillReturnError(sql.ErrNoRows)

	if err := store.Users(ctx).UpdateStatus(ctx, "ghost", StatusPending, StatusActive, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGListAndCount(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select count\(\*\) from users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))
	mock.ExpectQuery("select .+ from users order by created_at desc, id desc limit").
		WithArgs(20, 20).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u2", "b@x.com", "h", "", "", "", "USER", "PENDING", now, now))

	users, total, err := store.Users(ctx).List(ctx, Page{Number: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 41 || len(users) != 1 || users[0].ID != "u2" {
		t.Fatalf("unexpected page %v total=%d", users, total)
	}

	mock.ExpectQuery("select status, count").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("PENDING", 3).AddRow("ACTIVE", 5).AddRow("REJECTED", 1))
	counts, err := store.Users(ctx).CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts != (StatusCounts{Pending: 3, Active: 5, Rejected: 1}) {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestPGWithinTxCommitAndRollback(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.WithinTx(ctx, func(tx Store) error {
		u := &User{Email: "a@x.com", PasswordHash: "h", Status: StatusPending}
		if err := tx.Users(ctx).Create(ctx, u); err != nil {
			return err
		}
		return tx.Audit(ctx).Append(ctx, &AuditEntry{
			UserID: u.ID, Action: ActionCreated, ActorID: ActorSystem, NewStatus: StatusPending,
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_audit_log").WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err = store.WithinTx(ctx, func(tx Store) error {
		u := &User{Email: "b@x.com", PasswordHash: "h", Status: StatusPending}
		if err := tx.Users(ctx).Create(ctx, u); err != nil {
			return err
		}
		return tx.Audit(ctx).Append(ctx, &AuditEntry{UserID: u.ID, Action: ActionCreated, ActorID: ActorSystem})
	})
	if err == nil {
		t.Fatal("expected audit failure to abort the transaction")
	}
}

func TestPGRefreshTokenFindValidSubCauses(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}

	mock.ExpectQuery("from refresh_tokens where token_hash").WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t1", "u1", "h1", now.Add(time.Hour), now, false))
	mock.ExpectQuery("from refresh_tokens where token_hash").WithArgs("h2").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t2", "u1", "h2", now.Add(time.Hour), now, true))
	mock.ExpectQuery("from refresh_tokens where token_hash").WithArgs("h3").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t3", "u1", "h3", now, now.Add(-time.Hour), false))
	mock.ExpectQuery("from refresh_tokens where token_hash").WithArgs("h4").
		WillReturnError(sql.ErrNoRows)

	tokens := store.RefreshTokens(ctx)
	if tok, err := tokens.FindValid(ctx, "h1", now); err != nil || tok.ID != "t1" {
		t.Fatalf("expected valid token, got %v (%v)", tok, err)
	}
	if _, err := tokens.FindValid(ctx, "h2", now); !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("expected ErrRefreshRevoked, got %v", err)
	}
	if _, err := tokens.FindValid(ctx, "h3", now); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", err)
	}
	if _, err := tokens.FindValid(ctx, "h4", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRefreshTokenRevocation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(sqlmock.AnyArg(), "u1", "h1", now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true where token_hash").
		WithArgs("h1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update refresh_tokens set revoked=true where user_id").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from refresh_tokens").
		WithArgs(now, now.Add(-24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectQuery(`select count\(\*\) from refresh_tokens`).
		WithArgs("u1", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	tokens := store.RefreshTokens(ctx)
	if err := tokens.Store(ctx, &RefreshToken{UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if n, err := tokens.RevokeByHash(ctx, "h1"); err != nil || n != 0 {
		t.Fatalf("RevokeByHash with zero rows must succeed: n=%d err=%v", n, err)
	}
	n, err := tokens.RevokeAllForUser(ctx, "u1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 revoked, got %d (%v)", n, err)
	}
	n, err = tokens.PurgeExpiredBefore(ctx, now, now.Add(-24*time.Hour))
	if err != nil || n != 7 {
		t.Fatalf("expected 7 purged, got %d (%v)", n, err)
	}
	n, err = tokens.CountValidForUser(ctx, "u1", now)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 sessions, got %d (%v)", n, err)
	}
}

func TestPGAuditListByUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("from user_audit_log where user_id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "actor_id", "old_status", "new_status", "reason", "created_at"}).
			AddRow("a2", "u1", "APPROVED", "admin-1", "PENDING", "ACTIVE", "ok", now).
			AddRow("a1", "u1", "CREATED", "system", nil, "PENDING", "User registered via API", now.Add(-time.Hour)))

	entries, err := store.Audit(ctx).ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != ActionApproved || entries[1].OldStatus != "" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestPGRefreshRotationLosesToConcurrentRevoke(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tokens, err := token.New(sharedKeys(t), token.WithClock(clock))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	svc, err := NewService(store, tokens, WithRotation(true), WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	issued, err := tokens.IssueRefreshToken("u1")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	hash := token.HashToken(issued.Token)
	cols := []string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}

	mock.ExpectBegin()
	mock.ExpectQuery(`from refresh_tokens where token_hash=\$1 for update`).WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t1", "u1", hash, issued.ExpiresAt, now, false))
	mock.ExpectQuery(`select .+ from users where id=\$1`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "hash", "", "", "", "USER", "ACTIVE", now, now))
	// Another transaction revoked the record after this one read it.
	mock.ExpectExec("update refresh_tokens set revoked=true where token_hash").WithArgs(hash).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	res, err := svc.Refresh(ctx, issued.Token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if res.RefreshToken != "" || res.AccessToken != "" {
		t.Fatalf("losing refresh must not hand out tokens: %+v", res)
	}
}
