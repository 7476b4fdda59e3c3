package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"userboard.io/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB // nil inside a transaction
	q  queryer
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{q: s.q} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{q: s.q}
}
func (s *PGStore) Audit(context.Context) AuditStore { return &auditStore{q: s.q} }

// WithinTx runs fn inside BEGIN/COMMIT. Nested calls join the outer transaction.
func (s *PGStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PGStore{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// User store ---------------------------------------------------------------
type userStore struct{ q queryer }

const userColumns = `id, email, password_hash, first_name, last_name, phone, roles, status, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := s.q.ExecContext(ctx,
		`insert into users(`+userColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		joinRoles(u.Roles), string(u.Status), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=$1`, NormalizeEmail(email))
	return scanUser(row)
}

func (s *userStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`update users set status=$1, updated_at=$2 where id=$3 and status=$4`,
		string(to), at, id, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var current string
	if err := s.q.QueryRowContext(ctx, `select status from users where id=$1`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("user %s is %s: %w", id, current, ErrInvalidState)
}

func (s *userStore) ListByStatus(ctx context.Context, status Status) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+userColumns+` from users where status=$1 order by created_at asc, id asc`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *userStore) List(ctx context.Context, page Page) ([]*User, int64, error) {
	page = page.Normalize()
	var total int64
	if err := s.q.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.q.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at desc, id desc limit $1 offset $2`,
		page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users, err := scanUsers(rows)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *userStore) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.q.QueryContext(ctx, `select status, count(*) from users group by status`)
	if err != nil {
		return StatusCounts{}, err
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, err
		}
		switch Status(status) {
		case StatusPending:
			counts.Pending = n
		case StatusActive:
			counts.Active = n
		case StatusRejected:
			counts.Rejected = n
		}
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u      User
		roles  string
		status string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&roles, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Roles = splitRoles(roles)
	u.Status = Status(status)
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ q queryer }

func (s *refreshTokenStore) Store(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, created_at, revoked)
		 values($1,$2,$3,$4,$5,false)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

func (s *refreshTokenStore) FindValid(ctx context.Context, hash string, now time.Time) (*RefreshToken, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked
		 from refresh_tokens where token_hash=$1 for update`, hash)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	switch {
	case tok.Revoked:
		return nil, ErrRefreshRevoked
	case !now.Before(tok.ExpiresAt):
		return nil, ErrRefreshExpired
	}
	return &tok, nil
}

func (s *refreshTokenStore) RevokeByHash(ctx context.Context, hash string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked=true where token_hash=$1 and revoked=false`, hash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and revoked=false`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) PurgeExpiredBefore(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`delete from refresh_tokens where expires_at <= $1 or (revoked and created_at < $2)`,
		now, revokedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) CountValidForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`select count(*) from refresh_tokens where user_id=$1 and revoked=false and expires_at > $2`,
		userID, now).Scan(&n)
	return n, err
}

// Audit store --------------------------------------------------------------
type auditStore struct{ q queryer }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`insert into user_audit_log(id, user_id, action, actor_id, old_status, new_status, reason, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.UserID, string(entry.Action), entry.ActorID,
		nullString(string(entry.OldStatus)), string(entry.NewStatus), nullString(entry.Reason), entry.CreatedAt,
	)
	return err
}

func (s *auditStore) ListByUser(ctx context.Context, userID string) ([]*AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`select id, user_id, action, actor_id, old_status, new_status, reason, created_at
		 from user_audit_log where user_id=$1 order by created_at desc, id desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e                 AuditEntry
			action, newStatus string
			oldStatus, reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.ActorID, &oldStatus, &newStatus, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = AuditAction(action)
		e.OldStatus = Status(oldStatus.String)
		e.NewStatus = Status(newStatus)
		e.Reason = reason.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
