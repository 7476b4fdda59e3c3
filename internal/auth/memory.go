package auth

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"userboard.io/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used for development and tests.
// Transactions serialise on a single mutex and work on a copy of the data.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	tx   bool
}

type memData struct {
	users  map[string]*User
	emails map[string]string // normalized email -> user id
	tokens map[string]*RefreshToken
	audit  []*AuditEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			users:  make(map[string]*User),
			emails: make(map[string]string),
			tokens: make(map[string]*RefreshToken),
		},
	}
}

func (s *MemoryStore) Users(context.Context) UserStore                 { return memUsers{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memTokens{s} }
func (s *MemoryStore) Audit(context.Context) AuditStore                { return memAudit{s} }

// WithinTx applies fn's writes atomically; an error discards them.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.data.clone()
	if err := fn(&MemoryStore{mu: s.mu, data: draft, tx: true}); err != nil {
		return err
	}
	s.data = draft
	return nil
}

// lock acquires the store mutex outside transactions and returns the data
// snapshot to operate on.
func (s *MemoryStore) lock() (*memData, func()) {
	if s.tx {
		return s.data, func() {}
	}
	s.mu.Lock()
	return s.data, s.mu.Unlock
}

func (d *memData) clone() *memData {
	out := &memData{
		users:  make(map[string]*User, len(d.users)),
		emails: make(map[string]string, len(d.emails)),
		tokens: make(map[string]*RefreshToken, len(d.tokens)),
		audit:  slices.Clone(d.audit),
	}
	for id, u := range d.users {
		out.users[id] = copyUser(u)
	}
	for k, v := range d.emails {
		out.emails[k] = v
	}
	for h, t := range d.tokens {
		cp := *t
		out.tokens[h] = &cp
	}
	return out
}

func copyUser(u *User) *User {
	cp := *u
	cp.Roles = slices.Clone(u.Roles)
	return &cp
}

// User store ---------------------------------------------------------------
type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	d, unlock := m.s.lock()
	defer unlock()

	key := NormalizeEmail(u.Email)
	if _, exists := d.emails[key]; exists {
		return ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = key
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	d.users[u.ID] = copyUser(u)
	d.emails[key] = u.ID
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	d, unlock := m.s.lock()
	defer unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	d, unlock := m.s.lock()
	defer unlock()
	id, ok := d.emails[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(d.users[id]), nil
}

func (m memUsers) UpdateStatus(_ context.Context, id string, from, to Status, at time.Time) error {
	d, unlock := m.s.lock()
	defer unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.Status != from {
		return ErrInvalidState
	}
	u.Status = to
	u.UpdatedAt = at
	return nil
}

func (m memUsers) ListByStatus(_ context.Context, status Status) ([]*User, error) {
	d, unlock := m.s.lock()
	defer unlock()
	var out []*User
	for _, u := range d.users {
		if u.Status == status {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m memUsers) List(_ context.Context, page Page) ([]*User, int64, error) {
	page = page.Normalize()
	d, unlock := m.s.lock()
	defer unlock()
	all := make([]*User, 0, len(d.users))
	for _, u := range d.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	start := len(all)
	if page.Number < len(all) {
		start = min(page.Offset(), len(all))
	}
	end := min(start+page.Size, len(all))
	out := make([]*User, 0, end-start)
	for _, u := range all[start:end] {
		out = append(out, copyUser(u))
	}
	return out, total, nil
}

func (m memUsers) CountByStatus(context.Context) (StatusCounts, error) {
	d, unlock := m.s.lock()
	defer unlock()
	var c StatusCounts
	for _, u := range d.users {
		switch u.Status {
		case StatusPending:
			c.Pending++
		case StatusActive:
			c.Active++
		case StatusRejected:
			c.Rejected++
		}
	}
	return c, nil
}

// Refresh token store ------------------------------------------------------
type memTokens struct{ s *MemoryStore }

func (m memTokens) Store(_ context.Context, tok *RefreshToken) error {
	d, unlock := m.s.lock()
	defer unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	cp := *tok
	cp.Revoked = false
	d.tokens[tok.TokenHash] = &cp
	return nil
}

func (m memTokens) FindValid(_ context.Context, hash string, now time.Time) (*RefreshToken, error) {
	d, unlock := m.s.lock()
	defer unlock()
	tok, ok := d.tokens[hash]
	switch {
	case !ok:
		return nil, ErrNotFound
	case tok.Revoked:
		return nil, ErrRefreshRevoked
	case !now.Before(tok.ExpiresAt):
		return nil, ErrRefreshExpired
	}
	cp := *tok
	return &cp, nil
}

func (m memTokens) RevokeByHash(_ context.Context, hash string) (int64, error) {
	d, unlock := m.s.lock()
	defer unlock()
	tok, ok := d.tokens[hash]
	if !ok || tok.Revoked {
		return 0, nil
	}
	tok.Revoked = true
	return 1, nil
}

func (m memTokens) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	d, unlock := m.s.lock()
	defer unlock()
	var n int64
	for _, tok := range d.tokens {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m memTokens) PurgeExpiredBefore(_ context.Context, now, revokedBefore time.Time) (int64, error) {
	d, unlock := m.s.lock()
	defer unlock()
	var n int64
	for hash, tok := range d.tokens {
		if !now.Before(tok.ExpiresAt) || (tok.Revoked && tok.CreatedAt.Before(revokedBefore)) {
			delete(d.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m memTokens) CountValidForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	d, unlock := m.s.lock()
	defer unlock()
	var n int64
	for _, tok := range d.tokens {
		if tok.UserID == userID && tok.ValidAt(now) {
			n++
		}
	}
	return n, nil
}

// Audit store --------------------------------------------------------------
type memAudit struct{ s *MemoryStore }

func (m memAudit) Append(_ context.Context, entry *AuditEntry) error {
	d, unlock := m.s.lock()
	defer unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	d.audit = append(d.audit, &cp)
	return nil
}

func (m memAudit) ListByUser(_ context.Context, userID string) ([]*AuditEntry, error) {
	d, unlock := m.s.lock()
	defer unlock()
	var out []*AuditEntry
	for i := len(d.audit) - 1; i >= 0; i-- {
		if e := d.audit[i]; e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
