package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/utils"
)

// ---------------------------------------------------------------------
// Token store
// ---------------------------------------------------------------------

type fakeTokenRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.TokenRecord
	order   []uuid.UUID

	failWith error
}

var _ repositories.TokenRepository = (*fakeTokenRepo)(nil)

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{records: map[uuid.UUID]*models.TokenRecord{}}
}

func cloneRecord(rec *models.TokenRecord) *models.TokenRecord {
	cp := *rec
	return &cp
}

func (f *fakeTokenRepo) insert(rec *models.TokenRecord) {
	f.records[rec.ID] = cloneRecord(rec)
	f.order = append(f.order, rec.ID)
}

func (f *fakeTokenRepo) Create(_ context.Context, rec *models.TokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.insert(rec)
	return nil
}

func (f *fakeTokenRepo) findActive(userID uuid.UUID, match func(*models.TokenRecord) bool) (*models.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, id := range f.order {
		rec := f.records[id]
		if rec.UserID == userID && !rec.Revoked && match(rec) {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (f *fakeTokenRepo) FindActiveByAccessToken(_ context.Context, userID uuid.UUID, raw string) (*models.TokenRecord, error) {
	return f.findActive(userID, func(r *models.TokenRecord) bool { return r.AccessToken == raw })
}

func (f *fakeTokenRepo) FindActiveByRefreshToken(_ context.Context, userID uuid.UUID, raw string) (*models.TokenRecord, error) {
	return f.findActive(userID, func(r *models.TokenRecord) bool { return r.RefreshToken == raw })
}

func (f *fakeTokenRepo) FindActiveByRememberMeToken(_ context.Context, userID uuid.UUID, raw string) (*models.TokenRecord, error) {
	return f.findActive(userID, func(r *models.TokenRecord) bool {
		return r.RememberMeToken != nil && *r.RememberMeToken == raw
	})
}

func (f *fakeTokenRepo) FindActiveByTokens(_ context.Context, userID uuid.UUID, raws []string) ([]*models.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	wanted := map[string]bool{}
	for _, raw := range raws {
		if raw != "" {
			wanted[raw] = true
		}
	}
	var out []*models.TokenRecord
	for _, id := range f.order {
		rec := f.records[id]
		if rec.UserID != userID || rec.Revoked {
			continue
		}
		if wanted[rec.AccessToken] || wanted[rec.RefreshToken] ||
			(rec.RememberMeToken != nil && wanted[*rec.RememberMeToken]) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (f *fakeTokenRepo) ReplaceRecord(_ context.Context, newRec *models.TokenRecord, oldID uuid.UUID) (*models.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	old, ok := f.records[oldID]
	if !ok || old.Revoked {
		return nil, utils.ErrTokenRevoked
	}
	old.Revoked = true

	// Like the Postgres store, the returned row knows the carried-over
	// deadline but not the raw remember-me token.
	stored := *newRec
	if stored.RememberMeToken == nil && old.RememberMeToken != nil {
		stored.IsRememberMeToken = true
		stored.RememberMeExpiresAt = old.RememberMeExpiresAt
		f.insert(&stored)
		f.records[stored.ID].RememberMeToken = old.RememberMeToken
		return &stored, nil
	}
	f.insert(&stored)
	return &stored, nil
}

func (f *fakeTokenRepo) RevokeRecords(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	var n int64
	for _, id := range ids {
		if rec, ok := f.records[id]; ok && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) RevokeAllRememberMeByUserID(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	var n int64
	for _, rec := range f.records {
		if rec.UserID == userID && rec.IsRememberMeToken && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) activeCount(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if rec.UserID == userID && !rec.Revoked {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------
// User directory
// ---------------------------------------------------------------------

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User

	failWith error
}

var _ repositories.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	f := &fakeUserRepo{users: map[uuid.UUID]*models.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if strings.ToLower(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) update(id uuid.UUID, fn func(u *models.User)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.users[id])
}

var errStoreDown = errors.New("store down")
