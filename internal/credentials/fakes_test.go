package credentials

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	rows  map[string]*Integration
	gets  int
	saves int
}

func newMemStore(integrations ...Integration) *memStore {
	s := &memStore{rows: make(map[string]*Integration)}
	for i := range integrations {
		integ := integrations[i]
		s.rows[integ.ID] = &integ
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (*Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	integ, ok := s.rows[id]
	if !ok {
		return nil, ErrIntegrationNotFound
	}
	cp := *integ
	return &cp, nil
}

func (s *memStore) ListByStatus(_ context.Context, statuses ...Status) ([]Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Integration
	for _, integ := range s.rows {
		for _, st := range statuses {
			if integ.Status == st {
				out = append(out, *integ)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ListExpiring(_ context.Context, before time.Time) ([]Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Integration
	for _, integ := range s.rows {
		if integ.Status != StatusActive {
			continue
		}
		if integ.TokenExpiry == nil || integ.TokenExpiry.Before(before) {
			out = append(out, *integ)
		}
	}
	return out, nil
}

func (s *memStore) SaveTokens(_ context.Context, id string, tokens TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integ, ok := s.rows[id]
	if !ok {
		return ErrIntegrationNotFound
	}
	s.saves++
	expires := tokens.ExpiresAt
	integ.RequestKey = tokens.RequestKey
	integ.RefreshKey = tokens.RefreshKey
	integ.TokenExpiry = &expires
	integ.Status = StatusActive
	integ.LastError = ""
	return nil
}

func (s *memStore) MarkError(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integ, ok := s.rows[id]
	if !ok {
		return ErrIntegrationNotFound
	}
	integ.Status = StatusError
	integ.LastError = reason
	return nil
}

func (s *memStore) row(id string) Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

// fakeGrants answers grants from per-key tables.
type fakeGrants struct {
	mu        sync.Mutex
	refresh   map[string]*TokenSet
	initial   map[string]*TokenSet
	refreshes int
	initials  int
}

func (g *fakeGrants) RefreshGrant(_ context.Context, refreshKey string) (*TokenSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshes++
	if tokens, ok := g.refresh[refreshKey]; ok {
		cp := *tokens
		return &cp, nil
	}
	return nil, &GrantError{GrantType: "refresh_token", Status: 401}
}

func (g *fakeGrants) InitialGrant(_ context.Context, officeID, _ string) (*TokenSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initials++
	if tokens, ok := g.initial[officeID]; ok {
		cp := *tokens
		return &cp, nil
	}
	return nil, errors.New("invalid office credentials")
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return ErrRefreshInProgress
}

// ctxStore fails writes once ctx is done, the way a pgx pool does.
type ctxStore struct {
	*memStore
}

func (s ctxStore) SaveTokens(ctx context.Context, id string, tokens TokenSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.SaveTokens(ctx, id, tokens)
}

func (s ctxStore) MarkError(ctx context.Context, id, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.MarkError(ctx, id, reason)
}

// hangingGrants blocks every grant until its context ends.
type hangingGrants struct{}

func (hangingGrants) RefreshGrant(ctx context.Context, _ string) (*TokenSet, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingGrants) InitialGrant(ctx context.Context, _, _ string) (*TokenSet, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// pausingStore runs afterRead between loading a row and returning it.
type pausingStore struct {
	*memStore
	afterRead func()
}

func (s *pausingStore) Get(ctx context.Context, id string) (*Integration, error) {
	integ, err := s.memStore.Get(ctx, id)
	if s.afterRead != nil {
		hook := s.afterRead
		s.afterRead = nil
		hook()
	}
	return integ, err
}
