package fixture

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"corkboard/api/internal/store"
)

// memStore is an in-memory Store used by the fixture tests. Scraps keep
// their insertion order so assertions on processing order stay stable.
// Any of the err fields, when set, is returned by the matching operation.
type memStore struct {
	users  map[string]store.User
	scraps map[string]store.Scrap
	order  []string

	insertErr error
	updateErr error
	findErr   error
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]store.User),
		scraps: make(map[string]store.Scrap),
	}
}

func (m *memStore) addUser(u store.User) {
	m.users[u.ID] = u
}

func (m *memStore) addScrap(sc store.Scrap) {
	if _, ok := m.scraps[sc.ID]; !ok {
		m.order = append(m.order, sc.ID)
	}
	m.scraps[sc.ID] = sc
}

func (m *memStore) FindScrapByID(_ context.Context, id string) (store.Scrap, error) {
	if m.findErr != nil {
		return store.Scrap{}, m.findErr
	}
	sc, ok := m.scraps[id]
	if !ok {
		return store.Scrap{}, sql.ErrNoRows
	}
	return sc, nil
}

func (m *memStore) InsertScrap(_ context.Context, sc store.Scrap) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.addScrap(sc)
	return nil
}

func (m *memStore) UpdateScrapFields(_ context.Context, id string, mut store.ScrapMutation) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	sc, ok := m.scraps[id]
	if !ok {
		return sql.ErrNoRows
	}
	sc.Code = mut.Code
	sc.Content = mut.Content
	sc.X = mut.X
	sc.Y = mut.Y
	sc.Visible = mut.Visible
	sc.NestedWithin = mut.NestedWithin
	sc.UpdatedAt = mut.UpdatedAt
	m.scraps[id] = sc
	return nil
}

func (m *memStore) DeleteAllScraps(context.Context) error {
	m.scraps = make(map[string]store.Scrap)
	m.order = nil
	return nil
}

func (m *memStore) ListScraps(_ context.Context, filter store.ScrapFilter) ([]store.Scrap, error) {
	var out []store.Scrap
	for _, id := range m.order {
		sc := m.scraps[id]
		if filter.UserID != "" && sc.UserID != filter.UserID {
			continue
		}
		if filter.UpdatedAfter != nil && !sc.UpdatedAt.After(*filter.UpdatedAfter) {
			continue
		}
		if filter.TopLevelOnly && sc.NestedWithin != nil {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	u, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) UpsertUser(_ context.Context, u store.User) error {
	if existing, ok := m.users[u.ID]; ok {
		existing.Email = u.Email
		existing.DisplayName = u.DisplayName
		m.users[u.ID] = existing
		return nil
	}
	m.users[u.ID] = u
	return nil
}

func (m *memStore) userIDs() []string {
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func strPtr(s string) *string { return &s }

func day(n int) time.Time {
	return time.Date(2026, 8, n, 12, 0, 0, 0, time.UTC)
}
