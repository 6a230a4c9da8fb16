// Package fixture implements the offline-sync engine: snapshot generation,
// snapshot import, and the update merge with deterministic conflict
// resolution. Fixtures are the JSON files users take offline and bring back.
package fixture

import (
	"context"
	"time"

	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

// Store is the narrow slice of the record store the fixture engine needs.
// Lookups report a missing row with sql.ErrNoRows, matching the postgres
// implementation in internal/store.
type Store interface {
	FindScrapByID(ctx context.Context, id string) (store.Scrap, error)
	InsertScrap(ctx context.Context, sc store.Scrap) error
	UpdateScrapFields(ctx context.Context, id string, m store.ScrapMutation) error
	DeleteAllScraps(ctx context.Context) error
	ListScraps(ctx context.Context, filter store.ScrapFilter) ([]store.Scrap, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpsertUser(ctx context.Context, u store.User) error
}

// User is the fixture projection of an account. Passwords are never part
// of any fixture.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Scrap is the wire form of a board scrap inside a fixture.
type Scrap struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Content      string    `json:"content"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	Visible      bool      `json:"visible"`
	UserID       string    `json:"userId"`
	NestedWithin *string   `json:"nestedWithin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MirrorFixture is a full snapshot of the board: destructive to import.
type MirrorFixture struct {
	Users  []User  `json:"users"`
	Scraps []Scrap `json:"scraps"`
}

// UpdateFixture carries one user's scraps back to the server: merged on import.
type UpdateFixture struct {
	Scraps []Scrap `json:"scraps"`
}

// Skip reasons reported in an UpdateResult. Skips are outcomes, not errors.
const (
	ReasonNotOwner      = "not_owner"
	ReasonNewerOnServer = "newer_on_server"
)

type SkippedScrap struct {
	Scrap  Scrap  `json:"scrap"`
	Reason string `json:"reason"`
}

type ParentCreated struct {
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
}

// UpdateResult reports what the merge engine did with every incoming scrap.
type UpdateResult struct {
	Updated       []Scrap         `json:"updated"`
	Created       []Scrap         `json:"created"`
	Skipped       []SkippedScrap  `json:"skipped"`
	ParentCreated []ParentCreated `json:"parentCreated"`
}

// DummyUserID is the one identity that absorbs every account other than
// the requester's in a mirror fixture.
const DummyUserID = "user_dummy"

// DummyUser is the placeholder identity embedded in every mirror fixture.
func DummyUser() User {
	return User{
		ID:    DummyUserID,
		Email: "dummy@corkboard.invalid",
		Name:  "Someone Else",
	}
}

// PlaceholderCode derives the human-facing label of a synthesized parent
// scrap from its id. Deterministic; not guaranteed unique across ids that
// share a fragment, which is acceptable because codes are not unique.
func PlaceholderCode(id string) string {
	return "missing-" + util.ShortFragment(id, 8)
}

func scrapToWire(sc store.Scrap) Scrap {
	return Scrap{
		ID:           sc.ID,
		Code:         sc.Code,
		Content:      sc.Content,
		X:            sc.X,
		Y:            sc.Y,
		Visible:      sc.Visible,
		UserID:       sc.UserID,
		NestedWithin: sc.NestedWithin,
		CreatedAt:    sc.CreatedAt,
		UpdatedAt:    sc.UpdatedAt,
	}
}

func scrapToStore(sc Scrap) store.Scrap {
	return store.Scrap{
		ID:           sc.ID,
		Code:         sc.Code,
		Content:      sc.Content,
		X:            sc.X,
		Y:            sc.Y,
		Visible:      sc.Visible,
		UserID:       sc.UserID,
		NestedWithin: sc.NestedWithin,
		CreatedAt:    sc.CreatedAt,
		UpdatedAt:    sc.UpdatedAt,
	}
}
