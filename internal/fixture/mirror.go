package fixture

import (
	"context"
	"fmt"

	"corkboard/api/internal/store"
)

// GenerateMirror builds a full, shareable snapshot of the board for one
// requesting user. Every scrap is included; every identity other than the
// requester's collapses into the dummy user, and content the requester may
// not see is blanked. The output never carries a password.
func GenerateMirror(ctx context.Context, st Store, currentUserID string) (*MirrorFixture, error) {
	me, err := st.GetUserByID(ctx, currentUserID)
	if err != nil {
		return nil, fmt.Errorf("load requesting user %s: %w", currentUserID, err)
	}

	scraps, err := st.ListScraps(ctx, store.ScrapFilter{})
	if err != nil {
		return nil, fmt.Errorf("load scraps: %w", err)
	}

	fx := &MirrorFixture{
		Users: []User{
			DummyUser(),
			{ID: me.ID, Email: me.Email, Name: me.DisplayName},
		},
		Scraps: make([]Scrap, 0, len(scraps)),
	}

	for _, sc := range scraps {
		wire := scrapToWire(sc)
		if sc.UserID != currentUserID {
			// Ownership is judged on the original owner, before the
			// identity is rewritten.
			if !sc.Visible {
				wire.Content = ""
			}
			wire.UserID = DummyUserID
		}
		fx.Scraps = append(fx.Scraps, wire)
	}

	return fx, nil
}

// ImportMirror destructively replaces the scrap store with the fixture's
// contents. Users are upserted first so scrap ownership references resolve;
// scraps are then inserted verbatim, trusting the fixture's internal
// consistency. A store failure aborts the sequence; writes already applied
// are not rolled back, so a failed import leaves the store needing a
// re-import.
func ImportMirror(ctx context.Context, st Store, fx *MirrorFixture) error {
	if err := st.DeleteAllScraps(ctx); err != nil {
		return fmt.Errorf("clear scraps: %w", err)
	}

	for _, u := range fx.Users {
		if err := st.UpsertUser(ctx, store.User{
			ID:          u.ID,
			DisplayName: u.Name,
			Email:       u.Email,
		}); err != nil {
			return fmt.Errorf("import user %s: %w", u.ID, err)
		}
	}

	for _, sc := range fx.Scraps {
		if err := st.InsertScrap(ctx, scrapToStore(sc)); err != nil {
			return fmt.Errorf("import scrap %s: %w", sc.ID, err)
		}
	}

	return nil
}
