package fixture

import (
	"context"
	"fmt"
	"time"

	"corkboard/api/internal/store"
)

// GenerateUpdate builds a partial snapshot of the requesting user's own
// scraps, optionally limited to those changed strictly after since. No
// user records and no redaction: the requester owns everything returned.
func GenerateUpdate(ctx context.Context, st Store, currentUserID string, since *time.Time) (*UpdateFixture, error) {
	scraps, err := st.ListScraps(ctx, store.ScrapFilter{
		UserID:       currentUserID,
		UpdatedAfter: since,
	})
	if err != nil {
		return nil, fmt.Errorf("load scraps for %s: %w", currentUserID, err)
	}

	fx := &UpdateFixture{Scraps: make([]Scrap, 0, len(scraps))}
	for _, sc := range scraps {
		fx.Scraps = append(fx.Scraps, scrapToWire(sc))
	}
	return fx, nil
}
