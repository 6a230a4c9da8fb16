package fixture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"corkboard/api/internal/store"
)

// MergeUpdate merges an update fixture into the store on behalf of
// currentUserID and reports the fate of every incoming scrap.
//
// Records are processed independently, in fixture order, each with its own
// store writes; there is no batch transaction. Two concurrent imports for
// the same user therefore race at per-record granularity, which the
// recency rule already tolerates: the later write wins.
//
// Per record the engine runs two phases:
//
//  1. Parent synthesis. An incoming scrap nested within an id the store
//     does not know gets a placeholder parent with that exact id, owned by
//     the importer, so nesting references never dangle. The store is
//     queried live, so a parent shared by several incoming scraps is only
//     synthesized for the first one.
//  2. Dispatch on the scrap's own id. Unknown ids are inserted verbatim.
//     Known ids are updated only when the importer owns the stored record
//     (ownership is checked against the STORED owner, so a stale or
//     hostile fixture cannot reassign a scrap) and the stored copy is not
//     strictly newer than the incoming timestamp. Equal timestamps take
//     the update path.
//
// The incoming updatedAt is trusted verbatim; it is the only conflict
// signal. A store failure aborts the merge and propagates: it is never
// reported as a skip.
func MergeUpdate(ctx context.Context, st Store, fx *UpdateFixture, currentUserID string) (*UpdateResult, error) {
	result := &UpdateResult{
		Updated:       []Scrap{},
		Created:       []Scrap{},
		Skipped:       []SkippedScrap{},
		ParentCreated: []ParentCreated{},
	}

	for _, incoming := range fx.Scraps {
		if incoming.NestedWithin != nil {
			created, err := ensureParent(ctx, st, *incoming.NestedWithin, currentUserID)
			if err != nil {
				return nil, fmt.Errorf("ensure parent of scrap %s: %w", incoming.ID, err)
			}
			if created {
				result.ParentCreated = append(result.ParentCreated, ParentCreated{
					ParentID: *incoming.NestedWithin,
					ChildID:  incoming.ID,
				})
			}
		}

		existing, err := st.FindScrapByID(ctx, incoming.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := st.InsertScrap(ctx, scrapToStore(incoming)); err != nil {
				return nil, fmt.Errorf("insert scrap %s: %w", incoming.ID, err)
			}
			result.Created = append(result.Created, incoming)

		case err != nil:
			return nil, fmt.Errorf("lookup scrap %s: %w", incoming.ID, err)

		case existing.UserID != currentUserID:
			result.Skipped = append(result.Skipped, SkippedScrap{Scrap: incoming, Reason: ReasonNotOwner})

		case existing.UpdatedAt.After(incoming.UpdatedAt):
			result.Skipped = append(result.Skipped, SkippedScrap{Scrap: incoming, Reason: ReasonNewerOnServer})

		default:
			mutation := store.ScrapMutation{
				Code:         incoming.Code,
				Content:      incoming.Content,
				X:            incoming.X,
				Y:            incoming.Y,
				Visible:      incoming.Visible,
				NestedWithin: incoming.NestedWithin,
				UpdatedAt:    incoming.UpdatedAt,
			}
			if err := st.UpdateScrapFields(ctx, incoming.ID, mutation); err != nil {
				return nil, fmt.Errorf("update scrap %s: %w", incoming.ID, err)
			}
			merged := scrapToWire(existing)
			merged.Code = mutation.Code
			merged.Content = mutation.Content
			merged.X = mutation.X
			merged.Y = mutation.Y
			merged.Visible = mutation.Visible
			merged.NestedWithin = mutation.NestedWithin
			merged.UpdatedAt = mutation.UpdatedAt
			result.Updated = append(result.Updated, merged)
		}
	}

	return result, nil
}

// ensureParent inserts a placeholder scrap under parentID when the store
// has no record of it. Reports whether a placeholder was created.
func ensureParent(ctx context.Context, st Store, parentID, ownerID string) (bool, error) {
	_, err := st.FindScrapByID(ctx, parentID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup parent %s: %w", parentID, err)
	}

	now := time.Now().UTC()
	placeholder := store.Scrap{
		ID:        parentID,
		Code:      PlaceholderCode(parentID),
		Content:   "",
		X:         0,
		Y:         0,
		Visible:   true,
		UserID:    ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.InsertScrap(ctx, placeholder); err != nil {
		return false, fmt.Errorf("insert placeholder %s: %w", parentID, err)
	}
	return true, nil
}
