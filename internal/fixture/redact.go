package fixture

import "corkboard/api/internal/store"

// ShouldRedact decides whether a viewer may see a scrap's sensitive fields
// (content, author, timestamps). viewerID "" means anonymous. Private
// scraps are visible only to their owner. Pure function of its inputs.
func ShouldRedact(viewerID string, sc store.Scrap) bool {
	if viewerID == "" {
		return true
	}
	return !sc.Visible && sc.UserID != viewerID
}
