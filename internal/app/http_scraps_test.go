package app

import (
	"net/http"
	"testing"

	"corkboard/api/internal/store"
)

func TestScrapLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	session := env.sessionFor(t, "user_ana")

	status, created := env.do(t, http.MethodPost, "/api/scraps", session.Token, map[string]any{
		"code":    "groceries",
		"content": "milk, eggs",
		"x":       120,
		"y":       40,
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %v", status, created)
	}
	scrapID, _ := created["id"].(string)
	if scrapID == "" {
		t.Fatal("created scrap has no id")
	}
	if created["visible"] != true {
		t.Fatalf("visible defaults to %v, want true", created["visible"])
	}
	if created["userId"] != "user_ana" {
		t.Fatalf("created scrap owner = %v", created["userId"])
	}

	status, fetched := env.do(t, http.MethodGet, "/api/scraps/"+scrapID, session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	if fetched["content"] != "milk, eggs" || fetched["redacted"] != false {
		t.Fatalf("get payload = %v", fetched)
	}
	if fetched["nestedCount"] != float64(0) {
		t.Fatalf("nestedCount = %v, want 0", fetched["nestedCount"])
	}

	status, updated := env.do(t, http.MethodPut, "/api/scraps/"+scrapID, session.Token, map[string]any{
		"code":    "groceries",
		"content": "milk, eggs, bread",
		"x":       130,
		"y":       45,
	})
	if status != http.StatusOK {
		t.Fatalf("update status = %d, want 200: %v", status, updated)
	}
	if updated["content"] != "milk, eggs, bread" || updated["x"] != float64(130) {
		t.Fatalf("update payload = %v", updated)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/scraps/"+scrapID, session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", status)
	}

	status, _ = env.do(t, http.MethodGet, "/api/scraps/"+scrapID, session.Token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", status)
	}
}

func TestCreateScrapValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	session := env.sessionFor(t, "user_ana")

	status, body := env.do(t, http.MethodPost, "/api/scraps", session.Token, map[string]any{
		"content": "no code",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("missing code status = %d, want 422", status)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("missing code error code = %v", body["code"])
	}

	status, _ = env.do(t, http.MethodPost, "/api/scraps", session.Token, map[string]any{
		"code":         "orphan",
		"nestedWithin": "scrap_missing",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("missing parent status = %d, want 422", status)
	}
}

func TestScrapListFilters(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	env.seedUser(t, "user_bob", "Bob", "member")
	session := env.sessionFor(t, "user_ana")

	parent := env.seedScrap(t, store.Scrap{ID: "scrap_p", Code: "parent", UserID: "user_ana", Visible: true})
	env.seedScrap(t, store.Scrap{ID: "scrap_c", Code: "child", UserID: "user_ana", Visible: true, NestedWithin: &parent.ID})
	env.seedScrap(t, store.Scrap{ID: "scrap_b", Code: "bobs", UserID: "user_bob", Visible: true})

	status, body := env.do(t, http.MethodGet, "/api/scraps", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if got := len(body["scraps"].([]any)); got != 3 {
		t.Fatalf("unfiltered list length = %d, want 3", got)
	}

	_, body = env.do(t, http.MethodGet, "/api/scraps?owned=1", session.Token, nil)
	if got := len(body["scraps"].([]any)); got != 2 {
		t.Fatalf("owned list length = %d, want 2", got)
	}

	_, body = env.do(t, http.MethodGet, "/api/scraps?top=1", session.Token, nil)
	if got := len(body["scraps"].([]any)); got != 2 {
		t.Fatalf("top-level list length = %d, want 2", got)
	}
}

func TestPrivateScrapRedactedForOthers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	env.seedUser(t, "user_bob", "Bob", "member")
	env.seedScrap(t, store.Scrap{
		ID: "scrap_secret", Code: "diary", Content: "private thoughts",
		UserID: "user_ana", Visible: false,
	})

	ana := env.sessionFor(t, "user_ana")
	bob := env.sessionFor(t, "user_bob")

	_, mine := env.do(t, http.MethodGet, "/api/scraps/scrap_secret", ana.Token, nil)
	if mine["content"] != "private thoughts" || mine["redacted"] != false {
		t.Fatalf("owner view = %v", mine)
	}

	_, theirs := env.do(t, http.MethodGet, "/api/scraps/scrap_secret", bob.Token, nil)
	if theirs["content"] != "" || theirs["redacted"] != true {
		t.Fatalf("foreign view = %v", theirs)
	}
	if theirs["userId"] != nil || theirs["createdAt"] != nil {
		t.Fatalf("foreign view leaked author or timestamps: %v", theirs)
	}
	// The scrap itself stays on the board; only sensitive fields vanish.
	if theirs["code"] != "diary" {
		t.Fatalf("foreign view code = %v", theirs["code"])
	}
}

func TestAnonymousReadIsRedacted(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	env.seedScrap(t, store.Scrap{
		ID: "scrap_pub", Code: "public", Content: "open text", UserID: "user_ana", Visible: true,
	})
	env.seedScrap(t, store.Scrap{
		ID: "scrap_priv", Code: "private", Content: "hidden text", UserID: "user_ana", Visible: false,
	})

	status, body := env.do(t, http.MethodGet, "/api/scraps", "", nil)
	if status != http.StatusOK {
		t.Fatalf("anonymous list status = %d, want 200", status)
	}
	scraps := body["scraps"].([]any)
	if len(scraps) != 2 {
		t.Fatalf("anonymous list length = %d, want 2", len(scraps))
	}
	// Anonymous viewers see the board layout but no content at all.
	for _, raw := range scraps {
		sc := raw.(map[string]any)
		if sc["content"] != "" || sc["redacted"] != true {
			t.Fatalf("content leaked to anonymous viewer: %v", sc)
		}
	}

	// Writes still need a session.
	status, _ = env.do(t, http.MethodPost, "/api/scraps", "", map[string]any{"code": "nope"})
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous create status = %d, want 401", status)
	}
}

func TestScrapOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	env.seedUser(t, "user_bob", "Bob", "member")
	env.seedUser(t, "user_mod", "Mod", "moderator")
	env.seedScrap(t, store.Scrap{ID: "scrap_a", Code: "anas", UserID: "user_ana", Visible: true})

	bob := env.sessionFor(t, "user_bob")
	mod := env.sessionFor(t, "user_mod")

	status, body := env.do(t, http.MethodPut, "/api/scraps/scrap_a", bob.Token, map[string]any{
		"code": "hijacked",
	})
	if status != http.StatusForbidden {
		t.Fatalf("foreign update status = %d, want 403: %v", status, body)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/scraps/scrap_a", bob.Token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("foreign delete status = %d, want 403", status)
	}

	// Moderators may edit anyone's scraps.
	status, _ = env.do(t, http.MethodPut, "/api/scraps/scrap_a", mod.Token, map[string]any{
		"code": "moderated",
	})
	if status != http.StatusOK {
		t.Fatalf("moderator update status = %d, want 200", status)
	}
}

func TestDeleteScrapWithNestedChildren(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	session := env.sessionFor(t, "user_ana")

	parent := env.seedScrap(t, store.Scrap{ID: "scrap_p", Code: "parent", UserID: "user_ana", Visible: true})
	env.seedScrap(t, store.Scrap{ID: "scrap_c", Code: "child", UserID: "user_ana", Visible: true, NestedWithin: &parent.ID})

	status, body := env.do(t, http.MethodDelete, "/api/scraps/scrap_p", session.Token, nil)
	if status != http.StatusConflict {
		t.Fatalf("delete parent status = %d, want 409: %v", status, body)
	}
	if body["code"] != "CONFLICT" {
		t.Fatalf("delete parent code = %v", body["code"])
	}

	// Children go first; then the parent is free.
	if status, _ := env.do(t, http.MethodDelete, "/api/scraps/scrap_c", session.Token, nil); status != http.StatusOK {
		t.Fatalf("delete child status = %d, want 200", status)
	}
	if status, _ := env.do(t, http.MethodDelete, "/api/scraps/scrap_p", session.Token, nil); status != http.StatusOK {
		t.Fatalf("delete parent retry status = %d, want 200", status)
	}
}

func TestSelfNestingRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_ana", "Ana", "member")
	session := env.sessionFor(t, "user_ana")
	env.seedScrap(t, store.Scrap{ID: "scrap_x", Code: "loop", UserID: "user_ana", Visible: true})

	status, _ := env.do(t, http.MethodPut, "/api/scraps/scrap_x", session.Token, map[string]any{
		"code":         "loop",
		"nestedWithin": "scrap_x",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("self-nesting status = %d, want 422", status)
	}
}

func TestViewerCannotWrite(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user_view", "View", "viewer")
	session := env.sessionFor(t, "user_view")

	status, body := env.do(t, http.MethodPost, "/api/scraps", session.Token, map[string]any{
		"code": "nope",
	})
	if status != http.StatusForbidden {
		t.Fatalf("viewer create status = %d, want 403", status)
	}
	if body["code"] != "FORBIDDEN" {
		t.Fatalf("viewer create code = %v", body["code"])
	}

	// Reads are still allowed.
	if status, _ := env.do(t, http.MethodGet, "/api/scraps", session.Token, nil); status != http.StatusOK {
		t.Fatalf("viewer list status = %d, want 200", status)
	}
}
