package search

import "testing"

func TestSanitizeResults(t *testing.T) {
	results := []Result{
		{ID: "s1", UserID: "user-a", Visible: true},
		{ID: "s2", UserID: "user-a", Visible: false},
		{ID: "s3", UserID: "user-b", Visible: false},
	}

	t.Run("owner keeps own private scraps", func(t *testing.T) {
		got := sanitizeResults(results, "user-a")
		if len(got) != 2 || got[0].ID != "s1" || got[1].ID != "s2" {
			t.Errorf("sanitized = %+v", got)
		}
	})

	t.Run("anonymous sees only visible", func(t *testing.T) {
		got := sanitizeResults(results, "")
		if len(got) != 1 || got[0].ID != "s1" {
			t.Errorf("sanitized = %+v", got)
		}
	})

	t.Run("other users never see private scraps", func(t *testing.T) {
		got := sanitizeResults(results, "user-c")
		if len(got) != 1 || got[0].ID != "s1" {
			t.Errorf("sanitized = %+v", got)
		}
	})
}

func TestNonNil(t *testing.T) {
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Errorf("nonNil(nil) = %v", got)
	}
	in := []Result{{ID: "s1"}}
	if got := nonNil(in); len(got) != 1 {
		t.Errorf("nonNil(in) = %v", got)
	}
}
