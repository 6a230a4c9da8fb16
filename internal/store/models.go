package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Scrap is a positioned text note on the board. NestedWithin points at the
// parent scrap's id when the scrap is pinned inside another one; nil means
// the scrap sits directly on the board.
type Scrap struct {
	ID           string
	Code         string
	Content      string
	X            int
	Y            int
	Visible      bool
	UserID       string
	NestedWithin *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScrapFilter narrows ListScraps. Zero value lists everything.
type ScrapFilter struct {
	UserID       string
	UpdatedAfter *time.Time
	TopLevelOnly bool
}

// ScrapMutation carries the mutable fields applied by UpdateScrapFields.
// ID, UserID, and CreatedAt are never touched by an update.
type ScrapMutation struct {
	Code         string
	Content      string
	X            int
	Y            int
	Visible      bool
	NestedWithin *string
	UpdatedAt    time.Time
}
