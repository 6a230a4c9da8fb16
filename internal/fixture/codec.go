package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidFixture marks a payload that is not valid fixture JSON or is
// missing a required top-level key. The HTTP layer maps it to a bad request.
var ErrInvalidFixture = errors.New("invalid fixture")

// EncodeMirror serializes a mirror fixture as indented JSON so exported
// files diff cleanly. Timestamps are RFC3339.
func EncodeMirror(fx *MirrorFixture) ([]byte, error) {
	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode mirror fixture: %w", err)
	}
	return append(data, '\n'), nil
}

func EncodeUpdate(fx *UpdateFixture) ([]byte, error) {
	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode update fixture: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeMirror parses a mirror fixture, rehydrating RFC3339 timestamps.
// Both the users and scraps keys must be present, even if empty.
func DecodeMirror(data []byte) (*MirrorFixture, error) {
	var raw struct {
		Users  *[]User  `json:"users"`
		Scraps *[]Scrap `json:"scraps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse mirror fixture: %v", ErrInvalidFixture, err)
	}
	if raw.Users == nil {
		return nil, fmt.Errorf("%w: missing users", ErrInvalidFixture)
	}
	if raw.Scraps == nil {
		return nil, fmt.Errorf("%w: missing scraps", ErrInvalidFixture)
	}
	return &MirrorFixture{Users: *raw.Users, Scraps: *raw.Scraps}, nil
}

// DecodeUpdate parses an update fixture. The scraps key must be present.
func DecodeUpdate(data []byte) (*UpdateFixture, error) {
	var raw struct {
		Scraps *[]Scrap `json:"scraps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse update fixture: %v", ErrInvalidFixture, err)
	}
	if raw.Scraps == nil {
		return nil, fmt.Errorf("%w: missing scraps", ErrInvalidFixture)
	}
	return &UpdateFixture{Scraps: *raw.Scraps}, nil
}
