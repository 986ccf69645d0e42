package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LegacyRow is a pre-migration meta row tagged with an import marker.
type LegacyRow struct {
	MetaID    int64
	PostID    int64
	MetaValue string
}

// LegacyPayload is the schema of a legacy row's meta_value.
type LegacyPayload struct {
	Rating     FlexInt         `json:"rating" validate:"gte=0,maxrating"`
	Type       string          `json:"type" validate:"omitempty,max=20"`
	IsApproved FlexBool        `json:"is_approved"`
	IsPinned   FlexBool        `json:"is_pinned"`
	Name       string          `json:"name" validate:"max=250"`
	Email      string          `json:"email" validate:"omitempty,email"`
	Avatar     string          `json:"avatar"`
	IPAddress  string          `json:"ip_address" validate:"omitempty,ip"`
	URL        string          `json:"url"`
	Response   string          `json:"response"`
	PostIDs    json.RawMessage `json:"post_ids"`
	TermIDs    json.RawMessage `json:"term_ids"`
	UserIDs    json.RawMessage `json:"user_ids"`
}

// DecodeLegacyPayload parses a meta_value. Structural decode errors wrap
// ErrValidation.
func DecodeLegacyPayload(raw string) (LegacyPayload, error) {
	var p LegacyPayload
	if strings.TrimSpace(raw) == "" {
		return p, fmt.Errorf("%w: empty payload", ErrValidation)
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p, nil
}

// ToRating builds the canonical row for the review the payload belongs to.
func (p LegacyPayload) ToRating(reviewID int64) Rating {
	return Rating{
		ReviewID:   reviewID,
		Rating:     int(p.Rating),
		Type:       p.Type,
		IsApproved: bool(p.IsApproved),
		IsPinned:   bool(p.IsPinned),
		Name:       p.Name,
		Email:      p.Email,
		Avatar:     p.Avatar,
		IPAddress:  p.IPAddress,
		URL:        p.URL,
		Response:   p.Response,
	}
}

// AssignedIDs returns the normalized id set for one assignment kind.
func (p LegacyPayload) AssignedIDs(kind AssignmentKind) []int64 {
	switch kind {
	case AssignPost:
		return UniqueInt(p.PostIDs)
	case AssignTerm:
		return UniqueInt(p.TermIDs)
	case AssignUser:
		return UniqueInt(p.UserIDs)
	}
	return nil
}

// FlexBool accepts true/false, 0/1 and the strings "1", "true", "yes", "on".
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	*b = FlexBool(parseBool(strings.Trim(string(data), `"`)))
	return nil
}

// FlexInt accepts numbers and numeric strings; anything else is 0.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(strings.Trim(string(data), `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f = 0
	}
	*n = FlexInt(int(f))
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ParseBool is the boolean cast used for loosely typed input.
func ParseBool(s string) bool { return parseBool(s) }
