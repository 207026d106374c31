package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// User represents a member of exactly one room, scoped to one connection
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IP           string    `json:"-"` // never serialized
	IPHash       string    `json:"ipHash"`
	MessageCount int       `json:"messageCount"`
}

// NewUser creates a User. username must already be normalized.
func NewUser(id, username, ip, ipHash string, now time.Time) *User {
	return &User{
		ID:           id,
		Username:     username,
		JoinedAt:     now,
		LastActivity: now,
		IP:           ip,
		IPHash:       ipHash,
	}
}

// Touch records activity
func (u *User) Touch(now time.Time) {
	u.LastActivity = now
}

// usernameDisallowed matches everything outside the username character class
var usernameDisallowed = regexp.MustCompile(`[^A-Za-z0-9 _-]`)

var repeatedSpaces = regexp.MustCompile(` {2,}`)

// NormalizeUsername runs raw through filter and reduces it to the username
// character class, capped at MaxUsernameLength. It returns "" when nothing
// usable remains; callers substitute a guest name in that case.
func NormalizeUsername(filter TextFilter, raw string) string {
	name := raw
	if filter != nil {
		name = filter.Sanitize(raw, MaxUsernameLength*4)
	}
	// Escaped entities from the filter are not part of the class; drop them whole
	name = htmlEntity.ReplaceAllString(name, "")
	name = usernameDisallowed.ReplaceAllString(name, "")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	if utf8.RuneCountInString(name) > MaxUsernameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxUsernameLength]))
	}
	return name
}

var htmlEntity = regexp.MustCompile(`&[#A-Za-z0-9]+;`)

// UserView is the externally visible projection of a User. The raw address
// is never included.
type UserView struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
	IsOwner      bool      `json:"isOwner"`
}

// View returns the public projection of u
func (u *User) View(isOwner bool) UserView {
	return UserView{
		ID:           u.ID,
		Username:     u.Username,
		JoinedAt:     u.JoinedAt,
		LastActivity: u.LastActivity,
		MessageCount: u.MessageCount,
		IsOwner:      isOwner,
	}
}
