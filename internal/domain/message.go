package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TextFilter is the sanitization collaborator. Both methods must be pure.
type TextFilter interface {
	// Sanitize returns an already-safe rendition of text, at most maxLen runes
	// before escaping.
	Sanitize(text string, maxLen int) string
	// IsSuspicious reports content that must be rejected outright.
	IsSuspicious(text string) bool
}

// OverflowPolicy decides what happens to text longer than the cap
type OverflowPolicy string

const (
	OverflowReject   OverflowPolicy = "reject"
	OverflowTruncate OverflowPolicy = "truncate"
)

// Message is an immutable chat line
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsSystem  bool      `json:"isSystem"`
}

// NewMessage validates raw and builds a user message from it. It never
// returns a message with empty text.
func NewMessage(filter TextFilter, username, raw string, maxLen int, policy OverflowPolicy, now time.Time) (*Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyMessage
	}

	if utf8.RuneCountInString(raw) > maxLen {
		if policy != OverflowTruncate {
			return nil, ErrMessageTooLong
		}
		raw = string([]rune(raw)[:maxLen])
	}

	text := raw
	if filter != nil {
		if filter.IsSuspicious(raw) {
			return nil, ErrSuspiciousContent
		}
		text = filter.Sanitize(raw, maxLen)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	return &Message{
		ID:        uuid.New().String(),
		Username:  username,
		Text:      text,
		Timestamp: now,
	}, nil
}

// NewSystemMessage builds a lifecycle announcement
func NewSystemMessage(text string, now time.Time) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Username:  SystemSender,
		Text:      text,
		Timestamp: now,
		IsSystem:  true,
	}
}
