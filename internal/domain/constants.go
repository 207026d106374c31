package domain

import "time"

// ==== Entity Limits ====

const (
	// MaxUsernameLength is the maximum username length in runes
	MaxUsernameLength = 20

	// DefaultMaxMessageLength is the default message cap in runes
	DefaultMaxMessageLength = 2000

	// DefaultMaxUsersPerRoom is the default room capacity
	DefaultMaxUsersPerRoom = 50

	// DefaultMaxMessagesPerRoom is the default backlog kept per room
	DefaultMaxMessagesPerRoom = 100

	// SystemSender is the username carried by lifecycle announcements
	SystemSender = "System"
)

// ==== Registry Limits ====

const (
	// DefaultMaxRooms is the global ceiling on live rooms
	DefaultMaxRooms = 1000

	// DefaultRoomCodeLength is the number of characters in a room code
	DefaultRoomCodeLength = 12

	// DefaultRoomCodeAttempts bounds collision retries when allocating a code
	DefaultRoomCodeAttempts = 10

	// DefaultRoomCreationQuota is the number of rooms one source may create per window
	DefaultRoomCreationQuota = 5

	// DefaultRoomCreationWindow is how long a creation counts against the quota
	DefaultRoomCreationWindow = 24 * time.Hour
)

// ==== Timing Constants ====

const (
	// DefaultInactivityTimeout destroys rooms idle longer than this
	DefaultInactivityTimeout = 30 * time.Minute

	// DefaultCleanupInterval is the period of the inactivity sweep
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultTokenExpiry is the session/CSRF token lifetime
	DefaultTokenExpiry = 24 * time.Hour
)
