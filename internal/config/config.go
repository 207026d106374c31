package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"golang.org/x/time/rate"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port           string
	AllowedOrigins []string
	TrustProxy     bool // honour X-Forwarded-For / X-Real-IP

	// Logging
	LogLevel  string
	LogFormat string

	// Rooms
	MaxRooms           int
	MaxUsersPerRoom    int
	MaxMessagesPerRoom int
	MaxMessageLength   int
	OverflowPolicy     domain.OverflowPolicy
	RoomCodeLength     int
	RoomCodeAttempts   int
	RoomCreationQuota  int
	RoomCreationWindow time.Duration

	// Inactivity tiers
	InactivityTimeout          time.Duration
	WarningInactivityTimeout   time.Duration
	CriticalInactivityTimeout  time.Duration
	EmergencyInactivityTimeout time.Duration
	LowActivityAge             time.Duration // rooms quieter than this but inside the emergency cutoff are low-activity
	CleanupInterval            time.Duration

	// Memory pressure
	MemorySampleInterval  time.Duration
	MemoryWarningMB       float64
	MemoryCriticalMB      float64
	MemoryEmergencyMB     float64
	MemoryEmergencyBuffer float64
	MemoryHysteresisMB    float64
	LargeRoomMessages     int
	EmergencyRecheckDelay time.Duration

	// Security
	TokenSecret string
	TokenExpiry time.Duration

	// Rate Limiting
	RateLimitAPI rate.Limit
	RateLimitWS  rate.Limit
	RateRules    map[ratelimit.Action]ratelimit.Rule

	// WebSocket
	MaxFrameSize int64
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:           "8080",
		AllowedOrigins: []string{"http://localhost:8080", "http://localhost:3000"},
		LogLevel:       "info", // Options: debug, info, warn, error, silent
		LogFormat:      "text",

		MaxRooms:           domain.DefaultMaxRooms,
		MaxUsersPerRoom:    domain.DefaultMaxUsersPerRoom,
		MaxMessagesPerRoom: domain.DefaultMaxMessagesPerRoom,
		MaxMessageLength:   domain.DefaultMaxMessageLength,
		OverflowPolicy:     domain.OverflowReject,
		RoomCodeLength:     domain.DefaultRoomCodeLength,
		RoomCodeAttempts:   domain.DefaultRoomCodeAttempts,
		RoomCreationQuota:  domain.DefaultRoomCreationQuota,
		RoomCreationWindow: domain.DefaultRoomCreationWindow,

		InactivityTimeout:          domain.DefaultInactivityTimeout,
		WarningInactivityTimeout:   15 * time.Minute,
		CriticalInactivityTimeout:  5 * time.Minute,
		EmergencyInactivityTimeout: 2 * time.Minute,
		LowActivityAge:             time.Minute,
		CleanupInterval:            domain.DefaultCleanupInterval,

		MemorySampleInterval:  60 * time.Second,
		MemoryWarningMB:       200,
		MemoryCriticalMB:      300,
		MemoryEmergencyMB:     400,
		MemoryEmergencyBuffer: 50,
		MemoryHysteresisMB:    16,
		LargeRoomMessages:     50,
		EmergencyRecheckDelay: 5 * time.Second,

		TokenExpiry: domain.DefaultTokenExpiry,

		RateLimitAPI: 10,
		RateLimitWS:  5,
		RateRules:    ratelimit.DefaultRules(),

		MaxFrameSize: 16 * 1024,
	}
}

// LoadFromEnv loads configuration from environment variables. Malformed
// values are ignored in favour of the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	// Server
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if trust := os.Getenv("TRUST_PROXY"); trust != "" {
		if v, err := strconv.ParseBool(trust); err == nil {
			cfg.TrustProxy = v
		}
	}

	// Logging
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)

	// Rooms
	cfg.MaxRooms = envInt("MAX_ROOMS", cfg.MaxRooms)
	cfg.MaxUsersPerRoom = envInt("MAX_USERS_PER_ROOM", cfg.MaxUsersPerRoom)
	cfg.MaxMessagesPerRoom = envInt("MAX_MESSAGES_PER_ROOM", cfg.MaxMessagesPerRoom)
	cfg.MaxMessageLength = envInt("MAX_MESSAGE_LENGTH", cfg.MaxMessageLength)
	if policy := os.Getenv("MESSAGE_OVERFLOW_POLICY"); policy != "" {
		switch p := domain.OverflowPolicy(strings.ToLower(policy)); p {
		case domain.OverflowReject, domain.OverflowTruncate:
			cfg.OverflowPolicy = p
		}
	}
	cfg.RoomCodeLength = envInt("ROOM_CODE_LENGTH", cfg.RoomCodeLength)
	cfg.RoomCodeAttempts = envInt("ROOM_CODE_MAX_ATTEMPTS", cfg.RoomCodeAttempts)
	cfg.RoomCreationQuota = envInt("ROOM_CREATION_QUOTA", cfg.RoomCreationQuota)
	cfg.RoomCreationWindow = envDuration("ROOM_CREATION_WINDOW", cfg.RoomCreationWindow)

	// Inactivity tiers
	cfg.InactivityTimeout = envDuration("INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	cfg.WarningInactivityTimeout = envDuration("WARNING_INACTIVITY_TIMEOUT", cfg.WarningInactivityTimeout)
	cfg.CriticalInactivityTimeout = envDuration("CRITICAL_INACTIVITY_TIMEOUT", cfg.CriticalInactivityTimeout)
	cfg.EmergencyInactivityTimeout = envDuration("EMERGENCY_INACTIVITY_TIMEOUT", cfg.EmergencyInactivityTimeout)
	cfg.LowActivityAge = envDuration("LOW_ACTIVITY_AGE", cfg.LowActivityAge)
	cfg.CleanupInterval = envDuration("CLEANUP_INTERVAL", cfg.CleanupInterval)

	// Memory pressure
	cfg.MemorySampleInterval = envDuration("MEMORY_SAMPLE_INTERVAL", cfg.MemorySampleInterval)
	cfg.MemoryWarningMB = envFloat("MEMORY_WARNING_MB", cfg.MemoryWarningMB)
	cfg.MemoryCriticalMB = envFloat("MEMORY_CRITICAL_MB", cfg.MemoryCriticalMB)
	cfg.MemoryEmergencyMB = envFloat("MEMORY_EMERGENCY_MB", cfg.MemoryEmergencyMB)
	cfg.MemoryEmergencyBuffer = envFloat("MEMORY_EMERGENCY_BUFFER_MB", cfg.MemoryEmergencyBuffer)
	cfg.MemoryHysteresisMB = envFloat("MEMORY_HYSTERESIS_MB", cfg.MemoryHysteresisMB)
	cfg.LargeRoomMessages = envInt("LARGE_ROOM_MESSAGES", cfg.LargeRoomMessages)
	cfg.EmergencyRecheckDelay = envDuration("EMERGENCY_RECHECK_DELAY", cfg.EmergencyRecheckDelay)

	// Security
	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	cfg.TokenExpiry = envDuration("TOKEN_EXPIRY", cfg.TokenExpiry)

	// Rate Limiting
	if rl := os.Getenv("RATE_LIMIT_API"); rl != "" {
		if val, err := strconv.Atoi(rl); err == nil && val > 0 {
			cfg.RateLimitAPI = rate.Limit(val)
		}
	}
	if rl := os.Getenv("RATE_LIMIT_WS"); rl != "" {
		if val, err := strconv.Atoi(rl); err == nil && val > 0 {
			cfg.RateLimitWS = rate.Limit(val)
		}
	}
	for _, action := range ratelimit.Actions {
		cfg.RateRules[action] = loadRule(action, cfg.RateRules[action])
	}

	// WebSocket
	if size := os.Getenv("MAX_FRAME_SIZE"); size != "" {
		if val, err := strconv.ParseInt(size, 10, 64); err == nil && val > 0 {
			cfg.MaxFrameSize = val
		}
	}

	cfg.Normalize()
	return cfg
}

// loadRule reads RATE_<ACTION>_{MAX,PERIOD,BURST,DECAY}
func loadRule(action ratelimit.Action, r ratelimit.Rule) ratelimit.Rule {
	prefix := "RATE_" + strings.ToUpper(string(action)) + "_"
	r.Max = envInt(prefix+"MAX", r.Max)
	r.Period = envDuration(prefix+"PERIOD", r.Period)
	if v := os.Getenv(prefix + "BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			r.Burst = n
		}
	}
	r.Decay = envFloat(prefix+"DECAY", r.Decay)
	return r
}

// Normalize repairs inconsistent values: pressure thresholds must ascend,
// inactivity tiers must shrink as pressure rises and the low-activity age
// must sit below the emergency cutoff.
func (c *Config) Normalize() {
	if c.MemoryCriticalMB < c.MemoryWarningMB {
		c.MemoryCriticalMB = c.MemoryWarningMB
	}
	if c.MemoryEmergencyMB < c.MemoryCriticalMB {
		c.MemoryEmergencyMB = c.MemoryCriticalMB
	}
	if c.WarningInactivityTimeout > c.InactivityTimeout {
		c.WarningInactivityTimeout = c.InactivityTimeout
	}
	if c.CriticalInactivityTimeout > c.WarningInactivityTimeout {
		c.CriticalInactivityTimeout = c.WarningInactivityTimeout
	}
	if c.EmergencyInactivityTimeout > c.CriticalInactivityTimeout {
		c.EmergencyInactivityTimeout = c.CriticalInactivityTimeout
	}
	if c.LowActivityAge <= 0 || c.LowActivityAge >= c.EmergencyInactivityTimeout {
		c.LowActivityAge = c.EmergencyInactivityTimeout / 2
	}
	if c.RoomCodeLength < 6 {
		c.RoomCodeLength = 6
	}
}

// Validate reports settings the server cannot run with
func (c *Config) Validate() error {
	switch {
	case c.MaxRooms < 1:
		return fmt.Errorf("MAX_ROOMS must be positive, got %d", c.MaxRooms)
	case c.MaxUsersPerRoom < 1:
		return fmt.Errorf("MAX_USERS_PER_ROOM must be positive, got %d", c.MaxUsersPerRoom)
	case c.MaxMessagesPerRoom < 1:
		return fmt.Errorf("MAX_MESSAGES_PER_ROOM must be positive, got %d", c.MaxMessagesPerRoom)
	case c.TokenSecret != "" && len(c.TokenSecret) < 16:
		return fmt.Errorf("TOKEN_SECRET must be at least 16 bytes")
	}
	return nil
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envFloat(name string, def float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// parseOrigins parses comma-separated origins
func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
