// Package security issues and validates session and CSRF tokens and hashes
// network sources so raw addresses never leave the core.
package security

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	secretSize = 32
	saltSize   = 16

	// allowed clock skew for timestamps embedded in tokens
	maxSkew = time.Minute
)

// sessionClaims is the plaintext sealed inside a session token
type sessionClaims struct {
	SourceID string `json:"s"`
	RoomCode string `json:"r"`
	IssuedAt int64  `json:"t"` // unix millis
	Salt     string `json:"n"`
}

// registration is the registry record for one issued session token
type registration struct {
	sourceID  string
	expiresAt time.Time
}

// TokenService issues and validates tokens. Session tokens are encrypted and
// must also be present in the registry to validate; CSRF tokens are
// stateless and validate structurally.
type TokenService struct {
	mu       sync.Mutex
	aead     cipher.AEAD
	csrfKey  []byte
	hashKey  []byte
	expiry   time.Duration
	registry map[string]registration // sha256(token) -> record

	rand io.Reader
	now  func() time.Time
}

// Option customizes a TokenService
type Option func(*TokenService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		s.now = now
	}
}

// WithRand overrides the randomness source
func WithRand(r io.Reader) Option {
	return func(s *TokenService) {
		s.rand = r
	}
}

// NewTokenService derives its keys from secret. An empty secret makes the
// service generate a random one, so tokens do not survive a restart.
func NewTokenService(secret []byte, expiry time.Duration, opts ...Option) (*TokenService, error) {
	s := &TokenService{
		expiry:   expiry,
		registry: make(map[string]registration),
		rand:     rand.Reader,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.expiry <= 0 {
		s.expiry = domain.DefaultTokenExpiry
	}

	if len(secret) == 0 {
		secret = make([]byte, secretSize)
		if _, err := io.ReadFull(s.rand, secret); err != nil {
			return nil, domain.Fault("generate token secret", err)
		}
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte("ephemeral-chat token keys v1"))
	encKey := make([]byte, chacha20poly1305.KeySize)
	s.csrfKey = make([]byte, secretSize)
	s.hashKey = make([]byte, secretSize)
	for _, k := range [][]byte{encKey, s.csrfKey, s.hashKey} {
		if _, err := io.ReadFull(kdf, k); err != nil {
			return nil, domain.Fault("derive token keys", err)
		}
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, domain.Fault("init cipher", err)
	}
	s.aead = aead
	return s, nil
}

// Expiry returns the token lifetime
func (s *TokenService) Expiry() time.Duration {
	return s.expiry
}

func registryKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueSessionToken binds a token to (sourceID, roomCode) and registers it.
// Errors are faults of the randomness or cipher path.
func (s *TokenService) IssueSessionToken(sourceID, roomCode string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return "", domain.Fault("read token salt", err)
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+256)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", domain.Fault("read token nonce", err)
	}

	now := s.now()
	plaintext, err := json.Marshal(sessionClaims{
		SourceID: sourceID,
		RoomCode: domain.NormalizeCode(roomCode),
		IssuedAt: now.UnixMilli(),
		Salt:     hex.EncodeToString(salt),
	})
	if err != nil {
		return "", domain.Fault("encode token claims", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	token := base64.RawURLEncoding.EncodeToString(sealed)

	s.mu.Lock()
	s.registry[registryKey(token)] = registration{
		sourceID:  sourceID,
		expiresAt: now.Add(s.expiry),
	}
	s.mu.Unlock()

	return token, nil
}

// ValidateSessionToken requires the token to be registered and unexpired,
// then decrypts it and checks the embedded binding and timestamp.
func (s *TokenService) ValidateSessionToken(token, sourceID, roomCode string) bool {
	if token == "" {
		return false
	}
	now := s.now()
	rk := registryKey(token)

	s.mu.Lock()
	reg, ok := s.registry[rk]
	if ok && !now.Before(reg.expiresAt) {
		delete(s.registry, rk)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	claims, err := s.open(token)
	if err != nil {
		return false
	}

	sourceOK := SecureCompare(claims.SourceID, sourceID)
	roomOK := SecureCompare(claims.RoomCode, domain.NormalizeCode(roomCode))
	if !sourceOK || !roomOK {
		return false
	}

	issued := time.UnixMilli(claims.IssuedAt)
	if issued.After(now.Add(maxSkew)) || now.Sub(issued) >= s.expiry {
		return false
	}
	return true
}

func (s *TokenService) open(token string) (*sessionClaims, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, errors.New("token too short")
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, err
	}
	var claims sessionClaims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// RevokeSessionToken removes token from the registry
func (s *TokenService) RevokeSessionToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registry, registryKey(token))
}

// RevokeSource removes every token issued to sourceID. Returns the count.
func (s *TokenService) RevokeSource(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, reg := range s.registry {
		if reg.sourceID == sourceID {
			delete(s.registry, k)
			removed++
		}
	}
	return removed
}

// Cleanup purges expired registry entries
func (s *TokenService) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, reg := range s.registry {
		if !now.Before(reg.expiresAt) {
			delete(s.registry, k)
			removed++
		}
	}
	return removed
}

// Count returns the number of registered session tokens
func (s *TokenService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Clear drops the whole registry
func (s *TokenService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = make(map[string]registration)
}

// IssueCsrfToken returns timestamp|salt|HMAC(sessionID, timestamp, salt).
// Not registry-tracked.
func (s *TokenService) IssueCsrfToken(sessionID string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return "", domain.Fault("read csrf salt", err)
	}

	buf := make([]byte, 8, 8+saltSize+sha256.Size)
	binary.BigEndian.PutUint64(buf, uint64(s.now().Unix()))
	buf = append(buf, salt...)
	buf = append(buf, s.csrfMAC(sessionID, buf)...)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateCsrfToken checks the MAC and age of a CSRF token
func (s *TokenService) ValidateCsrfToken(token, sessionID string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 8+saltSize+sha256.Size {
		return false
	}
	body, mac := raw[:8+saltSize], raw[8+saltSize:]
	if subtle.ConstantTimeCompare(mac, s.csrfMAC(sessionID, body)) != 1 {
		return false
	}

	issued := time.Unix(int64(binary.BigEndian.Uint64(body[:8])), 0)
	now := s.now()
	return !issued.After(now.Add(maxSkew)) && now.Sub(issued) < s.expiry
}

func (s *TokenService) csrfMAC(sessionID string, body []byte) []byte {
	h := hmac.New(sha256.New, s.csrfKey)
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write(body)
	return h.Sum(nil)
}

// HashSource returns a salted, truncated hash of a network address. This is
// the only form of an address that may be exposed or logged.
func (s *TokenService) HashSource(addr string) string {
	if addr == "" {
		return ""
	}
	h := hmac.New(sha256.New, s.hashKey)
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SecureCompare compares two strings in time independent of their content.
// Both sides are hashed first so a length mismatch costs the same as a
// content mismatch.
func SecureCompare(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// NewSessionID returns a random opaque identifier
func NewSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", domain.Fault("read session id", err)
	}
	return hex.EncodeToString(b), nil
}
