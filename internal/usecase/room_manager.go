package usecase

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/config"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/logger"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/scheduler"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/security"
	"github.com/sirupsen/logrus"
)

// Deletion reasons passed to RoomNotifier
const (
	ReasonInactive       = "inactive"
	ReasonMemoryPressure = "memory_pressure"
	ReasonDeletedByOwner = "deleted_by_owner"
	ReasonShutdown       = "shutdown"
)

// RoomNotifier is told when a room is destroyed without its members leaving.
// It is always called outside the registry lock.
type RoomNotifier interface {
	NotifyRoomDeletion(code string, memberIDs []string, reason string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyRoomDeletion(string, []string, string) {}

// deletion is a notification collected under the lock and sent after it
type deletion struct {
	code    string
	members []string
	reason  string
}

// RoomManager owns every live room. A single mutex guards the registry and
// every room in it; the limiter and token service lock independently.
type RoomManager struct {
	mu        sync.RWMutex
	cfg       *config.Config
	rooms     map[string]*domain.Room // normalized code -> room
	creations map[string]int          // hashed source -> live creation count
	timers    map[*time.Timer]struct{}
	closed    bool

	limiter  *ratelimit.Limiter
	tokens   *security.TokenService
	filter   domain.TextFilter
	names    *GuestNameGenerator
	notifier RoomNotifier
	log      logrus.FieldLogger

	tasks     scheduler.Group
	now       func() time.Time
	rand      io.Reader
	startedAt time.Time

	roomsCreated uint64
	roomsExpired uint64
	roomsEvicted uint64
	messagesSent uint64
}

// Option customizes a RoomManager
type Option func(*RoomManager)

// WithLogger sets the logging sink
func WithLogger(l logrus.FieldLogger) Option {
	return func(rm *RoomManager) {
		rm.log = logger.OrNop(l)
	}
}

// WithFilter replaces the default HTML filter
func WithFilter(f domain.TextFilter) Option {
	return func(rm *RoomManager) {
		if f != nil {
			rm.filter = f
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(rm *RoomManager) {
		rm.now = now
	}
}

// WithRand overrides the randomness used for room codes
func WithRand(r io.Reader) Option {
	return func(rm *RoomManager) {
		rm.rand = r
	}
}

// NewRoomManager creates a room manager
func NewRoomManager(cfg *config.Config, limiter *ratelimit.Limiter, tokens *security.TokenService, opts ...Option) *RoomManager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	rm := &RoomManager{
		cfg:       cfg,
		rooms:     make(map[string]*domain.Room),
		creations: make(map[string]int),
		timers:    make(map[*time.Timer]struct{}),
		limiter:   limiter,
		tokens:    tokens,
		filter:    HTMLFilter{},
		names:     NewGuestNameGenerator(),
		notifier:  nopNotifier{},
		log:       logger.Nop(),
		now:       time.Now,
		rand:      rand.Reader,
	}
	for _, opt := range opts {
		opt(rm)
	}
	rm.startedAt = rm.now()
	return rm
}

// SetNotifier sets the receiver of deletion notices
func (rm *RoomManager) SetNotifier(n RoomNotifier) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if n == nil {
		n = nopNotifier{}
	}
	rm.notifier = n
}

// Start schedules the periodic sweep
func (rm *RoomManager) Start() {
	rm.tasks.Every("room-sweep", rm.cfg.CleanupInterval, func() {
		rm.Sweep()
	})
}

// Shutdown stops background work, notifies every room and clears all
// registries. The manager rejects new rooms afterwards.
func (rm *RoomManager) Shutdown() {
	rm.tasks.StopAll()

	rm.mu.Lock()
	rm.closed = true
	for t := range rm.timers {
		t.Stop()
	}
	rm.timers = make(map[*time.Timer]struct{})
	rm.creations = make(map[string]int)

	var dels []deletion
	for code := range rm.rooms {
		dels = append(dels, rm.destroyLocked(code, ReasonShutdown))
	}
	rm.mu.Unlock()

	rm.notify(dels)
	rm.limiter.Reset()
	rm.tokens.Clear()
	rm.log.WithField("rooms", len(dels)).Info("room manager shut down")
}

// CreateRoom allocates a room owned by a new user for sourceID
func (rm *RoomManager) CreateRoom(sourceID, ownerName, sourceAddr string) (domain.RoomView, error) {
	ipHash := rm.tokens.HashSource(sourceAddr)
	log := rm.log.WithField("source", ipHash)

	if !rm.limiter.Allow(rateKey(ipHash, sourceID), ratelimit.ActionRoomCreate) {
		log.Warn("room creation rate limited")
		return domain.RoomView{}, domain.ErrRateLimited
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed || len(rm.rooms) >= rm.cfg.MaxRooms {
		return domain.RoomView{}, domain.ErrTooManyRooms
	}
	if ipHash != "" && rm.creations[ipHash] >= rm.cfg.RoomCreationQuota {
		log.Warn("room creation quota exhausted")
		return domain.RoomView{}, domain.ErrCreationQuota
	}
	if _, ok := rm.findMemberLocked(sourceID); ok {
		return domain.RoomView{}, domain.ErrAlreadyInRoom
	}

	code, err := rm.allocateCodeLocked()
	if err != nil {
		if domain.IsFault(err) {
			log.WithError(err).Error("room code generation failed")
		}
		return domain.RoomView{}, err
	}

	now := rm.now()
	name := rm.resolveUsername(nil, ownerName)
	owner := domain.NewUser(sourceID, name, sourceAddr, ipHash, now)
	room := domain.NewRoom(code, owner, rm.cfg.MaxUsersPerRoom, rm.cfg.MaxMessagesPerRoom, now)
	room.AddMessage(domain.NewSystemMessage(fmt.Sprintf("%s created the room", name), now))
	rm.rooms[code] = room
	rm.roomsCreated++

	if ipHash != "" {
		rm.creations[ipHash]++
		rm.scheduleReleaseLocked(ipHash)
	}

	log.WithField("room", code).Info("room created")
	return room.View(), nil
}

// allocateCodeLocked draws codes until one is unused, at most
// RoomCodeAttempts times
func (rm *RoomManager) allocateCodeLocked() (string, error) {
	attempts := rm.cfg.RoomCodeAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		code, err := newRoomCode(rm.rand, rm.cfg.RoomCodeLength)
		if err != nil {
			return "", err
		}
		if _, exists := rm.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", domain.ErrCodeSpaceExhausted
}

// scheduleReleaseLocked returns one creation slot to ipHash after the window
func (rm *RoomManager) scheduleReleaseLocked(ipHash string) {
	var t *time.Timer
	t = time.AfterFunc(rm.cfg.RoomCreationWindow, func() {
		rm.mu.Lock()
		defer rm.mu.Unlock()
		delete(rm.timers, t)
		if rm.creations[ipHash] <= 1 {
			delete(rm.creations, ipHash)
			return
		}
		rm.creations[ipHash]--
	})
	rm.timers[t] = struct{}{}
}

// JoinRoom adds a user for sourceID to the room with code
func (rm *RoomManager) JoinRoom(code, sourceID, name, sourceAddr string) (domain.RoomView, error) {
	ipHash := rm.tokens.HashSource(sourceAddr)
	code = domain.NormalizeCode(code)
	log := rm.log.WithFields(logrus.Fields{"source": ipHash, "room": code})

	if !rm.limiter.Allow(rateKey(ipHash, sourceID), ratelimit.ActionJoin) {
		log.Warn("join rate limited")
		return domain.RoomView{}, domain.ErrRateLimited
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok {
		return domain.RoomView{}, domain.ErrRoomNotFound
	}
	if ipHash != "" && room.IsBanned(ipHash) {
		log.Info("banned source refused")
		return domain.RoomView{}, domain.ErrBanned
	}
	if _, ok := rm.findMemberLocked(sourceID); ok {
		return domain.RoomView{}, domain.ErrAlreadyInRoom
	}
	if room.IsFull() {
		return domain.RoomView{}, domain.ErrRoomFull
	}

	username := rm.resolveUsername(room, name)
	if _, taken := room.UserByName(username); taken {
		return domain.RoomView{}, domain.ErrUsernameTaken
	}

	now := rm.now()
	if err := room.AddUser(domain.NewUser(sourceID, username, sourceAddr, ipHash, now)); err != nil {
		return domain.RoomView{}, err
	}
	room.AddMessage(domain.NewSystemMessage(fmt.Sprintf("%s joined the room", username), now))
	room.Touch(now)

	log.Debug("user joined")
	return room.View(), nil
}

// LeaveResult describes a completed leave or kick
type LeaveResult struct {
	Code        string
	User        domain.UserView
	NewOwnerID  string
	UserCount   int
	RoomDeleted bool
}

// LeaveRoom removes sourceID from whichever room it is in. The room is
// destroyed immediately when it becomes empty.
func (rm *RoomManager) LeaveRoom(sourceID string) (LeaveResult, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.findMemberLocked(sourceID)
	if !ok {
		return LeaveResult{}, domain.ErrNotMember
	}
	res := rm.removeMemberLocked(room, sourceID, "%s left the room")
	rm.log.WithFields(logrus.Fields{"room": res.Code, "deleted": res.RoomDeleted}).Debug("user left")
	return res, nil
}

// removeMemberLocked drops id from room, handing over ownership or
// destroying the room as needed
func (rm *RoomManager) removeMemberLocked(room *domain.Room, id, format string) LeaveResult {
	removed, newOwnerID := room.RemoveUser(id)
	rm.tokens.RevokeSource(id)

	res := LeaveResult{
		Code:       room.Code,
		User:       removed.View(false),
		NewOwnerID: newOwnerID,
		UserCount:  room.UserCount(),
	}
	if room.IsEmpty() {
		delete(rm.rooms, room.Code)
		res.RoomDeleted = true
		return res
	}

	now := rm.now()
	room.AddMessage(domain.NewSystemMessage(fmt.Sprintf(format, removed.Username), now))
	if newOwnerID != "" {
		if owner := room.Owner(); owner != nil {
			room.AddMessage(domain.NewSystemMessage(fmt.Sprintf("%s is now the room owner", owner.Username), now))
		}
	}
	room.Touch(now)
	return res
}

// KickUser removes targetName from the room on behalf of its owner. With ban
// set the target's hashed source can no longer join this room.
func (rm *RoomManager) KickUser(code, requesterID, targetName string, ban bool) (LeaveResult, error) {
	code = domain.NormalizeCode(code)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok {
		return LeaveResult{}, domain.ErrRoomNotFound
	}
	if !room.IsOwner(requesterID) {
		return LeaveResult{}, domain.ErrNotOwner
	}
	target, ok := room.UserByName(targetName)
	if !ok {
		return LeaveResult{}, domain.ErrUserNotFound
	}
	if target.ID == requesterID {
		return LeaveResult{}, domain.ErrSelfKick
	}

	if ban {
		room.Ban(target.IPHash)
	}
	res := rm.removeMemberLocked(room, target.ID, "%s was removed from the room")
	rm.log.WithFields(logrus.Fields{"room": code, "ban": ban}).Info("user kicked")
	return res, nil
}

// AddMessage posts text from member sourceID to the room
func (rm *RoomManager) AddMessage(code, sourceID, text string) (*domain.Message, error) {
	code = domain.NormalizeCode(code)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	user, ok := room.User(sourceID)
	if !ok {
		return nil, domain.ErrNotMember
	}
	if !rm.limiter.Allow(rateKey(user.IPHash, sourceID), ratelimit.ActionMessage) {
		return nil, domain.ErrRateLimited
	}

	now := rm.now()
	msg, err := rm.buildMessage(user.Username, text, now)
	if err != nil {
		return nil, err
	}
	room.AddMessage(msg)
	room.Touch(now)
	user.Touch(now)
	user.MessageCount++
	rm.messagesSent++

	out := *msg
	return &out, nil
}

// buildMessage runs validation with the filter contained: a panicking filter
// rejects the message instead of taking the room down
func (rm *RoomManager) buildMessage(username, text string, now time.Time) (msg *domain.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			rm.log.WithField("panic", r).Error("text filter failed")
			msg, err = nil, domain.ErrValidationFailed
		}
	}()
	return domain.NewMessage(rm.filter, username, text, rm.cfg.MaxMessageLength, rm.cfg.OverflowPolicy, now)
}

// AddSystemMessage posts a lifecycle announcement. Returns nil when the room
// does not exist.
func (rm *RoomManager) AddSystemMessage(code, text string) *domain.Message {
	code = domain.NormalizeCode(code)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok {
		return nil
	}
	msg := domain.NewSystemMessage(text, rm.now())
	room.AddMessage(msg)

	out := *msg
	return &out
}

// NotifyRoomDeletion announces the deletion to the room's members. Call it
// before DeleteRoom.
func (rm *RoomManager) NotifyRoomDeletion(code, reason string) bool {
	code = domain.NormalizeCode(code)

	rm.mu.Lock()
	room, ok := rm.rooms[code]
	if !ok {
		rm.mu.Unlock()
		return false
	}
	room.AddMessage(domain.NewSystemMessage("This room has been deleted", rm.now()))
	d := deletion{code: code, members: room.UserIDs(), reason: reason}
	rm.mu.Unlock()

	rm.notify([]deletion{d})
	return true
}

// DeleteRoom removes the room. Deleting a missing room reports false.
func (rm *RoomManager) DeleteRoom(code string) bool {
	code = domain.NormalizeCode(code)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.rooms[code]; !ok {
		return false
	}
	rm.destroyLocked(code, ReasonDeletedByOwner)
	rm.log.WithField("room", code).Info("room deleted")
	return true
}

// Authorize checks that token is a live session of sourceID for the room and
// that sourceID owns it
func (rm *RoomManager) Authorize(code, sourceID, token string) error {
	code = domain.NormalizeCode(code)
	if !rm.tokens.ValidateSessionToken(token, sourceID, code) {
		return domain.ErrUnauthorized
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if !room.IsOwner(sourceID) {
		return domain.ErrNotOwner
	}
	return nil
}

// IsUsernameTaken reports whether name, once normalized, is already used in
// the room. Missing rooms report false.
func (rm *RoomManager) IsUsernameTaken(code, name string) bool {
	code = domain.NormalizeCode(code)
	name = domain.NormalizeUsername(rm.filter, name)
	if name == "" {
		return false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[code]
	if !ok {
		return false
	}
	_, taken := room.UserByName(name)
	return taken
}

// RoomExists reports whether a room with code is live
func (rm *RoomManager) RoomExists(code string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.rooms[domain.NormalizeCode(code)]
	return ok
}

// GetRoom returns a snapshot of the room
func (rm *RoomManager) GetRoom(code string) (domain.RoomView, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.rooms[domain.NormalizeCode(code)]
	if !ok {
		return domain.RoomView{}, false
	}
	return room.View(), true
}

// MemberIDs returns the ids of the room's members in join order
func (rm *RoomManager) MemberIDs(code string) ([]string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.rooms[domain.NormalizeCode(code)]
	if !ok {
		return nil, false
	}
	return room.UserIDs(), true
}

// RoomOf returns the code of the room sourceID belongs to
func (rm *RoomManager) RoomOf(sourceID string) (string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.findMemberLocked(sourceID)
	if !ok {
		return "", false
	}
	return room.Code, true
}

// findMemberLocked scans the registry for the room containing id. Linear in
// the room count, which MaxRooms bounds.
func (rm *RoomManager) findMemberLocked(id string) (*domain.Room, bool) {
	for _, room := range rm.rooms {
		if _, ok := room.User(id); ok {
			return room, true
		}
	}
	return nil, false
}

// resolveUsername normalizes raw, falling back to a guest name unique in
// room when nothing usable remains
func (rm *RoomManager) resolveUsername(room *domain.Room, raw string) (name string) {
	defer func() {
		if r := recover(); r != nil {
			rm.log.WithField("panic", r).Error("text filter failed on username")
			name = ""
		}
		if name == "" {
			name = rm.names.Generate(func(candidate string) bool {
				if room == nil {
					return false
				}
				_, taken := room.UserByName(candidate)
				return taken
			})
		}
	}()
	return domain.NormalizeUsername(rm.filter, raw)
}

// IssueSessionToken issues a session token bound to sourceID and the room
func (rm *RoomManager) IssueSessionToken(sourceID, code string) (string, error) {
	token, err := rm.tokens.IssueSessionToken(sourceID, domain.NormalizeCode(code))
	if err != nil {
		rm.log.WithError(err).Error("session token issuance failed")
	}
	return token, err
}

// ValidateSessionToken reports whether token is a live session of sourceID
// in the room
func (rm *RoomManager) ValidateSessionToken(token, sourceID, code string) bool {
	return rm.tokens.ValidateSessionToken(token, sourceID, domain.NormalizeCode(code))
}

// IssueCsrfToken issues a CSRF token for an HTTP session
func (rm *RoomManager) IssueCsrfToken(sessionID string) (string, error) {
	token, err := rm.tokens.IssueCsrfToken(sessionID)
	if err != nil {
		rm.log.WithError(err).Error("csrf token issuance failed")
	}
	return token, err
}

// SessionExpiry is how long issued tokens stay valid
func (rm *RoomManager) SessionExpiry() time.Duration {
	return rm.tokens.Expiry()
}

// ValidateCsrfToken reports whether token was issued for sessionID
func (rm *RoomManager) ValidateCsrfToken(token, sessionID string) bool {
	return rm.tokens.ValidateCsrfToken(token, sessionID)
}

// IsRateLimited records one request of kind action from sourceAddr and
// reports whether it must be refused
func (rm *RoomManager) IsRateLimited(sourceAddr string, action ratelimit.Action) bool {
	ipHash := rm.tokens.HashSource(sourceAddr)
	limited := rm.limiter.IsRateLimited(rateKey(ipHash, sourceAddr), action)
	if limited {
		rm.log.WithFields(logrus.Fields{"source": ipHash, "action": action}).Debug("rate limited")
	}
	return limited
}

// HashSource exposes the salted address hash
func (rm *RoomManager) HashSource(addr string) string {
	return rm.tokens.HashSource(addr)
}

// notify delivers deletion notices outside the lock
func (rm *RoomManager) notify(dels []deletion) {
	if len(dels) == 0 {
		return
	}
	rm.mu.RLock()
	n := rm.notifier
	rm.mu.RUnlock()

	for _, d := range dels {
		n.NotifyRoomDeletion(d.code, d.members, d.reason)
	}
}

// destroyLocked removes a room and revokes its members' sessions
func (rm *RoomManager) destroyLocked(code, reason string) deletion {
	room := rm.rooms[code]
	delete(rm.rooms, code)
	members := room.UserIDs()
	for _, id := range members {
		rm.tokens.RevokeSource(id)
	}
	return deletion{code: code, members: members, reason: reason}
}

// rateKey keys limits by hashed address, falling back to the connection id
func rateKey(ipHash, fallback string) string {
	if ipHash != "" {
		return ipHash
	}
	return fallback
}
