package domain

import (
	"strings"
	"time"
)

// Room is a live chat room. It is not safe for concurrent use; the owning
// registry serializes access.
type Room struct {
	Code         string
	CreatedAt    time.Time
	LastActivity time.Time
	MaxUsers     int

	ownerID  string
	users    map[string]*User
	order    []string // member ids, oldest join first
	messages *RingBuffer
	banned   map[string]struct{} // hashed sources
}

// NewRoom creates a room with owner as its first member
func NewRoom(code string, owner *User, maxUsers, maxMessages int, now time.Time) *Room {
	if maxUsers < 1 {
		maxUsers = 1
	}
	r := &Room{
		Code:         code,
		CreatedAt:    now,
		LastActivity: now,
		MaxUsers:     maxUsers,
		users:        make(map[string]*User),
		messages:     NewRingBuffer(maxMessages),
		banned:       make(map[string]struct{}),
	}
	r.users[owner.ID] = owner
	r.order = append(r.order, owner.ID)
	r.ownerID = owner.ID
	return r
}

// NormalizeCode canonicalizes a room code for lookup
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// OwnerID returns the current owner's id, "" for an empty room
func (r *Room) OwnerID() string {
	return r.ownerID
}

// Owner returns the current owner
func (r *Room) Owner() *User {
	return r.users[r.ownerID]
}

// IsOwner reports whether id owns the room
func (r *Room) IsOwner(id string) bool {
	return id != "" && r.ownerID == id
}

// AddUser adds u as a member
func (r *Room) AddUser(u *User) error {
	if _, exists := r.users[u.ID]; exists {
		return ErrAlreadyInRoom
	}
	if len(r.users) >= r.MaxUsers {
		return ErrRoomFull
	}
	r.users[u.ID] = u
	r.order = append(r.order, u.ID)
	if r.ownerID == "" {
		r.ownerID = u.ID
	}
	return nil
}

// RemoveUser removes the member with id. When the owner leaves and members
// remain, ownership passes to the member who joined earliest; newOwnerID is
// set only in that case.
func (r *Room) RemoveUser(id string) (removed *User, newOwnerID string) {
	u, ok := r.users[id]
	if !ok {
		return nil, ""
	}
	delete(r.users, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if r.ownerID == id {
		r.ownerID = ""
		if len(r.order) > 0 {
			r.ownerID = r.order[0]
			newOwnerID = r.ownerID
		}
	}
	return u, newOwnerID
}

// User returns the member with id
func (r *Room) User(id string) (*User, bool) {
	u, ok := r.users[id]
	return u, ok
}

// UserByName finds a member by username, case-insensitively
func (r *Room) UserByName(name string) (*User, bool) {
	for _, id := range r.order {
		u := r.users[id]
		if strings.EqualFold(u.Username, name) {
			return u, true
		}
	}
	return nil, false
}

// Users returns the members in join order
func (r *Room) Users() []*User {
	users := make([]*User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.users[id])
	}
	return users
}

// UserIDs returns member ids in join order
func (r *Room) UserIDs() []string {
	return append([]string(nil), r.order...)
}

// UserCount returns the number of members
func (r *Room) UserCount() int {
	return len(r.users)
}

// IsEmpty reports whether the room has no members
func (r *Room) IsEmpty() bool {
	return len(r.users) == 0
}

// IsFull reports whether the room is at capacity
func (r *Room) IsFull() bool {
	return len(r.users) >= r.MaxUsers
}

// AddMessage appends m, dropping the oldest message on overflow
func (r *Room) AddMessage(m *Message) {
	r.messages.Add(m)
}

// Messages returns the backlog oldest first
func (r *Room) Messages() []*Message {
	return r.messages.GetAll()
}

// MessageCount returns the backlog length
func (r *Room) MessageCount() int {
	return r.messages.Len()
}

// MaxMessages returns the backlog capacity
func (r *Room) MaxMessages() int {
	return r.messages.Cap()
}

// TruncateMessages keeps only the newest keep messages
func (r *Room) TruncateMessages(keep int) int {
	return r.messages.KeepLast(keep)
}

// Touch records activity
func (r *Room) Touch(now time.Time) {
	r.LastActivity = now
}

// IdleFor returns how long the room has been inactive at now
func (r *Room) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastActivity)
}

// Ban records a hashed source as banned
func (r *Room) Ban(ipHash string) {
	if ipHash != "" {
		r.banned[ipHash] = struct{}{}
	}
}

// IsBanned reports whether the hashed source is banned
func (r *Room) IsBanned(ipHash string) bool {
	_, ok := r.banned[ipHash]
	return ok
}

// RoomView is a point-in-time copy of a room, safe to hand outside the
// registry lock
type RoomView struct {
	Code         string     `json:"code"`
	OwnerID      string     `json:"ownerId"`
	Users        []UserView `json:"users"`
	Messages     []Message  `json:"messages"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
	MaxUsers     int        `json:"maxUsers"`
	MaxMessages  int        `json:"maxMessages"`
}

// View snapshots the room
func (r *Room) View() RoomView {
	v := RoomView{
		Code:         r.Code,
		OwnerID:      r.ownerID,
		Users:        make([]UserView, 0, len(r.order)),
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
		MaxUsers:     r.MaxUsers,
		MaxMessages:  r.MaxMessages(),
	}
	for _, u := range r.Users() {
		v.Users = append(v.Users, u.View(u.ID == r.ownerID))
	}
	msgs := r.messages.GetAll()
	v.Messages = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		v.Messages = append(v.Messages, *m)
	}
	return v
}
