package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/config"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/logger"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/middleware"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/usecase"
	"github.com/sirupsen/logrus"
)

// Hub maintains the set of connected clients and routes their events to the
// room manager. Room state lives in the manager; the hub only knows which
// connection belongs to which source id.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    *usecase.RoomManager
	cfg      *config.Config
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewHub creates a new Hub
func NewHub(rooms *usecase.RoomManager, cfg *config.Config, log logrus.FieldLogger) *Hub {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	h := &Hub{
		clients: make(map[string]*Client),
		rooms:   rooms,
		cfg:     cfg,
		log:     logger.OrNop(log),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), h.cfg.AllowedOrigins)
		},
	}
	return h
}

// isOriginAllowed checks if the origin is in the allowed list
func isOriginAllowed(origin string, allowed []string) bool {
	// Empty origin is allowed (same-origin requests)
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || origin == a {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and starts the client pumps
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := middleware.ClientIP(r, h.cfg.TrustProxy)
	if h.rooms.IsRateLimited(addr, ratelimit.ActionConnection) {
		http.Error(w, domain.PublicMessage(domain.ErrRateLimited), http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := NewClient(h, conn, uuid.New().String(), addr)
	h.Register(client)

	go client.WritePump()
	go client.ReadPump(h.cfg.MaxFrameSize)
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Debug("client connected")
}

// Unregister removes a client, leaving its room on its behalf
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	if res, err := h.rooms.LeaveRoom(c.ID); err == nil {
		h.announceLeave(res, domain.EventUserLeft)
	}
	c.Close()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// NotifyRoomDeletion tells each member that its room is gone
func (h *Hub) NotifyRoomDeletion(code string, memberIDs []string, reason string) {
	frame, err := domain.NewEvent(domain.EventRoomDeleted, domain.RoomDeletedPayload{Code: code, Reason: reason})
	if err != nil {
		return
	}
	for _, c := range h.lookup(memberIDs) {
		c.setToken("")
		c.Send(frame)
	}
	h.log.WithFields(logrus.Fields{"room": code, "reason": reason, "members": len(memberIDs)}).Info("room deleted")
}

func (h *Hub) lookup(ids []string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// broadcast sends one event to every member of the room except skip
func (h *Hub) broadcast(code, skip string, t domain.EventType, payload interface{}) {
	ids, ok := h.rooms.MemberIDs(code)
	if !ok {
		return
	}
	frame, err := domain.NewEvent(t, payload)
	if err != nil {
		h.log.WithError(err).Error("event encoding failed")
		return
	}
	for _, c := range h.lookup(ids) {
		if c.ID != skip {
			c.Send(frame)
		}
	}
}

func (h *Hub) send(c *Client, t domain.EventType, payload interface{}) {
	frame, err := domain.NewEvent(t, payload)
	if err != nil {
		h.log.WithError(err).Error("event encoding failed")
		return
	}
	c.Send(frame)
}

func (h *Hub) sendError(c *Client, err error) {
	h.send(c, domain.EventError, domain.ErrorPayload{Message: domain.PublicMessage(err)})
}

// dispatch routes one inbound event
func (h *Hub) dispatch(c *Client, ev domain.Event) {
	var err error
	switch ev.Type {
	case domain.EventCreateRoom:
		err = h.handleCreate(c, ev.Payload)
	case domain.EventJoinRoom:
		err = h.handleJoin(c, ev.Payload)
	case domain.EventLeaveRoom:
		err = h.handleLeave(c)
	case domain.EventSendMessage:
		err = h.handleMessage(c, ev.Payload)
	case domain.EventKickUser:
		err = h.handleKick(c, ev.Payload)
	case domain.EventDeleteRoom:
		err = h.handleDelete(c, ev.Payload)
	case domain.EventCheckUsername:
		err = h.handleCheckUsername(c, ev.Payload)
	default:
		err = domain.ErrInvalidInput
	}
	if err != nil {
		if domain.IsFault(err) {
			h.log.WithError(err).WithField("event", ev.Type).Error("event failed")
		}
		h.sendError(c, err)
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return domain.ErrInvalidInput
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

func (h *Hub) handleCreate(c *Client, raw json.RawMessage) error {
	var p domain.CreateRoomPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	view, err := h.rooms.CreateRoom(c.ID, p.Username, c.addr)
	if err != nil {
		return err
	}
	session, err := h.session(c, view)
	if err != nil {
		return err
	}
	h.send(c, domain.EventRoomCreated, session)
	return nil
}

func (h *Hub) handleJoin(c *Client, raw json.RawMessage) error {
	var p domain.JoinRoomPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	view, err := h.rooms.JoinRoom(p.Code, c.ID, p.Username, c.addr)
	if err != nil {
		return err
	}
	session, err := h.session(c, view)
	if err != nil {
		return err
	}
	h.send(c, domain.EventRoomJoined, session)

	for _, u := range view.Users {
		if u.ID == c.ID {
			h.broadcast(view.Code, c.ID, domain.EventUserJoined, domain.UserEventPayload{User: u, UserCount: len(view.Users)})
			break
		}
	}
	return nil
}

// session issues the tokens a member needs for owner actions and HTTP calls
func (h *Hub) session(c *Client, view domain.RoomView) (domain.SessionPayload, error) {
	token, err := h.rooms.IssueSessionToken(c.ID, view.Code)
	if err != nil {
		return domain.SessionPayload{}, err
	}
	csrf, err := h.rooms.IssueCsrfToken(c.ID)
	if err != nil {
		return domain.SessionPayload{}, err
	}
	c.setToken(token)
	return domain.SessionPayload{Room: view, UserID: c.ID, Token: token, CSRF: csrf}, nil
}

func (h *Hub) handleLeave(c *Client) error {
	res, err := h.rooms.LeaveRoom(c.ID)
	if err != nil {
		return err
	}
	c.setToken("")
	h.announceLeave(res, domain.EventUserLeft)
	return nil
}

// announceLeave tells the remaining members about a departure and any
// ownership handover
func (h *Hub) announceLeave(res usecase.LeaveResult, t domain.EventType) {
	if res.RoomDeleted {
		return
	}
	h.broadcast(res.Code, "", t, domain.UserEventPayload{
		User:       res.User,
		UserCount:  res.UserCount,
		NewOwnerID: res.NewOwnerID,
	})
	if res.NewOwnerID == "" {
		return
	}
	view, ok := h.rooms.GetRoom(res.Code)
	if !ok {
		return
	}
	for _, u := range view.Users {
		if u.ID == res.NewOwnerID {
			h.broadcast(res.Code, "", domain.EventOwnerChanged, domain.OwnerChangedPayload{OwnerID: u.ID, Username: u.Username})
			return
		}
	}
}

func (h *Hub) handleMessage(c *Client, raw json.RawMessage) error {
	var p domain.SendMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	code, ok := h.rooms.RoomOf(c.ID)
	if !ok {
		return domain.ErrNotMember
	}
	msg, err := h.rooms.AddMessage(code, c.ID, p.Text)
	if err != nil {
		return err
	}
	h.broadcast(code, "", domain.EventMessage, msg)
	return nil
}

// ownerToken falls back to the token issued on this connection
func ownerToken(c *Client, token string) string {
	if token != "" {
		return token
	}
	return c.Token()
}

func (h *Hub) handleKick(c *Client, raw json.RawMessage) error {
	var p domain.KickUserPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	code, ok := h.rooms.RoomOf(c.ID)
	if !ok {
		return domain.ErrNotMember
	}
	if err := h.rooms.Authorize(code, c.ID, ownerToken(c, p.Token)); err != nil {
		return err
	}
	res, err := h.rooms.KickUser(code, c.ID, p.Target, p.Ban)
	if err != nil {
		return err
	}

	payload := domain.UserEventPayload{User: res.User, UserCount: res.UserCount}
	if targets := h.lookup([]string{res.User.ID}); len(targets) == 1 {
		targets[0].setToken("")
		h.send(targets[0], domain.EventKicked, payload)
	}
	h.broadcast(res.Code, "", domain.EventUserLeft, payload)
	return nil
}

func (h *Hub) handleDelete(c *Client, raw json.RawMessage) error {
	var p domain.DeleteRoomPayload
	if len(raw) > 0 {
		if err := decode(raw, &p); err != nil {
			return err
		}
	}
	code, ok := h.rooms.RoomOf(c.ID)
	if !ok {
		return domain.ErrNotMember
	}
	if err := h.rooms.Authorize(code, c.ID, ownerToken(c, p.Token)); err != nil {
		return err
	}
	h.rooms.NotifyRoomDeletion(code, usecase.ReasonDeletedByOwner)
	h.rooms.DeleteRoom(code)
	return nil
}

func (h *Hub) handleCheckUsername(c *Client, raw json.RawMessage) error {
	var p domain.JoinRoomPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	h.send(c, domain.EventUsernameStatus, domain.UsernameStatusPayload{
		Username: p.Username,
		Taken:    h.rooms.IsUsernameTaken(p.Code, p.Username),
	})
	return nil
}
