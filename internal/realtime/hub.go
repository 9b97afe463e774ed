// Package realtime pushes live collection snapshots, notifications and toasts
// to browser clients over a websocket.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bizmatch/internal/database"
	"bizmatch/internal/metrics"
	"bizmatch/internal/models"
	"bizmatch/internal/toast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
	// maxSubscriptions bounds the live queries of one connection.
	maxSubscriptions = 16
)

var ErrScope = errors.New("subscription outside the user's scope")

// ClientMessage is sent by the browser.
type ClientMessage struct {
	Action     string          `json:"action"`
	ID         string          `json:"id"`
	Collection string          `json:"collection,omitempty"`
	Filter     database.Record `json:"filter,omitempty"`
	OrderBy    string          `json:"orderBy,omitempty"`
	Descending bool            `json:"descending,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// ServerMessage is pushed to the browser.
type ServerMessage struct {
	Type       string            `json:"type"`
	ID         string            `json:"id,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Records    []database.Record `json:"records,omitempty"`
	Event      toast.EventType   `json:"event,omitempty"`
	Toast      *toast.Toast      `json:"toast,omitempty"`
	Error      string            `json:"error,omitempty"`
}

const (
	MessageSnapshot      = "snapshot"
	MessageNotifications = "notifications"
	MessageToast         = "toast"
	MessageError         = "error"
)

// Hub upgrades requests and runs one session per connection.
type Hub struct {
	svc      database.Service
	toasts   *toast.Center
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewHub builds a hub. allowedOrigins empty accepts any origin.
func NewHub(svc database.Service, toasts *toast.Center, allowedOrigins []string, log logrus.FieldLogger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		svc:    svc,
		toasts: toasts,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		sessions: make(map[*session]struct{}),
	}
}

// Serve upgrades the request and blocks until the client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, user *models.User) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	s := &session{
		hub:  h,
		conn: conn,
		user: user,
		send: make(chan ServerMessage, sendBuffer),
		subs: make(map[string]func()),
		done: make(chan struct{}),
		log:  h.log.WithField("user_id", user.ID),
	}
	h.track(s, true)
	metrics.RealtimeConnected()
	defer func() {
		s.close()
		h.track(s, false)
		metrics.RealtimeDisconnected()
	}()

	go s.writeLoop()

	if h.toasts != nil {
		events, stopToasts := h.toasts.Subscribe(user.ID)
		defer stopToasts()
		go s.forwardToasts(events)
	}

	stopNotes := h.svc.SubscribeToUserNotifications(user.ID, func(recs []database.Record) {
		s.push(ServerMessage{Type: MessageNotifications, Collection: database.CollectionNotifications, Records: recs})
	})
	defer stopNotes()

	s.readLoop()
	return nil
}

func (h *Hub) track(s *session, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.sessions[s] = struct{}{}
	} else {
		delete(h.sessions, s)
	}
}

// Connected returns the number of open sessions.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every open session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

type session struct {
	hub  *Hub
	conn *websocket.Conn
	user *models.User
	send chan ServerMessage
	log  logrus.FieldLogger

	mu     sync.Mutex
	subs   map[string]func()
	done   chan struct{}
	closed bool
}

// push queues msg for the client. A client that cannot keep up is
// disconnected rather than blocking the store's delivery goroutines.
func (s *session) push(msg ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- msg:
	default:
		s.log.Warn("websocket client too slow, closing")
		s.closeLocked()
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	for id, stop := range s.subs {
		stop()
		delete(s.subs, id)
	}
	close(s.done)
	_ = s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(64 * 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
		switch msg.Action {
		case "subscribe":
			if err := s.subscribe(msg); err != nil {
				s.push(ServerMessage{Type: MessageError, ID: msg.ID, Error: err.Error()})
			}
		case "unsubscribe":
			s.unsubscribe(msg.ID)
		case "ping":
		default:
			s.push(ServerMessage{Type: MessageError, ID: msg.ID, Error: fmt.Sprintf("unknown action %q", msg.Action)})
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.WithError(err).Debug("websocket write failed")
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) forwardToasts(events <-chan toast.Event) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t := ev.Toast
			s.push(ServerMessage{Type: MessageToast, Event: ev.Type, Toast: &t})
		}
	}
}

func (s *session) subscribe(msg ClientMessage) error {
	if msg.ID == "" {
		return errors.New("subscription id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc, err := scopeFor(ctx, s.hub.svc, s.user, msg.Collection, msg.Filter)
	if err != nil {
		return err
	}

	q := database.Query{
		Filter:     sc.filter,
		OrderBy:    msg.OrderBy,
		Descending: msg.Descending,
		Limit:      msg.Limit,
	}
	if sc.visible != nil {
		// Rows are dropped after the read, so the limit is applied here.
		q.Limit = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, ok := s.subs[msg.ID]; !ok && len(s.subs) >= maxSubscriptions {
		return fmt.Errorf("too many subscriptions (max %d)", maxSubscriptions)
	}
	if stop, ok := s.subs[msg.ID]; ok {
		stop()
	}

	id, collection, limit := msg.ID, msg.Collection, msg.Limit
	s.subs[id] = s.hub.svc.SubscribeToCollection(collection, q, func(recs []database.Record) {
		if sc.visible != nil {
			recs = keep(recs, sc.visible, limit)
		}
		s.push(ServerMessage{Type: MessageSnapshot, ID: id, Collection: collection, Records: recs})
	})
	return nil
}

func (s *session) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.subs[id]; ok {
		stop()
		delete(s.subs, id)
	}
}

func keep(recs []database.Record, visible func(database.Record) bool, limit int) []database.Record {
	out := make([]database.Record, 0, len(recs))
	for _, r := range recs {
		if !visible(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
