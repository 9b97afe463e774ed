// Package toast holds short-lived per-user UI messages and fans them out to
// connected clients.
package toast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a toast stays visible unless dismissed.
const DefaultTTL = 5 * time.Second

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

var ErrNotFound = errors.New("toast not found")

type Toast struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store keeps toasts until they expire or are removed.
type Store interface {
	Add(ctx context.Context, t Toast) error
	Remove(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string) ([]Toast, error)
}

type EventType string

const (
	EventShow    EventType = "toast.show"
	EventDismiss EventType = "toast.dismiss"
)

type Event struct {
	Type  EventType `json:"type"`
	Toast Toast     `json:"toast"`
}

type subscriber struct {
	ch chan Event
}

// Center raises and dismisses toasts and pushes the changes to subscribers
// of the owning user.
type Center struct {
	store Store
	ttl   time.Duration
	log   logrus.FieldLogger

	mu          sync.RWMutex
	subscribers map[string][]*subscriber
}

func NewCenter(store Store, ttl time.Duration, log logrus.FieldLogger) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		store:       store,
		ttl:         ttl,
		log:         log,
		subscribers: make(map[string][]*subscriber),
	}
}

// Show stores a toast for userID and schedules its dismissal.
func (c *Center) Show(ctx context.Context, userID string, kind Kind, message string) (Toast, error) {
	now := time.Now().UTC()
	t := Toast{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.store.Add(ctx, t); err != nil {
		return Toast{}, err
	}
	c.broadcast(Event{Type: EventShow, Toast: t})

	time.AfterFunc(c.ttl, func() {
		c.broadcast(Event{Type: EventDismiss, Toast: t})
	})
	return t, nil
}

// Dismiss removes a toast before it expires.
func (c *Center) Dismiss(ctx context.Context, userID, id string) error {
	if err := c.store.Remove(ctx, userID, id); err != nil {
		return err
	}
	c.broadcast(Event{Type: EventDismiss, Toast: Toast{ID: id, UserID: userID}})
	return nil
}

// List returns the user's visible toasts, oldest first.
func (c *Center) List(ctx context.Context, userID string) ([]Toast, error) {
	return c.store.List(ctx, userID)
}

func (c *Center) Subscribe(userID string) (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, 32)}
	c.subscribers[userID] = append(c.subscribers[userID], sub)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subscribers[userID]
			for i, s := range subs {
				if s == sub {
					c.subscribers[userID] = append(subs[:i], subs[i+1:]...)
					close(sub.ch)
					break
				}
			}
			if len(c.subscribers[userID]) == 0 {
				delete(c.subscribers, userID)
			}
		})
	}
	return sub.ch, unsub
}

func (c *Center) broadcast(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sub := range c.subscribers[ev.Toast.UserID] {
		select {
		case sub.ch <- ev:
		default:
			c.log.WithField("user_id", ev.Toast.UserID).Debug("toast subscriber full, event dropped")
		}
	}
}
