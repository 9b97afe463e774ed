package models

import (
	"context"
	"errors"
	"sort"
	"time"

	"bizmatch/internal/database"
)

var ErrMessageRouting = errors.New("a message needs exactly one of projectId or receiverId")

// Attachment describes a file sent with a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message is project-scoped when ProjectID is set and direct otherwise.
type Message struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"projectId,omitempty"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId,omitempty"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	IsRead     bool        `json:"isRead"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (m *Message) IsDirect() bool {
	return m.ProjectID == ""
}

// CheckRouting enforces that exactly one routing key is present.
func (m *Message) CheckRouting() error {
	if (m.ProjectID == "") == (m.ReceiverID == "") {
		return ErrMessageRouting
	}
	return nil
}

// MessageManager provides Django-like ORM methods for Message
type MessageManager struct {
	manager[Message]
}

// ForProject returns the project thread, oldest first.
func (m *MessageManager) ForProject(ctx context.Context, projectID string) ([]Message, error) {
	return m.Filter(ctx, database.Query{Filter: database.Record{"projectId": projectID}})
}

// Conversation returns the direct messages exchanged between two users,
// oldest first.
func (m *MessageManager) Conversation(ctx context.Context, userA, userB string) ([]Message, error) {
	sent, err := m.Filter(ctx, database.Query{Filter: database.Record{"senderId": userA, "receiverId": userB}})
	if err != nil {
		return nil, err
	}
	received, err := m.Filter(ctx, database.Query{Filter: database.Record{"senderId": userB, "receiverId": userA}})
	if err != nil {
		return nil, err
	}
	all := append(sent, received...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

// Inbox returns direct messages addressed to userID, newest first.
func (m *MessageManager) Inbox(ctx context.Context, userID string) ([]Message, error) {
	return m.Filter(ctx, database.Query{Filter: database.Record{"receiverId": userID}, Descending: true})
}

func (m *MessageManager) MarkRead(ctx context.Context, id string) error {
	return m.Update(ctx, id, database.Record{"isRead": true})
}
