package models

import (
	"context"
	"time"

	"bizmatch/internal/database"
)

// Notification types.
const (
	NotifyApplication = "application"
	NotifyHired       = "hired"
	NotifyRejected    = "rejected"
	NotifyInvoice     = "invoice"
	NotifyPayment     = "payment"
	NotifyReview      = "review"
	NotifyMessage     = "message"
	NotifyAccount     = "account"
	NotifyOverdue     = "overdue"
)

// Notification represents a user notification
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	Link      Link      `json:"link,omitempty"`
}

// NotificationManager provides Django-like ORM methods for Notification
type NotificationManager struct {
	manager[Notification]
}

// ForUser returns a user's notifications newest first. A limit of 0 returns
// all of them.
func (m *NotificationManager) ForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	q := database.NotificationsQuery(userID)
	q.Limit = limit
	return m.Filter(ctx, q)
}

func (m *NotificationManager) MarkRead(ctx context.Context, id string) error {
	return m.Update(ctx, id, database.Record{"isRead": true})
}

// MarkAllRead flips every unread notification of userID and returns how
// many changed. Repeating it changes nothing.
func (m *NotificationManager) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return m.docs.UpdateWhere(ctx, m.collection,
		database.Record{"userId": userID, "isRead": false},
		database.Record{"isRead": true})
}
