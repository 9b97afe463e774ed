// Package notify persists user notifications and raises toasts for the
// acting user.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/models"
	"bizmatch/internal/toast"
)

type actorKey struct{}

// WithActor records the locally authenticated user performing a request.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}

type Dispatcher struct {
	db     *models.DB
	toasts *toast.Center
	log    logrus.FieldLogger
}

func NewDispatcher(db *models.DB, toasts *toast.Center, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{db: db, toasts: toasts, log: log}
}

// Notify stores an unread notification for userID. When userID is the acting
// user a toast is raised as well. Failures are logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, userID, typ, title, message string, link models.Link) {
	n := &models.Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		IsRead:    false,
		CreatedAt: time.Now().UTC(),
		Link:      link,
	}
	if err := d.db.Notifications.Create(ctx, n); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"type":    typ,
		}).Error("failed to store notification")
		return
	}

	if actor, ok := ActorFrom(ctx); ok && actor == userID {
		d.show(ctx, userID, toast.KindInfo, title)
	}
}

// NotifyAdmins sends the same notification to every admin.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, typ, title, message string, link models.Link) {
	admins, err := d.db.Users.Admins(ctx)
	if err != nil {
		d.log.WithError(err).WithField("type", typ).Error("failed to resolve admins for notification")
		return
	}
	if len(admins) == 0 {
		d.log.WithField("type", typ).Warn("no admin to notify")
	}
	for _, admin := range admins {
		d.Notify(ctx, admin.ID, typ, title, message, link)
	}
}

// Toast raises a toast for the acting user, if there is one.
func (d *Dispatcher) Toast(ctx context.Context, kind toast.Kind, message string) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return
	}
	d.show(ctx, actor, kind, message)
}

func (d *Dispatcher) show(ctx context.Context, userID string, kind toast.Kind, message string) {
	if d.toasts == nil {
		return
	}
	if _, err := d.toasts.Show(ctx, userID, kind, message); err != nil {
		d.log.WithError(err).WithField("user_id", userID).Warn("failed to raise toast")
	}
}

// List returns the user's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	return d.db.Notifications.ForUser(ctx, userID, limit)
}

// MarkRead flags one of userID's notifications as read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID string) error {
	n, err := d.db.Notifications.Get(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return fmt.Errorf("notification %s: %w", notificationID, models.ErrNotFound)
	}
	return d.db.Notifications.MarkRead(ctx, notificationID)
}

// MarkAllRead flags every unread notification of userID and reports how many
// changed.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return d.db.Notifications.MarkAllRead(ctx, userID)
}
