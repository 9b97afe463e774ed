package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatch/internal/database"
	"bizmatch/internal/logger"
	"bizmatch/internal/models"
	"bizmatch/internal/toast"
)

func setup(t *testing.T) (*Dispatcher, *models.DB, *toast.Center) {
	t.Helper()
	svc := database.NewMemory(logger.Discard())
	t.Cleanup(svc.Close)
	db := models.NewDB(svc)
	center := toast.NewCenter(toast.NewMemory(), time.Minute, logger.Discard())
	return NewDispatcher(db, center, logger.Discard()), db, center
}

func TestNotifyStoresUnread(t *testing.T) {
	d, db, center := setup(t)
	ctx := WithActor(context.Background(), "admin-1")

	d.Notify(ctx, "p1", models.NotifyHired, "採用されました", "LP制作", models.ProjectLink("proj-1"))

	list, err := db.Notifications.ForUser(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	n := list[0]
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.IsRead)
	assert.Equal(t, models.Link("PROJECT:proj-1"), n.Link)
	assert.False(t, n.CreatedAt.IsZero())

	// The actor is not the recipient, so no toast.
	toasts, err := center.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, toasts)
	toasts, err = center.List(ctx, "admin-1")
	require.NoError(t, err)
	assert.Empty(t, toasts)
}

func TestNotifySelfRaisesToast(t *testing.T) {
	d, _, center := setup(t)
	ctx := WithActor(context.Background(), "p1")

	d.Notify(ctx, "p1", models.NotifyAccount, "プロフィールを更新しました", "", "")

	toasts, err := center.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, toasts, 1)
	assert.Equal(t, "プロフィールを更新しました", toasts[0].Message)
}

func TestNotifyAdmins(t *testing.T) {
	d, db, _ := setup(t)
	ctx := context.Background()

	for _, u := range []*models.User{
		{ID: "a1", Email: "a1@example.com", Role: models.RoleAdmin, Status: models.UserActive},
		{ID: "a2", Email: "a2@example.com", Role: models.RoleAdmin, Status: models.UserActive},
		{ID: "p1", Email: "p1@example.com", Role: models.RolePartner, Status: models.UserActive},
	} {
		require.NoError(t, db.Users.Save(ctx, u))
	}

	d.NotifyAdmins(ctx, models.NotifyApplication, "新しい応募", "", models.ProjectLink("x"))

	for _, id := range []string{"a1", "a2"} {
		list, err := db.Notifications.ForUser(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1, id)
	}
	list, err := db.Notifications.ForUser(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestToastWithoutActorIsDropped(t *testing.T) {
	d, _, center := setup(t)
	d.Toast(context.Background(), toast.KindError, "boom")

	ctx := WithActor(context.Background(), "u1")
	d.Toast(ctx, toast.KindError, "boom")
	toasts, err := center.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, toasts, 1)
}

func TestMarkReadChecksOwner(t *testing.T) {
	d, db, _ := setup(t)
	ctx := context.Background()

	n := &models.Notification{UserID: "p1", Title: "t"}
	require.NoError(t, db.Notifications.Create(ctx, n))

	assert.ErrorIs(t, d.MarkRead(ctx, "p2", n.ID), models.ErrNotFound)
	require.NoError(t, d.MarkRead(ctx, "p1", n.ID))

	got, err := db.Notifications.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
}

func TestMarkAllReadTwice(t *testing.T) {
	d, _, _ := setup(t)
	ctx := context.Background()

	d.Notify(ctx, "p1", models.NotifyMessage, "a", "", models.LinkDM)
	d.Notify(ctx, "p1", models.NotifyMessage, "b", "", models.LinkDM)

	changed, err := d.MarkAllRead(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, changed)

	changed, err = d.MarkAllRead(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, changed)

	list, err := d.List(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, n := range list {
		assert.True(t, n.IsRead)
	}
}
