package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatch/internal/models"
)

var (
	admin   = &models.User{ID: "admin-1", Role: models.RoleAdmin, Status: models.UserActive}
	partner = &models.User{ID: "partner-1", Role: models.RolePartner, Status: models.UserActive}
	pending = &models.User{ID: "partner-2", Role: models.RolePartner, Status: models.UserPending}
)

func TestFreshSessionStartsOnDashboard(t *testing.T) {
	c := New(admin, nil)
	s := c.Screen()
	assert.Equal(t, ViewDashboard, s.View)
	assert.Equal(t, "admin/dashboard", s.Component)
	assert.False(t, s.CanGoBack)

	assert.Equal(t, "partner/dashboard", New(partner, nil).Screen().Component)
}

func TestProfileHistoryIsLIFO(t *testing.T) {
	c := New(admin, nil)
	require.NoError(t, c.Navigate(ViewProject, map[string]string{"projectId": "p1"}))
	c.ViewProfile("partner-1")
	c.ViewProfile("partner-2")

	s := c.Screen()
	assert.Equal(t, ViewProfile, s.View)
	assert.Equal(t, "partner-2", s.SelectedProfileID)
	assert.True(t, s.CanGoBack)

	c.Back()
	s = c.Screen()
	assert.Equal(t, ViewProfile, s.View)
	assert.Equal(t, "partner-1", s.SelectedProfileID)

	c.Back()
	s = c.Screen()
	assert.Equal(t, ViewProject, s.View)
	assert.Equal(t, map[string]string{"projectId": "p1"}, s.Params)
	assert.False(t, s.CanGoBack)

	c.Back()
	assert.Equal(t, ViewDashboard, c.Screen().View)
}

func TestNavigateValidatesView(t *testing.T) {
	c := New(partner, nil)
	assert.ErrorIs(t, c.Navigate("settings", nil), ErrUnknownView)
	assert.ErrorIs(t, c.Navigate(ViewPartners, nil), ErrViewDenied)
	require.NoError(t, New(admin, nil).Navigate(ViewPartners, nil))
}

func TestPartnerCanOnlyViewOwnProfile(t *testing.T) {
	c := New(partner, nil)
	c.ViewProfile("someone-else")
	assert.Equal(t, partner.ID, c.Screen().SelectedProfileID)
}

func TestRestrictedPartnerIsPinned(t *testing.T) {
	c := New(pending, &State{Current: ViewInvoices})
	s := c.Screen()
	assert.Equal(t, ViewProfile, s.View)
	assert.Equal(t, pending.ID, s.SelectedProfileID)
	assert.True(t, s.Pinned)

	require.NoError(t, c.Navigate(ViewProjects, nil))
	assert.Equal(t, ViewProfile, c.Screen().View)

	c.Back()
	assert.Equal(t, ViewProfile, c.Screen().View)
	assert.False(t, c.Screen().CanGoBack)
}

func TestEncodeDecodeKeepsHistory(t *testing.T) {
	c := New(admin, nil)
	require.NoError(t, c.Navigate(ViewInvoices, nil))
	c.ViewProfile("partner-1")

	data, err := c.Encode()
	require.NoError(t, err)

	restored := Decode(admin, data)
	assert.Equal(t, c.State(), restored.State())
	restored.Back()
	assert.Equal(t, ViewInvoices, restored.Screen().View)

	assert.Equal(t, ViewDashboard, Decode(admin, []byte("{not json")).Screen().View)
}

func TestDecodeDropsDeniedView(t *testing.T) {
	c := Decode(partner, []byte(`{"currentView":"partners"}`))
	assert.Equal(t, ViewDashboard, c.Screen().View)
}

func TestFollowLinks(t *testing.T) {
	c := New(partner, nil)

	require.NoError(t, c.Follow(models.ProjectLink("p9")))
	assert.Equal(t, ViewProject, c.Screen().View)
	assert.Equal(t, "p9", c.Screen().Params["projectId"])

	require.NoError(t, c.Follow(models.LinkInvoices))
	assert.Equal(t, ViewInvoices, c.Screen().View)

	require.NoError(t, c.Follow(models.LinkDM))
	assert.Equal(t, ViewMessages, c.Screen().View)

	require.NoError(t, c.Follow(""))
	assert.Equal(t, ViewNotifications, c.Screen().View)
}

func TestDashboardClearsHistory(t *testing.T) {
	c := New(admin, nil)
	c.ViewProfile("partner-1")
	require.NoError(t, c.Navigate(ViewDashboard, nil))
	assert.False(t, c.Screen().CanGoBack)
}
