// Package navigation tracks which portal screen a signed-in user is on and
// the profile-view history used by back navigation.
package navigation

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"bizmatch/internal/models"
)

type View string

const (
	ViewDashboard     View = "dashboard"
	ViewProjects      View = "projects"
	ViewProject       View = "project"
	ViewApplications  View = "applications"
	ViewInvoices      View = "invoices"
	ViewMessages      View = "messages"
	ViewNotifications View = "notifications"
	ViewProfile       View = "profile"
	ViewPartners      View = "partners"
)

var (
	ErrUnknownView = errors.New("unknown view")
	ErrViewDenied  = errors.New("view not available for this role")
)

// adminOnly lists views partners never reach.
var adminOnly = map[View]bool{
	ViewPartners: true,
}

var known = map[View]bool{
	ViewDashboard: true, ViewProjects: true, ViewProject: true, ViewApplications: true,
	ViewInvoices: true, ViewMessages: true, ViewNotifications: true, ViewProfile: true,
	ViewPartners: true,
}

// Frame is one entry of the back stack.
type Frame struct {
	View              View              `json:"view"`
	Params            map[string]string `json:"params,omitempty"`
	SelectedProfileID string            `json:"selectedProfileId,omitempty"`
}

// State is the serialisable navigation state of one session.
type State struct {
	Current           View              `json:"currentView"`
	Params            map[string]string `json:"currentViewParams,omitempty"`
	SelectedProfileID string            `json:"selectedProfileId,omitempty"`
	History           []Frame           `json:"history,omitempty"`
}

// Screen is what the client renders: the role-scoped component and its
// parameters.
type Screen struct {
	View              View              `json:"view"`
	Component         string            `json:"component"`
	Params            map[string]string `json:"params,omitempty"`
	SelectedProfileID string            `json:"selectedProfileId,omitempty"`
	CanGoBack         bool              `json:"canGoBack"`
	Pinned            bool              `json:"pinned"`
}

// Controller applies navigation actions for one user.
type Controller struct {
	user  *models.User
	state State
}

// New restores a controller from state, which may be nil for a fresh session.
func New(user *models.User, state *State) *Controller {
	c := &Controller{user: user}
	if state != nil {
		c.state = *state
	}
	if c.state.Current == "" || !c.allowed(c.state.Current) {
		c.state = State{Current: ViewDashboard}
	}
	c.pin()
	return c
}

// Decode restores a controller from the serialised state. Unreadable state
// starts over at the dashboard.
func Decode(user *models.User, data []byte) *Controller {
	if len(data) == 0 {
		return New(user, nil)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return New(user, nil)
	}
	return New(user, &st)
}

func (c *Controller) Encode() ([]byte, error) {
	return json.Marshal(c.state)
}

func (c *Controller) State() State {
	return c.state
}

// Component resolves the role-scoped screen component for view.
func Component(role models.Role, view View) string {
	return fmt.Sprintf("%s/%s", role, view)
}

func (c *Controller) allowed(view View) bool {
	return known[view] && (c.user.IsAdmin() || !adminOnly[view])
}

// pin keeps a restricted partner on their own profile.
func (c *Controller) pin() bool {
	if !c.user.IsRestricted() {
		return false
	}
	c.state = State{Current: ViewProfile, SelectedProfileID: c.user.ID}
	return true
}

// Navigate switches to view, replacing the current screen.
func (c *Controller) Navigate(view View, params map[string]string) error {
	if !known[view] {
		return fmt.Errorf("%w %q", ErrUnknownView, view)
	}
	if !c.allowed(view) {
		return fmt.Errorf("%w: %s", ErrViewDenied, view)
	}
	if c.pin() {
		return nil
	}
	c.state.Current = view
	c.state.Params = maps.Clone(params)
	c.state.SelectedProfileID = ""
	if view == ViewDashboard {
		c.state.History = nil
	}
	return nil
}

// ViewProfile opens a user's profile and remembers the current screen so
// that Back returns to it.
func (c *Controller) ViewProfile(profileID string) {
	if c.pin() {
		return
	}
	if profileID == "" {
		profileID = c.user.ID
	}
	if !c.user.IsAdmin() {
		profileID = c.user.ID
	}
	c.state.History = append(c.state.History, Frame{
		View:              c.state.Current,
		Params:            c.state.Params,
		SelectedProfileID: c.state.SelectedProfileID,
	})
	c.state.Current = ViewProfile
	c.state.Params = nil
	c.state.SelectedProfileID = profileID
}

// Back pops the last frame, or returns to the dashboard when the history is
// empty.
func (c *Controller) Back() {
	if c.pin() {
		return
	}
	n := len(c.state.History)
	if n == 0 {
		c.state = State{Current: ViewDashboard}
		return
	}
	top := c.state.History[n-1]
	c.state.History = c.state.History[:n-1]
	c.state.Current = top.View
	c.state.Params = top.Params
	c.state.SelectedProfileID = top.SelectedProfileID
}

func (c *Controller) Screen() Screen {
	return Screen{
		View:              c.state.Current,
		Component:         Component(c.user.Role, c.state.Current),
		Params:            c.state.Params,
		SelectedProfileID: c.state.SelectedProfileID,
		CanGoBack:         len(c.state.History) > 0,
		Pinned:            c.user.IsRestricted(),
	}
}

// LinkTarget maps a notification link to the view it opens.
func LinkTarget(link models.Link) (View, map[string]string) {
	if id, ok := link.ProjectID(); ok {
		return ViewProject, map[string]string{"projectId": id}
	}
	switch link {
	case models.LinkDM:
		return ViewMessages, nil
	case models.LinkInvoices:
		return ViewInvoices, nil
	}
	return ViewNotifications, nil
}

// Follow navigates to the target of a notification link.
func (c *Controller) Follow(link models.Link) error {
	view, params := LinkTarget(link)
	return c.Navigate(view, params)
}
