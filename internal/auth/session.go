package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/models"
	"bizmatch/internal/retry"
)

// SessionState is the per-browser auth state carried between requests. It
// replaces process-wide "current user" variables: whoever handles a session
// event receives it explicitly.
type SessionState struct {
	// Checked is set once the first reconciliation has run.
	Checked      bool      `json:"checked"`
	UserID       string    `json:"userId,omitempty"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// Loaded reports whether a profile is attached to the session.
func (s *SessionState) Loaded() bool {
	return s.UserID != ""
}

// Attach stores a freshly issued provider session.
func (s *SessionState) Attach(sess *Session) {
	s.AccessToken = sess.AccessToken
	s.RefreshToken = sess.RefreshToken
	s.ExpiresAt = sess.ExpiresAt
	if sess.User.Email != "" {
		s.Email = models.NormalizeEmail(sess.User.Email)
	}
}

// Clear drops the user and tokens. Checked survives so that later events are
// not treated as the first check again.
func (s *SessionState) Clear() {
	*s = SessionState{Checked: s.Checked}
}

// SessionEvent is a change of the provider session as observed for one
// browser session.
type SessionEvent struct {
	Authenticated bool
	Email         string
}

// Observe derives the current provider session event from st, refreshing an
// expired access token when a refresh token is available.
func (b *Bridge) Observe(ctx context.Context, st *SessionState) SessionEvent {
	if st.AccessToken == "" {
		return SessionEvent{}
	}

	email, err := b.identify(ctx, st.AccessToken)
	if errors.Is(err, ErrTokenExpired) && st.RefreshToken != "" {
		sess, rerr := b.provider.Refresh(ctx, st.RefreshToken)
		if rerr != nil {
			b.log.WithError(rerr).Debug("token refresh failed")
			return SessionEvent{}
		}
		st.Attach(sess)
		email, err = b.identify(ctx, st.AccessToken)
	}
	if err != nil {
		b.log.WithError(err).Debug("provider session not valid")
		return SessionEvent{}
	}
	return SessionEvent{Authenticated: true, Email: email}
}

// identify resolves the email behind an access token, locally when a JWT
// secret is configured and through the provider otherwise.
func (b *Bridge) identify(ctx context.Context, accessToken string) (string, error) {
	if b.verifier != nil {
		claims, err := b.verifier.Verify(accessToken)
		if err != nil {
			return "", err
		}
		return claims.Email, nil
	}
	id, err := b.provider.GetUser(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return id.Email, nil
}

// Reconcile applies a provider session event to st and returns the profile
// now attached to it, if any.
//
// Only the first check after start may force a sign-out. Later events while
// a user is loaded are ignored so that transient provider disconnects do not
// log the user out, and the operator account is never signed out by a lost
// session. A missing profile is retried with the configured budget to
// tolerate a registration write that has not landed yet.
func (b *Bridge) Reconcile(ctx context.Context, st *SessionState, ev SessionEvent) (*models.User, error) {
	first := !st.Checked
	st.Checked = true
	log := b.log.WithFields(logrus.Fields{"first_check": first, "email": ev.Email})

	if !ev.Authenticated {
		switch {
		case !st.Loaded():
			return nil, nil
		case !first:
			log.Debug("ignoring session loss while a user is loaded")
			return b.current(ctx, st)
		case b.isOperator(st.Email):
			log.Info("operator session kept despite provider session loss")
			return b.current(ctx, st)
		}
		st.Clear()
		return nil, ErrNotSignedIn
	}

	if st.Loaded() && !first {
		return b.current(ctx, st)
	}

	email := models.NormalizeEmail(ev.Email)
	user, err := retry.DoValue(ctx, b.lookup, func(ctx context.Context) (*models.User, error) {
		u, err := b.db.Users.GetByEmail(ctx, email)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, retry.Permanent(err)
		}
		return u, err
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		err = fmt.Errorf("%s: %w", email, ErrProfileNotFound)
	case err != nil:
		return nil, err
	case !user.CanAccessPortal():
		err = fmt.Errorf("%s: %w", email, ErrAccessDenied)
	}
	if err != nil {
		if first && !b.isOperator(email) {
			log.WithError(err).Warn("signing out identity without a usable profile")
			b.signOut(ctx, st.AccessToken)
			st.Clear()
		}
		return nil, err
	}

	st.UserID = user.ID
	st.Email = user.Email
	return user, nil
}

// current reloads the profile attached to st.
func (b *Bridge) current(ctx context.Context, st *SessionState) (*models.User, error) {
	if !st.Loaded() {
		return nil, nil
	}
	return b.db.Users.Get(ctx, st.UserID)
}
