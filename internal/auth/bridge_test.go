package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatch/internal/database"
	"bizmatch/internal/logger"
	"bizmatch/internal/models"
)

type fakeProvider struct {
	mu         sync.Mutex
	users      map[string]string // email -> password
	ids        map[string]string // email -> id
	signOuts   int
	refreshed  int
	refreshErr error
	identity   map[string]string // access token -> email
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		users:    map[string]string{},
		ids:      map[string]string{},
		identity: map[string]string{},
	}
}

func (f *fakeProvider) SignUp(_ context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return nil, ErrDuplicateIdentity
	}
	if len(password) < 6 {
		return nil, ErrWeakCredential
	}
	f.users[email] = password
	f.ids[email] = "uid-" + email
	f.identity["at-"+email] = email
	return &Session{AccessToken: "at-" + email, User: Identity{ID: f.ids[email], Email: email}}, nil
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pw, ok := f.users[email]; !ok || pw != password {
		return nil, ErrInvalidCredential
	}
	f.identity["at-"+email] = email
	return &Session{AccessToken: "at-" + email, RefreshToken: "rt-" + email, User: Identity{ID: f.ids[email], Email: email}}, nil
}

func (f *fakeProvider) SignOut(_ context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	delete(f.identity, accessToken)
	return nil
}

func (f *fakeProvider) UpdateProfile(context.Context, string, map[string]any) error { return nil }
func (f *fakeProvider) ResetPassword(context.Context, string) error                 { return nil }

func (f *fakeProvider) GetUser(_ context.Context, accessToken string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.identity[accessToken]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return &Identity{ID: f.ids[email], Email: email}, nil
}

func (f *fakeProvider) Refresh(_ context.Context, refreshToken string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &Session{AccessToken: "fresh", RefreshToken: refreshToken}, nil
}

func (f *fakeProvider) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func newBridge(t *testing.T, provider Provider, opts Options) (*Bridge, *models.DB) {
	t.Helper()
	svc := database.NewMemory(logger.Discard())
	t.Cleanup(svc.Close)
	db := models.NewDB(svc)
	if opts.ReconcileDelay == 0 {
		opts.ReconcileDelay = time.Millisecond
	}
	return NewBridge(provider, nil, db, nil, opts, logger.Discard()), db
}

func saveUser(t *testing.T, db *models.DB, u *models.User) {
	t.Helper()
	require.NoError(t, db.Users.Save(context.Background(), u))
}

func TestRegisterCreatesPendingPartner(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{})
	ctx := context.Background()

	user, sess, err := bridge.Register(ctx, RegisterInput{
		Email: "New@Example.com", Password: "secret123", Name: "佐藤", Skills: []string{"go"},
	})
	require.NoError(t, err)
	assert.Equal(t, "uid-new@example.com", user.ID)
	assert.Equal(t, models.RolePartner, user.Role)
	assert.Equal(t, models.UserPending, user.Status)
	assert.True(t, user.PortalAccess)
	assert.NotEmpty(t, sess.AccessToken)

	stored, err := db.Users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", stored.Email)
	assert.Equal(t, []string{"go"}, stored.Skills)

	_, _, err = bridge.Register(ctx, RegisterInput{Email: "new@example.com", Password: "secret123", Name: "x"})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	_, _, err = bridge.Register(ctx, RegisterInput{Email: "weak@example.com", Password: "123", Name: "x"})
	assert.ErrorIs(t, err, ErrWeakCredential)
}

func TestLogin(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{})
	ctx := context.Background()

	provider.users["p1@example.com"] = "secret123"
	provider.ids["p1@example.com"] = "identity-1"
	provider.users["orphan@example.com"] = "secret123"
	provider.users["legacy@example.com"] = "secret123"

	// Profile id differs from the identity id: lookup is by email.
	saveUser(t, db, &models.User{ID: "profile-1", Email: "p1@example.com", Role: models.RolePartner, Status: models.UserActive, PortalAccess: true})
	saveUser(t, db, &models.User{ID: "profile-2", Email: "legacy@example.com", Role: models.RolePartner, Status: models.UserActive})

	user, sess, err := bridge.Login(ctx, "P1@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "profile-1", user.ID)
	assert.NotEmpty(t, sess.AccessToken)

	_, _, err = bridge.Login(ctx, "p1@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, _, err = bridge.Login(ctx, "orphan@example.com", "secret123")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, _, err = bridge.Login(ctx, "legacy@example.com", "secret123")
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.Equal(t, 2, provider.signOutCount())
}

func TestReconcileFirstCheckLoadsUser(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{})
	saveUser(t, db, &models.User{ID: "u1", Email: "p1@example.com", Role: models.RolePartner, Status: models.UserActive, PortalAccess: true})

	st := &SessionState{AccessToken: "at"}
	user, err := bridge.Reconcile(context.Background(), st, SessionEvent{Authenticated: true, Email: "p1@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, st.Checked)
	assert.Equal(t, "u1", st.UserID)
}

func TestReconcileRetriesUntilProfileAppears(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{ReconcileAttempts: 8, ReconcileDelay: 20 * time.Millisecond})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = db.Users.Save(context.Background(), &models.User{ID: "late", Email: "late@example.com", Role: models.RolePartner, Status: models.UserPending, PortalAccess: true})
	}()

	st := &SessionState{AccessToken: "at"}
	user, err := bridge.Reconcile(context.Background(), st, SessionEvent{Authenticated: true, Email: "late@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "late", user.ID)
	assert.Zero(t, provider.signOutCount())
}

func TestReconcileFirstCheckSignsOutWithoutProfile(t *testing.T) {
	provider := newFakeProvider()
	bridge, _ := newBridge(t, provider, Options{ReconcileAttempts: 3})

	st := &SessionState{AccessToken: "at"}
	_, err := bridge.Reconcile(context.Background(), st, SessionEvent{Authenticated: true, Email: "ghost@example.com"})
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.Equal(t, 1, provider.signOutCount())
	assert.Empty(t, st.AccessToken)
	assert.True(t, st.Checked)
}

func TestReconcileFirstCheckDeniesWithoutPortalAccess(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{})
	saveUser(t, db, &models.User{ID: "u1", Email: "legacy@example.com", Role: models.RolePartner, Status: models.UserActive})

	st := &SessionState{AccessToken: "at"}
	_, err := bridge.Reconcile(context.Background(), st, SessionEvent{Authenticated: true, Email: "legacy@example.com"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, 1, provider.signOutCount())
	assert.False(t, st.Loaded())
}

func TestReconcileLaterCheckDoesNotSignOut(t *testing.T) {
	provider := newFakeProvider()
	bridge, _ := newBridge(t, provider, Options{ReconcileAttempts: 2})

	st := &SessionState{Checked: true, AccessToken: "at"}
	_, err := bridge.Reconcile(context.Background(), st, SessionEvent{Authenticated: true, Email: "ghost@example.com"})
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.Zero(t, provider.signOutCount())
	assert.Equal(t, "at", st.AccessToken)
}

// A second reconciliation while a user is loaded must not log the user out
// even when the provider briefly reports no session.
func TestReconcileIgnoresTransientSessionLoss(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{})
	saveUser(t, db, &models.User{ID: "u1", Email: "p1@example.com", Role: models.RolePartner, Status: models.UserActive, PortalAccess: true})
	ctx := context.Background()

	st := &SessionState{AccessToken: "at"}
	_, err := bridge.Reconcile(ctx, st, SessionEvent{Authenticated: true, Email: "p1@example.com"})
	require.NoError(t, err)

	user, err := bridge.Reconcile(ctx, st, SessionEvent{Authenticated: false})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, st.Loaded())
	assert.Zero(t, provider.signOutCount())

	// A later authenticated event for another address is ignored as well.
	user, err = bridge.Reconcile(ctx, st, SessionEvent{Authenticated: true, Email: "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestReconcileFirstCheckSessionLoss(t *testing.T) {
	provider := newFakeProvider()
	bridge, db := newBridge(t, provider, Options{OperatorEmail: "ops@example.com"})
	saveUser(t, db, &models.User{ID: "u1", Email: "p1@example.com", Role: models.RolePartner, Status: models.UserActive, PortalAccess: true})
	saveUser(t, db, &models.User{ID: "ops", Email: "ops@example.com", Role: models.RoleAdmin, Status: models.UserActive})
	ctx := context.Background()

	st := &SessionState{UserID: "u1", Email: "p1@example.com"}
	_, err := bridge.Reconcile(ctx, st, SessionEvent{})
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.False(t, st.Loaded())

	operator := &SessionState{UserID: "ops", Email: "ops@example.com"}
	user, err := bridge.Reconcile(ctx, operator, SessionEvent{})
	require.NoError(t, err)
	assert.Equal(t, "ops", user.ID)
	assert.True(t, operator.Loaded())

	empty := &SessionState{}
	user, err = bridge.Reconcile(ctx, empty, SessionEvent{})
	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestObserveRefreshesExpiredToken(t *testing.T) {
	provider := newFakeProvider()
	svc := database.NewMemory(logger.Discard())
	t.Cleanup(svc.Close)
	verifier := NewTokenVerifier("test-secret")
	bridge := NewBridge(provider, verifier, models.NewDB(svc), nil, Options{}, logger.Discard())

	sign := func(email string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			Email:            email,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		})
		s, err := tok.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}

	st := &SessionState{AccessToken: sign("p1@example.com", time.Now().Add(time.Hour))}
	ev := bridge.Observe(context.Background(), st)
	assert.True(t, ev.Authenticated)
	assert.Equal(t, "p1@example.com", ev.Email)

	// Expired without a refresh token: session lost.
	st = &SessionState{AccessToken: sign("p1@example.com", time.Now().Add(-time.Hour))}
	assert.False(t, bridge.Observe(context.Background(), st).Authenticated)
	assert.Zero(t, provider.refreshed)

	// Expired with a refresh token that the provider rejects.
	provider.refreshErr = ErrInvalidCredential
	st = &SessionState{AccessToken: sign("p1@example.com", time.Now().Add(-time.Hour)), RefreshToken: "rt"}
	assert.False(t, bridge.Observe(context.Background(), st).Authenticated)
	assert.Equal(t, 1, provider.refreshed)

	assert.False(t, bridge.Observe(context.Background(), &SessionState{}).Authenticated)
}

func TestTokenVerifierRejectsOtherSecret(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Email: "x@example.com"})
	s, err := tok.SignedString([]byte("other"))
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").Verify(s)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, NewTokenVerifier(""))
}
