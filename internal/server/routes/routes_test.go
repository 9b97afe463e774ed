package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatch/internal/auth"
	"bizmatch/internal/config"
	"bizmatch/internal/database"
	"bizmatch/internal/logger"
	"bizmatch/internal/models"
	"bizmatch/internal/notify"
	"bizmatch/internal/realtime"
	"bizmatch/internal/storage"
	"bizmatch/internal/toast"
	"bizmatch/internal/workflow"
)

const password = "correct-horse"

// identityStub is an in-process identity provider keyed by email.
type identityStub struct {
	mu       sync.Mutex
	accounts map[string]string // email -> id
	tokens   map[string]string // access token -> email
}

func newIdentityStub() *identityStub {
	return &identityStub{accounts: map[string]string{}, tokens: map[string]string{}}
}

func (p *identityStub) add(email, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email] = id
}

func (p *identityStub) issue(email string) *auth.Session {
	token := "token-" + email
	p.tokens[token] = email
	return &auth.Session{
		AccessToken:  token,
		RefreshToken: "refresh-" + email,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         auth.Identity{ID: p.accounts[email], Email: email},
	}
}

func (p *identityStub) SignUp(_ context.Context, email, pw string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; ok {
		return nil, auth.ErrDuplicateIdentity
	}
	if len(pw) < 6 {
		return nil, auth.ErrWeakCredential
	}
	p.accounts[email] = "uid-" + email
	return p.issue(email), nil
}

func (p *identityStub) SignIn(_ context.Context, email, pw string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; !ok || pw != password {
		return nil, auth.ErrInvalidCredential
	}
	return p.issue(email), nil
}

func (p *identityStub) SignOut(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, accessToken)
	return nil
}

func (p *identityStub) UpdateProfile(context.Context, string, map[string]any) error { return nil }
func (p *identityStub) ResetPassword(context.Context, string) error                 { return nil }

func (p *identityStub) GetUser(_ context.Context, accessToken string) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	email, ok := p.tokens[accessToken]
	if !ok {
		return nil, auth.ErrInvalidCredential
	}
	return &auth.Identity{ID: p.accounts[email], Email: email}, nil
}

func (p *identityStub) Refresh(context.Context, string) (*auth.Session, error) {
	return nil, auth.ErrInvalidCredential
}

type pdfGenerator struct{}

func (pdfGenerator) Generate(_ context.Context, payload *workflow.InvoicePayload) ([]byte, error) {
	return []byte("%PDF-1.7 " + payload.InvoiceID), nil
}

type testServer struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *models.DB
	bridge   *auth.Bridge
	workflow *workflow.Orchestrator
	notifier *notify.Dispatcher
	toasts   *toast.Center
	hub      *realtime.Hub
	identity *identityStub
}

func (s *testServer) GetDB() *models.DB                   { return s.db }
func (s *testServer) GetAuth() *auth.Bridge               { return s.bridge }
func (s *testServer) GetWorkflow() *workflow.Orchestrator { return s.workflow }
func (s *testServer) GetNotifier() *notify.Dispatcher     { return s.notifier }
func (s *testServer) GetToasts() *toast.Center            { return s.toasts }
func (s *testServer) GetHub() *realtime.Hub               { return s.hub }
func (s *testServer) GetConfig() *config.Config           { return s.cfg }
func (s *testServer) GetLogger() logrus.FieldLogger       { return s.log }

type fixture struct {
	t      *testing.T
	server *testServer
	url    string
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = &config.Config{FrontendURL: "http://localhost:3000"}
	}
	cfg.Session.Secret = "test-session-secret"

	log := logger.Discard()
	svc := database.NewMemory(log)
	t.Cleanup(svc.Close)
	db := models.NewDB(svc)
	toasts := toast.NewCenter(toast.NewMemory(), time.Minute, log)
	notifier := notify.NewDispatcher(db, toasts, log)
	identity := newIdentityStub()

	s := &testServer{
		cfg:      cfg,
		log:      log,
		db:       db,
		notifier: notifier,
		toasts:   toasts,
		identity: identity,
		bridge:   auth.NewBridge(identity, nil, db, notifier, auth.Options{ReconcileAttempts: 1, ReconcileDelay: time.Millisecond}, log),
		workflow: workflow.NewOrchestrator(db, notifier, pdfGenerator{}, storage.NewInvoiceStore(nil, log), workflow.Options{}, log),
		hub:      realtime.NewHub(svc, toasts, nil, log),
	}

	store := cookie.NewStore([]byte(cfg.Session.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true})

	r := gin.New()
	r.Use(sessions.Sessions("bizmatch-session", store))
	Register(r, s)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{t: t, server: s, url: srv.URL}
}

// seed stores a profile and a matching provider account.
func (f *fixture) seed(id string, role models.Role, status models.UserStatus) *models.User {
	f.t.Helper()
	u := &models.User{
		ID:           id,
		Email:        id + "@example.com",
		Name:         id,
		Role:         role,
		Status:       status,
		PortalAccess: true,
		CreatedAt:    time.Now(),
	}
	require.NoError(f.t, f.server.db.Users.Save(context.Background(), u))
	f.server.identity.add(u.Email, u.ID)
	return u
}

// client is one browser with its own cookie jar.
type client struct {
	f    *fixture
	http *http.Client
}

func (f *fixture) client() *client {
	jar, err := cookiejar.New(nil)
	require.NoError(f.t, err)
	return &client{f: f, http: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(r.body, &out), string(r.body))
	return out
}

func (c *client) do(method, path string, body any, headers ...string) response {
	c.f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.f.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.f.url+path, reader)
	require.NoError(c.f.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	require.NoError(c.f.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.f.t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func (f *fixture) login(u *models.User) *client {
	f.t.Helper()
	c := f.client()
	resp := c.do(http.MethodPost, "/auth/login", gin.H{"email": u.Email, "password": password})
	require.Equal(f.t, http.StatusOK, resp.status, string(resp.body))
	return c
}

func TestRegisterSignsInPendingPartner(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("admin-1", models.RoleAdmin, models.UserActive)
	c := f.client()

	resp := c.do(http.MethodPost, "/auth/register", gin.H{
		"email": "New@Example.com", "password": "secret99", "name": "新規パートナー",
		"role": "admin",
	})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	assert.Equal(t, false, resp.json(t)["confirmationRequired"])

	resp = c.do(http.MethodGet, "/users/me", nil)
	require.Equal(t, http.StatusOK, resp.status)
	user := resp.json(t)["user"].(map[string]any)
	assert.Equal(t, "new@example.com", user["email"])
	assert.Equal(t, "partner", user["role"])
	assert.Equal(t, "pending", user["status"])

	// A pending partner is pinned to their own profile.
	resp = c.do(http.MethodPost, "/navigation", gin.H{"action": "navigate", "view": "projects"})
	require.Equal(t, http.StatusOK, resp.status)
	screen := resp.json(t)["screen"].(map[string]any)
	assert.Equal(t, "profile", screen["view"])
	assert.Equal(t, true, screen["pinned"])
}

func TestRegisterDuplicateOffersLogin(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seed("partner-1", models.RolePartner, models.UserActive)

	resp := f.client().do(http.MethodPost, "/auth/register", gin.H{"email": u.Email, "password": "secret99", "name": "x"})
	require.Equal(t, http.StatusConflict, resp.status)
	body := resp.json(t)
	assert.Equal(t, auth.UserMessage(auth.ErrDuplicateIdentity), body["error"])
	assert.Equal(t, auth.RecoverySwitchToLogin, body["recovery"])
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seed("partner-1", models.RolePartner, models.UserActive)

	resp := f.client().do(http.MethodPost, "/auth/login", gin.H{"email": u.Email, "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.UserMessage(auth.ErrInvalidCredential), resp.json(t)["error"])

	resp = f.client().do(http.MethodPost, "/auth/login", gin.H{"email": u.Email})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	// An identity without a profile is refused.
	f.server.identity.add("ghost@example.com", "ghost")
	resp = f.client().do(http.MethodPost, "/auth/login", gin.H{"email": "ghost@example.com", "password": password})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.UserMessage(auth.ErrProfileNotFound), resp.json(t)["error"])
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/projects", "/invoices", "/notifications", "/users/me", "/navigation"} {
		resp := f.client().do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.status, path)
	}
}

func TestSessionAndLogout(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seed("partner-1", models.RolePartner, models.UserActive)
	c := f.login(u)

	resp := c.do(http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, true, resp.json(t)["authenticated"])

	resp = c.do(http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.status)

	resp = c.do(http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, false, resp.json(t)["authenticated"])
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/users/me", nil).status)
}

func TestInitialSessionCheckSignsOutLostIdentity(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seed("partner-1", models.RolePartner, models.UserActive)
	c := f.login(u)

	// The provider forgets the session behind the browser's back.
	require.NoError(t, f.server.identity.SignOut(context.Background(), "token-"+u.Email))

	// Later checks keep the loaded user.
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/users/me", nil).status)

	// The first check of a new app start does not.
	resp := c.do(http.MethodGet, "/auth/session?initial=true", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/users/me", nil).status)
}

func TestAuthRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.AuthRateLimit = 0.001
	cfg.Session.AuthRateBurst = 2
	f := newFixture(t, cfg)
	c := f.client()

	body := gin.H{"email": "nobody@example.com", "password": "nope"}
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/auth/login", body).status)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/auth/login", body).status)
	resp := c.do(http.MethodPost, "/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
	assert.Equal(t, auth.UserMessage(auth.ErrRateLimited), resp.json(t)["error"])
}

func TestProjectLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.login(f.seed("admin-1", models.RoleAdmin, models.UserActive))
	partnerUser := f.seed("partner-1", models.RolePartner, models.UserActive)
	partner := f.login(partnerUser)
	rival := f.login(f.seed("partner-2", models.RolePartner, models.UserActive))

	resp := partner.do(http.MethodPost, "/projects", gin.H{"title": "LP制作"})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = admin.do(http.MethodPost, "/projects", gin.H{"title": "LP制作", "budget": 300000})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	projectID := resp.json(t)["project"].(map[string]any)["id"].(string)

	resp = partner.do(http.MethodPost, "/projects/"+projectID+"/apply", gin.H{"message": "お任せください", "quoteAmount": 250000})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	appID := resp.json(t)["application"].(map[string]any)["id"].(string)

	resp = partner.do(http.MethodPost, "/projects/"+projectID+"/apply", gin.H{"message": "again"})
	assert.Equal(t, http.StatusConflict, resp.status)

	require.Equal(t, http.StatusCreated, rival.do(http.MethodPost, "/projects/"+projectID+"/apply", gin.H{"message": "私も"}).status)

	resp = admin.do(http.MethodGet, "/projects/"+projectID+"/applications", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 2, resp.json(t)["total"])

	resp = admin.do(http.MethodPost, "/projects/"+projectID+"/hire", gin.H{"applicationId": appID})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	hired := resp.json(t)
	assert.Equal(t, "in_progress", hired["project"].(map[string]any)["status"])
	assert.Len(t, hired["rejected"], 1)

	resp = admin.do(http.MethodPost, "/projects/"+projectID+"/hire", gin.H{"applicationId": appID})
	assert.Equal(t, http.StatusConflict, resp.status)

	// The rival lost and can no longer see the project.
	resp = rival.do(http.MethodGet, "/projects/"+projectID, nil)
	assert.Equal(t, http.StatusOK, resp.status)
	resp = rival.do(http.MethodGet, "/applications", nil)
	require.Equal(t, http.StatusOK, resp.status)
	apps := resp.json(t)["applications"].([]any)
	require.Len(t, apps, 1)
	assert.Equal(t, "rejected", apps[0].(map[string]any)["status"])

	// Issuing as a PDF download.
	resp = partner.do(http.MethodPost, "/invoices/issue", gin.H{"projectId": projectID, "amount": 250000}, "Accept", "application/pdf")
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, "application/pdf", resp.header.Get("Content-Type"))
	assert.Contains(t, resp.header.Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(resp.body, []byte("%PDF")))

	resp = partner.do(http.MethodGet, "/invoices", nil)
	require.Equal(t, http.StatusOK, resp.status)
	invoices := resp.json(t)["invoices"].([]any)
	require.Len(t, invoices, 1)
	invoice := invoices[0].(map[string]any)
	assert.Equal(t, "billed", invoice["status"])
	invoiceID := invoice["id"].(string)

	resp = partner.do(http.MethodGet, "/invoices/"+invoiceID+"/pdf", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "%PDF-1.7 "+invoiceID, string(resp.body))
	assert.Equal(t, http.StatusForbidden, rival.do(http.MethodGet, "/invoices/"+invoiceID+"/pdf", nil).status)

	resp = partner.do(http.MethodPatch, "/invoices/"+invoiceID+"/status", gin.H{"status": "paid"})
	assert.Equal(t, http.StatusForbidden, resp.status)
	resp = admin.do(http.MethodPatch, "/invoices/"+invoiceID+"/status", gin.H{"status": "refunded"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	resp = admin.do(http.MethodPatch, "/invoices/"+invoiceID+"/status", gin.H{"status": "paid"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, "paid", resp.json(t)["invoice"].(map[string]any)["status"])

	resp = admin.do(http.MethodPost, "/projects/"+projectID+"/complete", gin.H{"score": 9})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	resp = admin.do(http.MethodPost, "/projects/"+projectID+"/complete", gin.H{"score": 5, "comment": "素晴らしい"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, "completed", resp.json(t)["project"].(map[string]any)["status"])

	resp = partner.do(http.MethodGet, "/notifications", nil)
	require.Equal(t, http.StatusOK, resp.status)
	notes := resp.json(t)
	assert.NotEmpty(t, notes["notifications"])
	assert.Greater(t, notes["unread"].(float64), 0.0)

	resp = partner.do(http.MethodPost, "/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, resp.status)
	resp = partner.do(http.MethodGet, "/notifications", nil)
	assert.EqualValues(t, 0, resp.json(t)["unread"])
}

func TestIssueInvoiceJSON(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.login(f.seed("admin-1", models.RoleAdmin, models.UserActive))
	partner := f.login(f.seed("partner-1", models.RolePartner, models.UserActive))

	resp := admin.do(http.MethodPost, "/projects", gin.H{"title": "保守"})
	projectID := resp.json(t)["project"].(map[string]any)["id"].(string)
	resp = partner.do(http.MethodPost, "/projects/"+projectID+"/apply", gin.H{"message": "hi"})
	appID := resp.json(t)["application"].(map[string]any)["id"].(string)
	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/projects/"+projectID+"/hire", gin.H{"applicationId": appID}).status)

	resp = partner.do(http.MethodPost, "/invoices/issue", gin.H{"projectId": projectID, "amount": -1})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = partner.do(http.MethodPost, "/invoices/issue", gin.H{"projectId": projectID, "amount": 1000})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	body := resp.json(t)
	assert.Equal(t, "billed", body["invoice"].(map[string]any)["status"])
	assert.NotContains(t, body, "PDF")
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.login(f.seed("admin-1", models.RoleAdmin, models.UserActive))
	pendingUser := f.seed("partner-9", models.RolePartner, models.UserPending)
	pending := f.login(pendingUser)

	assert.Equal(t, http.StatusForbidden, pending.do(http.MethodGet, "/admin/partners", nil).status)
	assert.Equal(t, http.StatusForbidden, pending.do(http.MethodPost, "/admin/users/"+pendingUser.ID+"/approve", nil).status)

	resp := admin.do(http.MethodGet, "/admin/partners?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 1, resp.json(t)["total"])
	assert.Equal(t, http.StatusBadRequest, admin.do(http.MethodGet, "/admin/partners?status=archived", nil).status)

	resp = admin.do(http.MethodPost, "/admin/users/"+pendingUser.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "active", resp.json(t)["user"].(map[string]any)["status"])

	// The approved partner is no longer pinned.
	resp = pending.do(http.MethodPost, "/navigation", gin.H{"action": "navigate", "view": "projects"})
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "projects", resp.json(t)["screen"].(map[string]any)["view"])

	assert.Equal(t, http.StatusNotFound, admin.do(http.MethodPost, "/admin/users/missing/reject", nil).status)
}

func TestRestrictedPartnerReachesOnlyOwnProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("admin-1", models.RoleAdmin, models.UserActive)
	other := f.seed("partner-2", models.RolePartner, models.UserActive)

	for _, status := range []models.UserStatus{models.UserPending, models.UserRejected} {
		u := f.seed("partner-"+string(status), models.RolePartner, status)
		c := f.login(u)

		for _, path := range []string{"/projects", "/invoices", "/messages", "/applications", "/projects/p-1/messages", "/ws", "/users/" + other.ID} {
			assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, path, nil).status, "%s %s", status, path)
		}
		assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/projects/p-1/apply", nil).status)

		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/users/me", nil).status)
		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/users/"+u.ID, nil).status)
		resp := c.do(http.MethodPatch, "/users/"+u.ID, gin.H{"phone": "090-1111-2222"})
		assert.Equal(t, http.StatusOK, resp.status, string(resp.body))
		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/notifications", nil).status)
		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/navigation", nil).status)
	}
}

func TestProfileRoutes(t *testing.T) {
	f := newFixture(t, nil)
	partnerUser := f.seed("partner-1", models.RolePartner, models.UserActive)
	other := f.seed("partner-2", models.RolePartner, models.UserActive)
	partner := f.login(partnerUser)

	resp := partner.do(http.MethodPatch, "/users/"+partnerUser.ID, gin.H{"phone": "090-0000-0000", "role": "admin"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	user := resp.json(t)["user"].(map[string]any)
	assert.Equal(t, "090-0000-0000", user["phone"])
	assert.Equal(t, "partner", user["role"])

	assert.Equal(t, http.StatusForbidden, partner.do(http.MethodPatch, "/users/"+other.ID, gin.H{"phone": "1"}).status)
	assert.Equal(t, http.StatusForbidden, partner.do(http.MethodGet, "/users/"+other.ID, nil).status)
	resp = partner.do(http.MethodPatch, "/users/"+partnerUser.ID, gin.H{"bankInfo": "{broken"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestMessagesAndNavigation(t *testing.T) {
	f := newFixture(t, nil)
	adminUser := f.seed("admin-1", models.RoleAdmin, models.UserActive)
	admin := f.login(adminUser)
	partnerUser := f.seed("partner-1", models.RolePartner, models.UserActive)
	partner := f.login(partnerUser)
	rival := f.seed("partner-2", models.RolePartner, models.UserActive)

	resp := partner.do(http.MethodPost, "/messages", gin.H{"receiverId": rival.ID, "content": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = admin.do(http.MethodPost, "/messages", gin.H{"receiverId": partnerUser.ID, "content": "ご確認ください"})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	msgID := resp.json(t)["message"].(map[string]any)["id"].(string)

	resp = partner.do(http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 1, resp.json(t)["total"])
	resp = partner.do(http.MethodGet, "/messages?peer="+adminUser.ID, nil)
	assert.EqualValues(t, 1, resp.json(t)["total"])

	assert.Equal(t, http.StatusForbidden, admin.do(http.MethodPost, "/messages/"+msgID+"/read", nil).status)
	assert.Equal(t, http.StatusOK, partner.do(http.MethodPost, "/messages/"+msgID+"/read", nil).status)

	// Following the DM notification opens the messages view and reads it.
	notes, err := f.server.notifier.List(context.Background(), partnerUser.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	resp = partner.do(http.MethodPost, "/navigation", gin.H{"action": "follow", "notificationId": notes[0].ID})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, "messages", resp.json(t)["screen"].(map[string]any)["view"])

	resp = partner.do(http.MethodGet, "/navigation", nil)
	require.Equal(t, http.StatusOK, resp.status)
	screen := resp.json(t)["screen"].(map[string]any)
	assert.Equal(t, "messages", screen["view"])
	assert.Equal(t, "partner/messages", screen["component"])

	assert.Equal(t, http.StatusForbidden, partner.do(http.MethodPost, "/navigation", gin.H{"action": "navigate", "view": "partners"}).status)
	assert.Equal(t, http.StatusBadRequest, partner.do(http.MethodPost, "/navigation", gin.H{"action": "navigate", "view": "settings"}).status)
	assert.Equal(t, http.StatusBadRequest, partner.do(http.MethodPost, "/navigation", gin.H{"action": "jump"}).status)

	resp = partner.do(http.MethodPost, "/navigation", gin.H{"action": "profile", "profileId": adminUser.ID})
	require.Equal(t, http.StatusOK, resp.status)
	screen = resp.json(t)["screen"].(map[string]any)
	assert.Equal(t, partnerUser.ID, screen["selectedProfileId"])
	assert.Equal(t, true, screen["canGoBack"])

	resp = partner.do(http.MethodPost, "/navigation", gin.H{"action": "back"})
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "messages", resp.json(t)["screen"].(map[string]any)["view"])
}

func TestToastRoutes(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seed("partner-1", models.RolePartner, models.UserActive)
	c := f.login(u)

	shown, err := f.server.toasts.Show(context.Background(), u.ID, toast.KindInfo, "保存しました")
	require.NoError(t, err)

	resp := c.do(http.MethodGet, "/toasts", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Len(t, resp.json(t)["toasts"], 1)

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/toasts/"+shown.ID, nil).status)
	resp = c.do(http.MethodGet, "/toasts", nil)
	assert.Empty(t, resp.json(t)["toasts"])
}
