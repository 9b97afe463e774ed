package routes

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/markbates/goth/gothic"
	"github.com/sirupsen/logrus"

	"bizmatch/internal/auth"
	"bizmatch/internal/config"
	"bizmatch/internal/models"
	"bizmatch/internal/notify"
	"bizmatch/internal/realtime"
	"bizmatch/internal/toast"
	"bizmatch/internal/workflow"
)

type ServerInterface interface {
	GetDB() *models.DB
	GetAuth() *auth.Bridge
	GetWorkflow() *workflow.Orchestrator
	GetNotifier() *notify.Dispatcher
	GetToasts() *toast.Center
	GetHub() *realtime.Hub
	GetConfig() *config.Config
	GetLogger() logrus.FieldLogger
}

// Register mounts every route group of the portal API on r.
func Register(r *gin.Engine, server ServerInterface) {
	NewAuthRoutes(server).RegisterRoutes(r)
	NewUserRoutes(server).RegisterRoutes(r)
	NewProjectRoutes(server).RegisterRoutes(r)
	NewInvoiceRoutes(server).RegisterRoutes(r)
	NewMessageRoutes(server).RegisterRoutes(r)
	NewNotificationRoutes(server).RegisterRoutes(r)
	NewToastRoutes(server).RegisterRoutes(r)
	NewNavigationRoutes(server).RegisterRoutes(r)
	NewRealtimeRoutes(server).RegisterRoutes(r)
}

type AuthRoutes struct {
	server  ServerInterface
	limiter *RateLimiter
}

func NewAuthRoutes(server ServerInterface) *AuthRoutes {
	cfg := server.GetConfig().Session
	return &AuthRoutes{
		server:  server,
		limiter: NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst),
	}
}

func (ar *AuthRoutes) RegisterRoutes(r *gin.Engine) {
	limited := r.Group("/auth")
	limited.Use(ar.limiter.Middleware())
	{
		limited.POST("/register", ar.registerHandler)
		limited.POST("/login", ar.loginHandler)
		limited.POST("/reset", ar.resetPasswordHandler)
	}
	r.POST("/auth/logout", ar.logoutHandler)
	r.GET("/auth/session", ar.sessionHandler)

	// OAuth routes
	r.GET("/auth/oauth/:provider", ar.authHandler)
	r.GET("/auth/oauth/:provider/callback", ar.authCallbackHandler)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// signIn replaces the cookie state with a verified profile.
func (ar *AuthRoutes) signIn(c *gin.Context, user *models.User, sess *auth.Session) error {
	st := &auth.SessionState{Checked: true, UserID: user.ID, Email: user.Email}
	if sess != nil {
		st.Attach(sess)
	}
	return saveState(c, st)
}

func (ar *AuthRoutes) registerHandler(c *gin.Context) {
	var req auth.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, sess, err := ar.server.GetAuth().Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, ar.server, err)
		return
	}

	// Without an access token the provider wants the email confirmed first.
	confirm := sess == nil || sess.AccessToken == ""
	if !confirm {
		if err := ar.signIn(c, user, sess); err != nil {
			respondError(c, ar.server, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "confirmationRequired": confirm})
}

func (ar *AuthRoutes) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, sess, err := ar.server.GetAuth().Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, ar.server, err)
		return
	}
	if err := ar.signIn(c, user, sess); err != nil {
		respondError(c, ar.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (ar *AuthRoutes) resetPasswordHandler(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := ar.server.GetAuth().ResetPassword(c.Request.Context(), req.Email); err != nil {
		respondError(c, ar.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "パスワード再設定メールを送信しました。"})
}

func (ar *AuthRoutes) logoutHandler(c *gin.Context) {
	st := loadState(c)
	ar.server.GetAuth().Logout(c.Request.Context(), st)
	if err := saveState(c, st); err != nil {
		respondError(c, ar.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// sessionHandler reports the signed-in profile. Clients pass initial=true
// on startup so that the check counts as the first one of their session.
func (ar *AuthRoutes) sessionHandler(c *gin.Context) {
	st := loadState(c)
	if c.Query("initial") == "true" {
		st.Checked = false
	}

	user, err := NewMiddleware(ar.server).reconcile(c, st)
	if err != nil {
		respondError(c, ar.server, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user})
}

func (ar *AuthRoutes) authHandler(c *gin.Context) {
	provider := c.Param("provider")

	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = "/auth/oauth/" + provider

	q := req.URL.Query()
	q.Add("provider", provider)
	req.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Writer, req)
}

func (ar *AuthRoutes) authCallbackHandler(c *gin.Context) {
	provider := c.Param("provider")

	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = "/auth/oauth/" + provider + "/callback"

	q := req.URL.Query()
	q.Add("provider", provider)
	req.URL.RawQuery = q.Encode()

	gothUser, err := gothic.CompleteUserAuth(c.Writer, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	redirectURL := strings.TrimRight(ar.server.GetConfig().FrontendURL, "/")

	// OAuth only signs in existing profiles; registration goes through the form.
	user, err := ar.server.GetAuth().LoginWithEmail(c.Request.Context(), gothUser.Email)
	if err != nil {
		ar.server.GetLogger().WithError(err).WithField("provider", provider).Info("oauth sign-in refused")
		c.Redirect(http.StatusTemporaryRedirect, redirectURL+"/login?error="+url.QueryEscape(auth.UserMessage(err)))
		return
	}
	if err := ar.signIn(c, user, nil); err != nil {
		respondError(c, ar.server, err)
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, redirectURL+"/")
}
