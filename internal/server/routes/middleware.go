package routes

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"bizmatch/internal/auth"
	"bizmatch/internal/models"
	"bizmatch/internal/notify"
	"bizmatch/internal/workflow"
)

const sessionAuthKey = "auth"

type Middleware struct {
	server ServerInterface
}

func NewMiddleware(server ServerInterface) *Middleware {
	return &Middleware{server: server}
}

// loadState reads the auth state kept in the cookie session. A missing or
// unreadable value starts from an empty state.
func loadState(c *gin.Context) *auth.SessionState {
	st := &auth.SessionState{}
	raw, _ := sessions.Default(c).Get(sessionAuthKey).(string)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), st); err != nil {
			return &auth.SessionState{}
		}
	}
	return st
}

func saveState(c *gin.Context, st *auth.SessionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	session := sessions.Default(c)
	session.Set(sessionAuthKey, string(data))
	return session.Save()
}

// reconcile runs the session check of the bridge against the cookie state
// and persists whatever the check changed.
func (m *Middleware) reconcile(c *gin.Context, st *auth.SessionState) (*models.User, error) {
	bridge := m.server.GetAuth()
	ctx := c.Request.Context()

	ev := bridge.Observe(ctx, st)
	user, err := bridge.Reconcile(ctx, st, ev)
	if saveErr := saveState(c, st); saveErr != nil {
		m.server.GetLogger().WithError(saveErr).Warn("failed to save session")
	}
	return user, err
}

func (m *Middleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.reconcile(c, loadState(c))
		if err != nil {
			respondError(c, m.server, err)
			return
		}
		if user == nil {
			respondError(c, m.server, auth.ErrNotSignedIn)
			return
		}

		c.Set("user", user) // Store user object in context
		c.Request = c.Request.WithContext(notify.WithActor(c.Request.Context(), user.ID))
		c.Next()
	}
}

// AdminMiddleware lets only admins through. It must run after AuthMiddleware.
func (m *Middleware) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*models.User)
		if !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// ActiveMiddleware stops pending and rejected partners, who may only reach
// their own profile. It must run after AuthMiddleware.
func (m *Middleware) ActiveMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*models.User)
		if user.IsRestricted() {
			respondError(c, m.server, workflow.ErrPartnerNotActive)
			return
		}
		c.Next()
	}
}

// ProfileMiddleware is ActiveMiddleware for /users/:id, letting restricted
// partners through to their own profile.
func (m *Middleware) ProfileMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*models.User)
		if user.IsRestricted() && c.Param("id") != user.ID {
			respondError(c, m.server, workflow.ErrPartnerNotActive)
			return
		}
		c.Next()
	}
}

// RateLimiter throttles requests per client IP with a token bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst. A
// non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, key)
		}
	}
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": auth.UserMessage(auth.ErrRateLimited)})
			return
		}
		c.Next()
	}
}
