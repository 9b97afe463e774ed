package routes

import (
	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
)

type RealtimeRoutes struct {
	server ServerInterface
}

func NewRealtimeRoutes(server ServerInterface) *RealtimeRoutes {
	return &RealtimeRoutes{server: server}
}

func (rr *RealtimeRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(rr.server)

	r.GET("/ws", middleware.AuthMiddleware(), middleware.ActiveMiddleware(), rr.websocketHandler)
}

// websocketHandler holds the request open for the lifetime of the socket.
func (rr *RealtimeRoutes) websocketHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	if err := rr.server.GetHub().Serve(c.Writer, c.Request, user); err != nil {
		// The upgrader has already replied to the client.
		rr.server.GetLogger().WithError(err).WithField("user_id", user.ID).Debug("websocket session not started")
	}
}
