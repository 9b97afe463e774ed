package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
)

type NotificationRoutes struct {
	server ServerInterface
}

func NewNotificationRoutes(server ServerInterface) *NotificationRoutes {
	return &NotificationRoutes{server: server}
}

func (nr *NotificationRoutes) RegisterRoutes(r *gin.Engine) {
	// Create middleware instance
	middleware := NewMiddleware(nr.server)

	// Notification routes
	r.GET("/notifications", middleware.AuthMiddleware(), nr.getUserNotificationsHandler)
	r.POST("/notifications/read-all", middleware.AuthMiddleware(), nr.markAllAsReadHandler)
	r.POST("/notifications/:id/read", middleware.AuthMiddleware(), nr.markNotificationAsReadHandler)
}

// getUserNotificationsHandler returns the authenticated user's notifications, newest first
func (nr *NotificationRoutes) getUserNotificationsHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	// Get limit from query parameter, default to 50
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 50
	}

	// Cap the limit to prevent excessive queries
	if limit > 100 {
		limit = 100
	}

	notifications, err := nr.server.GetNotifier().List(c.Request.Context(), user.ID, limit)
	if err != nil {
		respondError(c, nr.server, err)
		return
	}

	unread := 0
	for _, n := range notifications {
		if !n.IsRead {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "unread": unread})
}

// markNotificationAsReadHandler marks a specific notification as read
func (nr *NotificationRoutes) markNotificationAsReadHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	err := nr.server.GetNotifier().MarkRead(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, nr.server, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (nr *NotificationRoutes) markAllAsReadHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	n, err := nr.server.GetNotifier().MarkAllRead(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, nr.server, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notifications marked as read", "updated": n})
}
