package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
	"bizmatch/internal/navigation"
)

const sessionNavKey = "nav"

type NavigationRoutes struct {
	server ServerInterface
}

func NewNavigationRoutes(server ServerInterface) *NavigationRoutes {
	return &NavigationRoutes{server: server}
}

func (nr *NavigationRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(nr.server)

	r.GET("/navigation", middleware.AuthMiddleware(), nr.screenHandler)
	r.POST("/navigation", middleware.AuthMiddleware(), nr.navigateHandler)
}

type navigationRequest struct {
	// Action is one of navigate, profile, back or follow.
	Action         string            `json:"action" binding:"required"`
	View           navigation.View   `json:"view"`
	Params         map[string]string `json:"params"`
	ProfileID      string            `json:"profileId"`
	Link           models.Link       `json:"link"`
	NotificationID string            `json:"notificationId"`
}

func (nr *NavigationRoutes) controller(c *gin.Context, user *models.User) *navigation.Controller {
	raw, _ := sessions.Default(c).Get(sessionNavKey).(string)
	return navigation.Decode(user, []byte(raw))
}

func (nr *NavigationRoutes) save(c *gin.Context, ctrl *navigation.Controller) error {
	data, err := ctrl.Encode()
	if err != nil {
		return err
	}
	session := sessions.Default(c)
	session.Set(sessionNavKey, string(data))
	return session.Save()
}

func (nr *NavigationRoutes) screenHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	c.JSON(http.StatusOK, gin.H{"screen": nr.controller(c, user).Screen()})
}

func (nr *NavigationRoutes) navigateHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	var req navigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctrl := nr.controller(c, user)
	var err error
	switch req.Action {
	case "navigate":
		err = ctrl.Navigate(req.View, req.Params)
	case "profile":
		ctrl.ViewProfile(req.ProfileID)
	case "back":
		ctrl.Back()
	case "follow":
		err = nr.follow(c, user, ctrl, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown navigation action %q", req.Action)})
		return
	}
	if err != nil {
		respondError(c, nr.server, err)
		return
	}

	if err := nr.save(c, ctrl); err != nil {
		respondError(c, nr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screen": ctrl.Screen()})
}

// follow opens a notification's link. When the notification is named it is
// marked read and its own link is used.
func (nr *NavigationRoutes) follow(c *gin.Context, user *models.User, ctrl *navigation.Controller, req navigationRequest) error {
	link := req.Link
	if req.NotificationID != "" {
		n, err := nr.server.GetDB().Notifications.Get(c.Request.Context(), req.NotificationID)
		if err != nil {
			return err
		}
		if n.UserID != user.ID {
			return fmt.Errorf("notification %s: %w", req.NotificationID, models.ErrNotFound)
		}
		if err := nr.server.GetNotifier().MarkRead(c.Request.Context(), user.ID, n.ID); err != nil {
			return err
		}
		link = n.Link
	}
	return ctrl.Follow(link)
}
