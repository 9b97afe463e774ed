package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
)

type ToastRoutes struct {
	server ServerInterface
}

func NewToastRoutes(server ServerInterface) *ToastRoutes {
	return &ToastRoutes{server: server}
}

func (tr *ToastRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(tr.server)

	r.GET("/toasts", middleware.AuthMiddleware(), tr.listToastsHandler)
	r.DELETE("/toasts/:id", middleware.AuthMiddleware(), tr.dismissToastHandler)
}

func (tr *ToastRoutes) listToastsHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	toasts, err := tr.server.GetToasts().List(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, tr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"toasts": toasts})
}

func (tr *ToastRoutes) dismissToastHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)

	if err := tr.server.GetToasts().Dismiss(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		respondError(c, tr.server, err)
		return
	}
	c.Status(http.StatusNoContent)
}
