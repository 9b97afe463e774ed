package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
	"bizmatch/internal/workflow"
)

type UserRoutes struct {
	server ServerInterface
}

func NewUserRoutes(server ServerInterface) *UserRoutes {
	return &UserRoutes{server: server}
}

func (ur *UserRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(ur.server)

	// User routes
	r.GET("/users/me", middleware.AuthMiddleware(), ur.meHandler)
	r.GET("/users/:id", middleware.AuthMiddleware(), middleware.ProfileMiddleware(), ur.getUserHandler)
	r.PATCH("/users/:id", middleware.AuthMiddleware(), middleware.ProfileMiddleware(), ur.updateProfileHandler)

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/partners", ur.listPartnersHandler)
		admin.POST("/users/:id/approve", ur.approveHandler)
		admin.POST("/users/:id/reject", ur.rejectHandler)
	}
}

func (ur *UserRoutes) meHandler(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	c.JSON(http.StatusOK, gin.H{"user": user, "authenticated": true})
}

func (ur *UserRoutes) getUserHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	user, err := ur.server.GetWorkflow().GetUser(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, ur.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (ur *UserRoutes) updateProfileHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.ProfileInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, err := ur.server.GetWorkflow().UpdateProfile(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, ur.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (ur *UserRoutes) listPartnersHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var status models.UserStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseUserStatus(raw)
		if err != nil {
			respondError(c, ur.server, err)
			return
		}
		status = parsed
	}

	partners, err := ur.server.GetWorkflow().ListPartners(c.Request.Context(), actor, status)
	if err != nil {
		respondError(c, ur.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partners": partners, "total": len(partners)})
}

func (ur *UserRoutes) approveHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	user, err := ur.server.GetWorkflow().ApproveUser(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, ur.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (ur *UserRoutes) rejectHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	user, err := ur.server.GetWorkflow().RejectUser(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, ur.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
