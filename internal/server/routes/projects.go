package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
	"bizmatch/internal/workflow"
)

type ProjectRoutes struct {
	server ServerInterface
}

func NewProjectRoutes(server ServerInterface) *ProjectRoutes {
	return &ProjectRoutes{server: server}
}

func (pr *ProjectRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(pr.server)

	projects := r.Group("/projects")
	projects.Use(middleware.AuthMiddleware(), middleware.ActiveMiddleware())
	{
		projects.GET("", pr.listProjectsHandler)
		projects.POST("", pr.createProjectHandler)
		projects.GET("/:id", pr.getProjectHandler)
		projects.PATCH("/:id", pr.updateProjectHandler)
		projects.POST("/:id/apply", pr.applyHandler)
		projects.POST("/:id/hire", pr.hireHandler)
		projects.POST("/:id/complete", pr.completeHandler)
		projects.POST("/:id/cancel", pr.cancelHandler)
		projects.GET("/:id/applications", pr.listApplicationsHandler)
	}

	r.GET("/applications", middleware.AuthMiddleware(), middleware.ActiveMiddleware(), pr.myApplicationsHandler)
	r.POST("/applications/:id/read", middleware.AuthMiddleware(), middleware.AdminMiddleware(), pr.markApplicationReadHandler)
}

func (pr *ProjectRoutes) listProjectsHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var status models.ProjectStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseProjectStatus(raw)
		if err != nil {
			respondError(c, pr.server, err)
			return
		}
		status = parsed
	}

	projects, err := pr.server.GetWorkflow().ListProjects(c.Request.Context(), actor, status)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}

func (pr *ProjectRoutes) createProjectHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.ProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	project, err := pr.server.GetWorkflow().CreateProject(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

func (pr *ProjectRoutes) getProjectHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	project, err := pr.server.GetWorkflow().GetProject(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (pr *ProjectRoutes) updateProjectHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.ProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	project, err := pr.server.GetWorkflow().UpdateProject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (pr *ProjectRoutes) applyHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.ApplyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.ProjectID = c.Param("id")

	app, err := pr.server.GetWorkflow().Apply(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"application": app})
}

func (pr *ProjectRoutes) hireHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.HireInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.ProjectID = c.Param("id")

	res, err := pr.server.GetWorkflow().Hire(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (pr *ProjectRoutes) completeHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.ReviewInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	project, err := pr.server.GetWorkflow().CompleteProject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (pr *ProjectRoutes) cancelHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	project, err := pr.server.GetWorkflow().CancelProject(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (pr *ProjectRoutes) listApplicationsHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	apps, err := pr.server.GetWorkflow().ListApplications(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps, "total": len(apps)})
}

func (pr *ProjectRoutes) myApplicationsHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	apps, err := pr.server.GetWorkflow().MyApplications(c.Request.Context(), actor)
	if err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps, "total": len(apps)})
}

func (pr *ProjectRoutes) markApplicationReadHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	if err := pr.server.GetWorkflow().MarkApplicationRead(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, pr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Application marked as read"})
}
