package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
	"bizmatch/internal/workflow"
)

type MessageRoutes struct {
	server ServerInterface
}

func NewMessageRoutes(server ServerInterface) *MessageRoutes {
	return &MessageRoutes{server: server}
}

func (mr *MessageRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(mr.server)

	messages := r.Group("/messages")
	messages.Use(middleware.AuthMiddleware(), middleware.ActiveMiddleware())
	{
		messages.GET("", mr.listMessagesHandler)
		messages.POST("", mr.sendMessageHandler)
		messages.POST("/:id/read", mr.markReadHandler)
	}
	r.GET("/projects/:id/messages", middleware.AuthMiddleware(), middleware.ActiveMiddleware(), mr.projectThreadHandler)
}

// listMessagesHandler returns the conversation with ?peer= or, without it,
// the direct messages addressed to the user.
func (mr *MessageRoutes) listMessagesHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var (
		messages []models.Message
		err      error
	)
	if peer := c.Query("peer"); peer != "" {
		messages, err = mr.server.GetWorkflow().Conversation(c.Request.Context(), actor, peer)
	} else {
		messages, err = mr.server.GetWorkflow().Inbox(c.Request.Context(), actor)
	}
	if err != nil {
		respondError(c, mr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": len(messages)})
}

func (mr *MessageRoutes) sendMessageHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.MessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	msg, err := mr.server.GetWorkflow().SendMessage(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, mr.server, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (mr *MessageRoutes) markReadHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	if err := mr.server.GetWorkflow().MarkMessageRead(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, mr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message marked as read"})
}

func (mr *MessageRoutes) projectThreadHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	messages, err := mr.server.GetWorkflow().ProjectThread(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, mr.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": len(messages)})
}
