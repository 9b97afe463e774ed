package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/auth"
	"bizmatch/internal/database"
	"bizmatch/internal/models"
	"bizmatch/internal/navigation"
	"bizmatch/internal/storage"
	"bizmatch/internal/toast"
	"bizmatch/internal/workflow"
)

var authErrors = []error{
	auth.ErrDuplicateIdentity,
	auth.ErrWeakCredential,
	auth.ErrInvalidCredential,
	auth.ErrRateLimited,
	auth.ErrInvalidEmail,
	auth.ErrNetwork,
	auth.ErrProfileNotFound,
	auth.ErrAccessDenied,
	auth.ErrNotSignedIn,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrForbidden),
		errors.Is(err, workflow.ErrPartnerNotActive),
		errors.Is(err, auth.ErrAccessDenied),
		errors.Is(err, navigation.ErrViewDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, toast.ErrNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicateApplication),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, database.ErrConflict),
		errors.Is(err, auth.ErrDuplicateIdentity):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, models.ErrInvalidValue),
		errors.Is(err, navigation.ErrUnknownView),
		errors.Is(err, auth.ErrWeakCredential),
		errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredential),
		errors.Is(err, auth.ErrNotSignedIn),
		errors.Is(err, auth.ErrProfileNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, workflow.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, auth.ErrNetwork):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func isAuthError(err error) bool {
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// respondError writes err with its mapped status. Auth failures carry the
// user-facing message and the recovery action, internal errors are logged
// and hidden.
func respondError(c *gin.Context, server ServerInterface, err error) {
	status := statusFor(err)
	switch {
	case isAuthError(err):
		body := gin.H{"error": auth.UserMessage(err)}
		if recovery := auth.Recovery(err); recovery != "" {
			body["recovery"] = recovery
		}
		c.AbortWithStatusJSON(status, body)
	case status == http.StatusInternalServerError:
		server.GetLogger().WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "Internal server error"})
	default:
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
	}
}

func bindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
}
