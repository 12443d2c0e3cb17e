package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/media"
	"github.com/coursemart/marketplace/internal/purchase"
)

var errValidation = errors.New("validation failed")

func respondJSON(c *gin.Context, status int, body gin.H) {
	body["success"] = true
	c.JSON(status, body)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, purchase.ErrNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrCourseNotFound),
		errors.Is(err, database.ErrPurchaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, purchase.ErrAlreadyEnrolled),
		errors.Is(err, database.ErrAlreadyEnrolled),
		errors.Is(err, database.ErrOptimisticLockFailed):
		return http.StatusConflict
	case errors.Is(err, database.ErrNotEnrolled):
		return http.StatusForbidden
	case errors.Is(err, errValidation),
		errors.Is(err, curriculum.ErrIndexOutOfRange),
		errors.Is(err, media.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, purchase.ErrGatewayUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail reports err to the client. Internal failures are logged and replaced
// by a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()

	switch {
	case errors.Is(err, database.ErrOptimisticLockFailed):
		message = "Course was modified by another request, reload and retry"
	case status == http.StatusBadGateway:
		message = "Payment provider is unavailable, please try again"
	case status == http.StatusInternalServerError:
		s.log.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.Any("error", err))
		message = "Internal server error"
	}

	respondError(c, status, message)
}
