package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/marketplace/internal/auth"
	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/progress"
	"github.com/coursemart/marketplace/internal/store"
)

// bind decodes a JSON body and runs its validate tags. It writes the 400
// response itself and reports whether the handler should continue.
func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) userData(c *gin.Context) {
	user, err := store.GetUser(c.Request.Context(), s.db, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"user": user})
}

func (s *Server) enrolledCourses(c *gin.Context) {
	courses, err := store.ListEnrolledCourses(c.Request.Context(), s.db, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"enrolledCourses": courses})
}

type purchaseRequest struct {
	CourseID string `json:"courseId" validate:"required"`
}

// checkoutOrigin picks the frontend base the gateway redirects back to. The
// Origin header is trusted only when it is the configured client origin.
func (s *Server) checkoutOrigin(c *gin.Context) string {
	origin := c.GetHeader("Origin")
	allowed := s.cfg.Server.AllowedOrigin
	if origin == "" || (allowed != "*" && origin != allowed) {
		return s.cfg.Server.DefaultOrigin
	}
	return origin
}

func (s *Server) purchaseCourse(c *gin.Context) {
	var req purchaseRequest
	if !s.bind(c, &req) {
		return
	}

	url, err := s.purchases.InitiatePurchase(c.Request.Context(), auth.UserID(c), req.CourseID, s.checkoutOrigin(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"session_url": url})
}

func (s *Server) listPurchases(c *gin.Context) {
	cursor := c.Query("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid cursor")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	page, err := store.ListPurchasesCursor(c.Request.Context(), s.db, auth.UserID(c), cursor, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{
		"purchases":  page.Items,
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

type progressRequest struct {
	CourseID  string `json:"courseId" validate:"required"`
	LectureID string `json:"lectureId" validate:"required"`
}

func (s *Server) updateProgress(c *gin.Context) {
	var req progressRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	user, err := store.GetUser(ctx, s.db, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !user.IsEnrolled(req.CourseID) {
		s.fail(c, fmt.Errorf("course %s: %w", req.CourseID, database.ErrNotEnrolled))
		return
	}

	course, err := store.GetCourse(ctx, s.db, req.CourseID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !contains(curriculum.LectureIDs(course.Content), req.LectureID) {
		respondError(c, http.StatusNotFound, "Lecture not found")
		return
	}

	prior, err := store.GetProgress(ctx, s.db, userID, req.CourseID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if prior != nil && contains(prior.LectureCompleted, req.LectureID) {
		respondJSON(c, http.StatusOK, gin.H{
			"message":      "Lecture Already Completed",
			"progressData": progress.BuildReport(course, prior),
		})
		return
	}

	updated, err := store.MarkLectureCompleted(ctx, s.db, userID, req.CourseID, req.LectureID)
	if err != nil {
		s.fail(c, err)
		return
	}

	report := progress.BuildReport(course, updated)
	if report.Status == progress.StatusCompleted && !updated.Completed {
		if err := store.SetCourseCompleted(ctx, s.db, userID, req.CourseID, true); err != nil {
			s.fail(c, err)
			return
		}
	}

	respondJSON(c, http.StatusOK, gin.H{"message": "Progress Updated", "progressData": report})
}

type courseRef struct {
	CourseID string `json:"courseId" validate:"required"`
}

func (s *Server) getProgress(c *gin.Context) {
	var req courseRef
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	course, err := store.GetCourse(ctx, s.db, req.CourseID)
	if err != nil {
		s.fail(c, err)
		return
	}
	p, err := store.GetProgress(ctx, s.db, auth.UserID(c), req.CourseID)
	if err != nil {
		s.fail(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"progressData": progress.BuildReport(course, p)})
}

type ratingRequest struct {
	CourseID string `json:"courseId" validate:"required"`
	Rating   int    `json:"rating" validate:"min=1,max=5"`
}

func (s *Server) addRating(c *gin.Context) {
	var req ratingRequest
	if !s.bind(c, &req) {
		return
	}

	if err := store.AddRating(c.Request.Context(), s.db, req.CourseID, auth.UserID(c), req.Rating); err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"message": "Rating added"})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
