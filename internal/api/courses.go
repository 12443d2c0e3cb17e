package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxPage keeps (page-1)*pageSize from overflowing int.
	maxPage = math.MaxInt32 / maxPageSize
)

func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	pageSize, _ = strconv.Atoi(c.Query("pageSize"))
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return page, pageSize
}

func (s *Server) listCourses(c *gin.Context) {
	page, pageSize := pageParams(c)

	result, err := store.ListPublishedCourses(c.Request.Context(), s.db, page, pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"courses":    result.Items,
		"total":      result.Total,
		"page":       result.Page,
		"pageSize":   result.PageSize,
		"totalPages": result.TotalPages,
	})
}

// getCourse serves the public course page. Lecture URLs are hidden unless the
// lecture is a free preview.
func (s *Server) getCourse(c *gin.Context) {
	id := c.Param("id")

	course, err := store.GetCourse(c.Request.Context(), s.db, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !course.IsPublished {
		s.fail(c, fmt.Errorf("course %s: %w", id, database.ErrCourseNotFound))
		return
	}

	summary := curriculum.Summarize(course)
	course.Content = curriculum.RedactForPublic(course.Content)
	course.EnrolledStudents = nil

	respondJSON(c, http.StatusOK, gin.H{"courseData": course, "summary": summary})
}
