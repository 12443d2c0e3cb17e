package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/auth"
	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/media"
	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/store"
)

const maxThumbnailBytes = 5 << 20

type courseInput struct {
	Title       string           `json:"courseTitle" validate:"required,max=200"`
	Description string           `json:"courseDescription" validate:"max=20000"`
	Price       decimal.Decimal  `json:"coursePrice"`
	Discount    int              `json:"discount" validate:"min=0,max=100"`
	IsPublished *bool            `json:"isPublished"`
	Content     []models.Chapter `json:"courseContent"`
}

// addCourse accepts a multipart form: courseData holds the course JSON and
// image the thumbnail. The thumbnail is required once a media host is set.
func (s *Server) addCourse(c *gin.Context) {
	ctx := c.Request.Context()
	educatorID := auth.UserID(c)

	var in courseInput
	if err := json.Unmarshal([]byte(c.PostForm("courseData")), &in); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid course data")
		return
	}
	if err := s.validate.Struct(in); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if in.Price.IsNegative() {
		respondError(c, http.StatusBadRequest, "Course price must not be negative")
		return
	}

	content := curriculum.Normalize(in.Content)
	if err := curriculum.Validate(content); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	thumbnailURL, ok := s.uploadThumbnail(c, educatorID)
	if !ok {
		return
	}

	published := true
	if in.IsPublished != nil {
		published = *in.IsPublished
	}

	course, err := store.CreateCourse(ctx, s.db, store.CreateCourseRequest{
		EducatorID:   educatorID,
		Title:        in.Title,
		Description:  in.Description,
		ThumbnailURL: thumbnailURL,
		Price:        in.Price,
		Discount:     in.Discount,
		IsPublished:  published,
		Content:      content,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, gin.H{"message": "Course Added", "course": course})
}

// uploadThumbnail writes the response itself when it returns false.
func (s *Server) uploadThumbnail(c *gin.Context, educatorID string) (string, bool) {
	header, err := c.FormFile("image")
	if err != nil {
		if s.uploader != nil {
			respondError(c, http.StatusBadRequest, "Thumbnail Not Attached")
			return "", false
		}
		return "", true
	}
	if s.uploader == nil {
		respondError(c, http.StatusServiceUnavailable, "Thumbnail uploads are not configured")
		return "", false
	}
	if header.Size > maxThumbnailBytes {
		respondError(c, http.StatusBadRequest, "Thumbnail is too large")
		return "", false
	}

	f, err := header.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open thumbnail: %w", err))
		return "", false
	}
	defer f.Close()

	data, err := media.PrepareThumbnail(f, s.cfg.Media.ThumbnailWidth, s.cfg.Media.ThumbnailHeight)
	if err != nil {
		s.fail(c, err)
		return "", false
	}

	url, err := s.uploader.Upload(c.Request.Context(), media.ThumbnailKey(educatorID), bytes.NewReader(data), "image/jpeg")
	if err != nil {
		s.fail(c, fmt.Errorf("upload thumbnail: %w", err))
		return "", false
	}
	return url, true
}

func (s *Server) educatorCourses(c *gin.Context) {
	courses, err := store.ListCoursesByEducator(c.Request.Context(), s.db, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"courses": courses})
}

func (s *Server) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	educatorID := auth.UserID(c)

	courses, err := store.ListCoursesByEducator(ctx, s.db, educatorID)
	if err != nil {
		s.fail(c, err)
		return
	}
	earnings, err := store.EducatorEarnings(ctx, s.db, educatorID)
	if err != nil {
		s.fail(c, err)
		return
	}
	students, err := store.ListEnrolledStudents(ctx, s.db, educatorID)
	if err != nil {
		s.fail(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"dashboardData": gin.H{
		"totalEarnings":        earnings,
		"enrolledStudentsData": students,
		"totalCourses":         len(courses),
	}})
}

func (s *Server) enrolledStudents(c *gin.Context) {
	students, err := store.ListEnrolledStudents(c.Request.Context(), s.db, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"enrolledStudents": students})
}

// Curriculum edits carry the course version the educator last read. A stale
// version is rejected with 409 so concurrent edits never overwrite each other.

type chapterRequest struct {
	Version int    `json:"version" validate:"min=1"`
	Title   string `json:"chapterTitle" validate:"required,max=200"`
}

type chapterReplaceRequest struct {
	Version int              `json:"version" validate:"min=1"`
	Title   string           `json:"chapterTitle" validate:"required,max=200"`
	Content []models.Lecture `json:"chapterContent" validate:"dive"`
}

type lectureRequest struct {
	Version int            `json:"version" validate:"min=1"`
	Lecture models.Lecture `json:"lecture"`
}

func pathIndex(c *gin.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an index", errValidation, name)
	}
	return n, nil
}

// ownedCourse loads the course in the path and checks the caller owns it.
// Foreign courses are reported as missing.
func (s *Server) ownedCourse(c *gin.Context) (*models.Course, bool) {
	id := c.Param("id")
	course, err := store.GetCourse(c.Request.Context(), s.db, id)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	if course.EducatorID != auth.UserID(c) {
		s.fail(c, fmt.Errorf("course %s: %w", id, database.ErrCourseNotFound))
		return nil, false
	}
	return course, true
}

// saveContent validates the edited tree and stores it if version is current.
func (s *Server) saveContent(c *gin.Context, course *models.Course, content []models.Chapter, version int) {
	if err := curriculum.Validate(content); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	newVersion, err := store.UpdateCourseContentOptimistic(c.Request.Context(), s.db, course.ID, content, version)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"courseContent": content, "version": newVersion})
}

func (s *Server) addChapter(c *gin.Context) {
	var req chapterRequest
	if !s.bind(c, &req) {
		return
	}
	course, ok := s.ownedCourse(c)
	if !ok {
		return
	}
	s.saveContent(c, course, curriculum.AddChapter(course.Content, req.Title), req.Version)
}

func (s *Server) replaceChapter(c *gin.Context) {
	var req chapterReplaceRequest
	if !s.bind(c, &req) {
		return
	}
	index, err := pathIndex(c, "chapter")
	if err != nil {
		s.fail(c, err)
		return
	}
	course, ok := s.ownedCourse(c)
	if !ok {
		return
	}

	content, err := curriculum.ReplaceChapter(course.Content, index, models.Chapter{Title: req.Title, Lectures: req.Content})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveContent(c, course, content, req.Version)
}

func (s *Server) removeChapter(c *gin.Context) {
	version, err := queryVersion(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	index, err := pathIndex(c, "chapter")
	if err != nil {
		s.fail(c, err)
		return
	}
	course, ok := s.ownedCourse(c)
	if !ok {
		return
	}

	content, err := curriculum.RemoveChapter(course.Content, index)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveContent(c, course, content, version)
}

func (s *Server) addLecture(c *gin.Context) {
	var req lectureRequest
	if !s.bind(c, &req) {
		return
	}
	if err := curriculum.ValidateLecture(req.Lecture); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	index, err := pathIndex(c, "chapter")
	if err != nil {
		s.fail(c, err)
		return
	}
	course, ok := s.ownedCourse(c)
	if !ok {
		return
	}

	content, err := curriculum.AddLecture(course.Content, index, req.Lecture)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveContent(c, course, content, req.Version)
}

func (s *Server) replaceLecture(c *gin.Context) {
	var req lectureRequest
	if !s.bind(c, &req) {
		return
	}
	if err := curriculum.ValidateLecture(req.Lecture); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	chapter, err := pathIndex(c, "chapter")
	if err != nil {
		s.fail(c, err)
		return
	}
	lecture, err := pathIndex(c, "lecture")
	if err != nil {
		s.fail(c, err)
		return
	}
	course, ok := s.ownedCourse(c)
	if !ok {
		return
	}

	content, err := curriculum.ReplaceLecture(course.Content, chapter, lecture, req.Lecture)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveContent(c, course, content, req.Version)
}

func (s *Server) removeLecture(c *gin.Context) {
	version, err := queryVersion(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	chapter, err := pathIndex(c, "chapter")
	if err != nil {
		s.fail(c, err)
		return
	}
	lecture, err := pathIndex(c, "lecture")
	if err != nil {
		s.fail(c, err)
		return
	}
	course, ok := s.ownedCourse(c)
	if !ok {
		return
	}

	content, err := curriculum.RemoveLecture(course.Content, chapter, lecture)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveContent(c, course, content, version)
}

func queryVersion(c *gin.Context) (int, error) {
	v, err := strconv.Atoi(c.Query("version"))
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%w: version query parameter is required", errValidation)
	}
	return v, nil
}
