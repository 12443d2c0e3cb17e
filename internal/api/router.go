// Package api exposes the marketplace over HTTP with gin.
package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coursemart/marketplace/internal/auth"
	"github.com/coursemart/marketplace/internal/config"
	"github.com/coursemart/marketplace/internal/media"
	"github.com/coursemart/marketplace/internal/purchase"
)

// UserEventVerifier checks identity-provider user webhooks.
type UserEventVerifier interface {
	Verify(payload []byte, headers http.Header) (*auth.UserEvent, error)
}

// Deps wires the router. UserSync and Uploader may be nil, which disables
// the user webhook and thumbnail uploads.
type Deps struct {
	DB        *sql.DB
	Purchases *purchase.Service
	Verifier  auth.TokenVerifier
	UserSync  UserEventVerifier
	Uploader  media.Uploader
	Gatherer  prometheus.Gatherer
	Config    *config.Config
	Log       *slog.Logger
}

type Server struct {
	db        *sql.DB
	purchases *purchase.Service
	userSync  UserEventVerifier
	uploader  media.Uploader
	cfg       *config.Config
	log       *slog.Logger
	validate  *validator.Validate
}

func NewRouter(d Deps) *gin.Engine {
	s := &Server{
		db:        d.DB,
		purchases: d.Purchases,
		userSync:  d.UserSync,
		uploader:  d.Uploader,
		cfg:       d.Config,
		log:       d.Log.With(slog.String("component", "api")),
		validate:  validator.New(),
	}

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.log), observeDuration(), cors(d.Config.Server.AllowedOrigin))

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "API Working!") })
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.POST("/clerk", s.userWebhook)
	r.POST(d.Config.Payment.WebhookPath, s.paymentWebhook)

	course := r.Group("/api/course")
	course.GET("/all", s.listCourses)
	course.GET("/:id", s.getCourse)

	user := r.Group("/api/user", auth.RequireUser(d.Verifier))
	user.GET("/data", s.userData)
	user.GET("/enrolled-courses", s.enrolledCourses)
	user.POST("/purchase", s.purchaseCourse)
	user.GET("/purchases", s.listPurchases)
	user.POST("/update-course-progress", s.updateProgress)
	user.POST("/get-course-progress", s.getProgress)
	user.POST("/add-rating", s.addRating)

	educator := r.Group("/api/educator", auth.RequireUser(d.Verifier), auth.RequireEducator())
	educator.POST("/add-course", s.addCourse)
	educator.GET("/courses", s.educatorCourses)
	educator.GET("/dashboard", s.dashboard)
	educator.GET("/enrolled-students", s.enrolledStudents)
	educator.POST("/courses/:id/chapters", s.addChapter)
	educator.PUT("/courses/:id/chapters/:chapter", s.replaceChapter)
	educator.DELETE("/courses/:id/chapters/:chapter", s.removeChapter)
	educator.POST("/courses/:id/chapters/:chapter/lectures", s.addLecture)
	educator.PUT("/courses/:id/chapters/:chapter/lectures/:lecture", s.replaceLecture)
	educator.DELETE("/courses/:id/chapters/:chapter/lectures/:lecture", s.removeLecture)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		s.log.Error("health check failed", slog.Any("error", err))
		respondError(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
