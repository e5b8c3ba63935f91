// Package server exposes the assessment flow over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/analysis"
	"github.com/Skufu/veincheck/internal/auth"
	"github.com/Skufu/veincheck/internal/screening"
	"github.com/Skufu/veincheck/internal/session"
	"github.com/Skufu/veincheck/internal/triage"
)

// multipart framing on top of the photo itself
const uploadOverhead = 1 << 20

type Options struct {
	Service        *screening.Service
	Auth           *auth.Authenticator
	Logger         *logrus.Logger
	StaticRoot     string
	MaxUploadBytes int64
	AllowOrigins   []string
}

type handler struct {
	svc       *screening.Service
	auth      *auth.Authenticator
	log       *logrus.Logger
	maxUpload int64
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}
	h := &handler{svc: opts.Service, auth: opts.Auth, log: opts.Logger, maxUpload: opts.MaxUploadBytes}

	router := gin.New()
	router.Use(
		correlationID(),
		requestLogger(opts.Logger),
		gin.Recovery(),
		limitBodySize(opts.MaxUploadBytes+uploadOverhead),
		cors.New(cors.Config{
			AllowOrigins:  opts.AllowOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Disposition", "X-Correlation-ID"},
			MaxAge:        12 * time.Hour,
		}),
	)

	if opts.StaticRoot != "" {
		router.Static("/static", opts.StaticRoot)
		router.StaticFile("/", filepath.Join(opts.StaticRoot, "index.html"))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", h.ready)

	api := router.Group("/api")
	api.GET("/questions", h.questions)
	api.POST("/assess", h.assess)

	sessions := api.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getSession)
	sessions.POST("/:id/patient", h.submitPatient)
	sessions.POST("/:id/answers", h.submitAnswers)
	sessions.POST("/:id/photo", h.submitPhoto)
	sessions.POST("/:id/skip-photo", h.skipPhoto)
	sessions.POST("/:id/back", h.back)
	sessions.POST("/:id/restart", h.restart)
	sessions.GET("/:id/results", h.results)
	sessions.GET("/:id/report.pdf", h.reportPDF)
	sessions.POST("/:id/admin", requireAdmin(opts.Auth), h.enterAdmin)
	sessions.DELETE("/:id/admin", h.exitAdmin)

	admin := api.Group("/admin")
	admin.POST("/login", h.login)
	admin.GET("/assessments", requireAdmin(opts.Auth), h.listAssessments)
	admin.GET("/assessments/export.csv", requireAdmin(opts.Auth), h.exportAssessments)

	return router
}

func (h *handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "degraded",
			"storage": "unhealthy: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": "ok"})
}

// respondError maps domain errors onto status codes. Anything unrecognised
// is a 500 with no detail.
func (h *handler) respondError(c *gin.Context, err error) {
	var (
		verr     *triage.ValidationError
		terr     *session.TransitionError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "details": verr.Fields})
	case errors.Is(err, analysis.ErrInvalidImage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "validation_failed",
			"details": []triage.FieldError{{Field: "image", Message: err.Error()}},
		})
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.As(err, &terr):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "state": terr.From, "message": terr.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "internal_error",
			"correlation_id": c.GetString(correlationKey),
		})
	}
}
