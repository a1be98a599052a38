package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"fieldscan/internal/handler"
	"fieldscan/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	logger *slog.Logger,
	allowedOrigins []string,
	extractionH *handler.ExtractionHandler,
	templateH *handler.TemplateHandler,
	healthH *handler.HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(allowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	v1 := r.Group("/api/v1")

	extractions := v1.Group("/extractions")
	extractions.POST("", extractionH.Extract)
	extractions.POST("/resume", extractionH.Resume)

	v1.POST("/detections", extractionH.Detect)

	templates := v1.Group("/templates")
	templates.POST("", templateH.Confirm)
	templates.GET("", templateH.List)
	templates.POST("/import", templateH.Import)
	templates.GET("/export", templateH.Export)

	return r
}
