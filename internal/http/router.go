// Package httpapi wires the HTTP transport (Gin) to the conversation state
// machine, the Twilio webhooks, middleware, and the agent-facing endpoints.
// It centralizes cross-cutting concerns: tracing, correlation IDs,
// logging/redaction, panic recovery, metrics, compression, rate limiting,
// CORS, and security headers.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/config"
	"github.com/finvola/go-support-backend/internal/http/handlers"
	"github.com/finvola/go-support-backend/internal/http/middleware"
)

// Deps carries the application collaborators the routes need. Main builds
// them once and injects them here; the router never constructs external
// clients itself.
type Deps struct {
	Bot   handlers.TurnService
	Voice handlers.VoiceDeps
}

// RegisterRoutes attaches all middleware and endpoints to the given engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics (+ /metrics endpoint)
//  7. Gzip (JSON responses; webhooks excluded, Twilio wants plain XML)
//  8. Rate limiter (per session/IP)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (256 KiB; chat payloads are tiny)
	r.Use(limitBody(256 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compress JSON responses; leave webhook XML and metrics alone
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics", "/webhooks"})))

	// 8) Token-bucket rate limiter per chat session / IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst,
		middleware.KeyBySessionOrIP("chat_session"))
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORS.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
			// The chat_session cookie must travel with browser requests.
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Bot, db, deps.Voice)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/chat", h.Chat)

		// Agent dashboard
		api.GET("/escalations", h.ListEscalations)
		api.GET("/sessions/:id/history", h.SessionHistory)
	}

	// Twilio webhooks
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/whatsapp", h.WhatsApp)

		hooks.POST("/voice/answer", h.VoiceAnswer)
		hooks.POST("/voice/language", h.VoiceLanguage)
		hooks.POST("/voice/confirm", h.VoiceConfirm)
		hooks.POST("/voice/support", h.VoiceSupport)
	}
}

// limitBody caps the request body size using http.MaxBytesReader; oversized
// bodies fail on the first downstream read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
