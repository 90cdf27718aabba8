// Package handlers provides the HTTP endpoints of the support bot: the web
// chat API, the WhatsApp and voice webhooks, and the agent-facing escalation
// listing.
//
// This file defines the shared response utilities. All JSON error responses
// use one envelope with a stable machine-readable code:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "resource not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finvola/go-support-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all JSON
// endpoints. RequestID echoes the X-Request-ID header so client errors can be
// correlated with server logs.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>= 500)
// are additionally logged via the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for use by router setup (NoRoute,
// NoMethod fallbacks).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// xml writes a TwiML response body for the Twilio webhooks.
func xml(c *gin.Context, body string) {
	c.Header("Content-Type", "text/xml; charset=utf-8")
	c.String(http.StatusOK, body)
}
