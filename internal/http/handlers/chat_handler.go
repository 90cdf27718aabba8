// Web chat endpoint.
//
// POST /api/v1/chat drives one conversation turn. The browser is identified
// by the chat_session cookie (minted on first contact); the JSON contract is
// {message, action?} in, {response, auth_state, action_needed} out, where
// auth_state is the 0-3 verification progression and action_needed tells the
// front end which input widget to show next.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/bot"
	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/http/middleware"
)

// sessionCookie carries the web channel identity.
const (
	sessionCookie       = "chat_session"
	sessionCookieMaxAge = 60 * 60 * 24 // one day; conversation TTL is much shorter
)

// actionConnectAgent is the explicit escalation button the web UI sends.
const actionConnectAgent = "connect_agent"

// TurnService is the state-machine contract the HTTP layer consumes.
// Implementations must be safe for concurrent use and honor the context.
type TurnService interface {
	HandleTurn(ctx context.Context, ch domain.Channel, identity, text string, signal bot.Signal) (*bot.Reply, error)
	ResetSession(ch domain.Channel, identity string)
}

// Handlers groups the HTTP endpoints around their shared dependencies.
// The voice fields are optional: when Twilio is not configured the voice
// webhooks degrade to polite hangups instead of agent handoffs.
type Handlers struct {
	bot   TurnService
	db    *gorm.DB
	voice VoiceDeps
}

// New constructs a Handlers instance bound to the given turn service,
// database handle, and voice-channel collaborators.
func New(b TurnService, db *gorm.DB, voice VoiceDeps) *Handlers {
	return &Handlers{bot: b, db: db, voice: voice}
}

// ChatRequest is the JSON payload for one web chat turn.
type ChatRequest struct {
	// Message is the user's text. May be empty when Action is set.
	Message string `json:"message"`
	// Action is an optional UI action, currently only "connect_agent".
	Action string `json:"action,omitempty"`
}

// ChatResponse is the JSON reply for one web chat turn.
type ChatResponse struct {
	Response     string `json:"response"`
	AuthState    int    `json:"auth_state"`
	ActionNeeded string `json:"action_needed"`
}

// webIdentity returns the session cookie value, minting and setting a fresh
// one on first contact.
func webIdentity(c *gin.Context) string {
	if v, err := c.Cookie(sessionCookie); err == nil && v != "" {
		return v
	}
	id := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, id, sessionCookieMaxAge, "/", "", false, true)
	return id
}

// Chat handles POST /api/v1/chat.
//
// A state-machine failure is reported as a normal bot reply with a generic
// apology, never as a raw error: the user's stage is unchanged and retrying
// the same input is safe.
func (h *Handlers) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	msg := strings.TrimSpace(req.Message)

	signal := bot.SignalNone
	if req.Action == actionConnectAgent {
		signal = bot.SignalConnectAgent
	}
	if msg == "" && signal == bot.SignalNone {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message or action required")
		return
	}

	identity := webIdentity(c)
	reply, err := h.bot.HandleTurn(c.Request.Context(), domain.ChannelWeb, identity, msg, signal)
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("channel", "web").Msg("turn failed")
		ok(c, http.StatusOK, ChatResponse{
			Response:     bot.ReplyInternalError,
			AuthState:    0,
			ActionNeeded: string(domain.HintNone),
		})
		return
	}

	ok(c, http.StatusOK, ChatResponse{
		Response:     reply.Text,
		AuthState:    reply.AuthState,
		ActionNeeded: string(reply.Hint),
	})
}
