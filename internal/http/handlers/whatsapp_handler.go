// WhatsApp webhook.
//
// POST /webhooks/whatsapp receives Twilio's form-encoded inbound message
// (Body, From) and answers with TwiML <Response><Message>. The sender's
// phone number is the channel identity. A literal thumbs-down in the body is
// the feedback escalation signal; a thumbs-up closes the feedback loop and
// resets the session.
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"

	"github.com/finvola/go-support-backend/internal/bot"
	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/http/middleware"
)

const (
	thumbsUp   = "\U0001F44D" // 👍
	thumbsDown = "\U0001F44E" // 👎

	// feedbackFooter invites a reaction under every normal reply.
	feedbackFooter = "\n\nWas this helpful? " + thumbsUp + " " + thumbsDown

	whatsappThanks = "Thank you for your feedback! Feel free to message us any time."
)

// WhatsApp handles POST /webhooks/whatsapp.
func (h *Handlers) WhatsApp(c *gin.Context) {
	body := strings.TrimSpace(c.PostForm("Body"))
	from := strings.TrimPrefix(c.PostForm("From"), "whatsapp:")
	if from == "" {
		fail(c, 400, ErrCodeBadRequest, "missing From")
		return
	}

	// Positive feedback closes the conversation; the next contact starts a
	// fresh session at the menu.
	if strings.Contains(body, thumbsUp) {
		h.bot.ResetSession(domain.ChannelWhatsApp, from)
		h.replyTwiML(c, whatsappThanks)
		return
	}

	signal := bot.SignalNone
	if strings.Contains(body, thumbsDown) {
		signal = bot.SignalThumbsDown
	}

	reply, err := h.bot.HandleTurn(c.Request.Context(), domain.ChannelWhatsApp, from, body, signal)
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("channel", "whatsapp").Msg("turn failed")
		h.replyTwiML(c, bot.ReplyInternalError)
		return
	}

	text := reply.Text
	if !reply.Escalated {
		text += feedbackFooter
	}
	h.replyTwiML(c, text)

	// Once the handoff confirmation is out, the bot side of this
	// conversation is done; the agent continues in the Twilio channel.
	if reply.Escalated {
		h.bot.ResetSession(domain.ChannelWhatsApp, from)
	}
}

// replyTwiML renders a single-message TwiML response.
func (h *Handlers) replyTwiML(c *gin.Context, text string) {
	doc, err := twiml.Messages([]twiml.Element{
		&twiml.MessagingMessage{Body: text},
	})
	if err != nil {
		fail(c, 500, ErrCodeInternal, "twiml render failed")
		return
	}
	xml(c, doc)
}
