// Voice IVR webhooks.
//
// The voice channel is a linear script driven by a pre-populated CallTask
// row, correlated on the task_id query parameter Twilio carries through every
// step:
//
//	POST /webhooks/voice/answer   — greeting + language selection (Gather)
//	POST /webhooks/voice/language — stores the choice, confirms identity
//	POST /webhooks/voice/confirm  — EMI detail playback + support offer
//	POST /webhooks/voice/support  — connects an agent or says goodbye
//
// Unlike web and WhatsApp this flow does not use the conversation state
// machine: the call task record itself is the session. An unknown or stale
// task_id ends the call politely.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"

	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/http/middleware"
	"github.com/finvola/go-support-backend/internal/repo"
	"github.com/finvola/go-support-backend/internal/resolver"
	"github.com/finvola/go-support-backend/internal/ticketing"
)

// pollyVoice is the TTS voice used on every Say verb.
const pollyVoice = "Polly.Raveena"

// Call task statuses written by the IVR steps.
const (
	callInProgress  = "in_progress"
	callWrongPerson = "wrong_person"
	callCompleted   = "completed"
	callEscalated   = "escalated"
)

// WhatsAppNotifier sends the post-call WhatsApp summary. Implemented by
// messaging.Sender.
type WhatsAppNotifier interface {
	SendWhatsApp(ctx context.Context, phoneNumber, body string) error
}

// VoiceDeps carries the optional collaborators of the voice flow.
type VoiceDeps struct {
	Ticketing   ticketing.Ticketing
	Notifier    WhatsAppNotifier
	AgentNumber string // E.164 dial-out target for live agents
}

// say builds a Say verb with the standard voice.
func say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: pollyVoice}
}

// voiceXML renders verbs as a TwiML voice document.
func voiceXML(c *gin.Context, verbs ...twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		fail(c, 500, ErrCodeInternal, "twiml render failed")
		return
	}
	xml(c, doc)
}

// endCall renders a final message and hangs up.
func endCall(c *gin.Context, text string) {
	voiceXML(c, say(text), &twiml.VoiceHangup{})
}

// loadTask fetches the call task for the request, ending the call politely
// when the id is missing or unknown. The bool reports success.
func (h *Handlers) loadTask(c *gin.Context) (*domain.CallTask, bool) {
	taskID := c.Query("task_id")
	if taskID == "" {
		endCall(c, "Sorry, we could not identify this call. Goodbye.")
		return nil, false
	}
	task, err := repo.GetCallTask(c.Request.Context(), h.db, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		endCall(c, "Sorry, we could not find your call details. Goodbye.")
		return nil, false
	}
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("task_id", taskID).Msg("call task lookup failed")
		endCall(c, "Sorry, something went wrong on our side. Goodbye.")
		return nil, false
	}
	return task, true
}

// step builds the action URL for the next IVR step, keeping the task id.
func step(name, taskID string) string {
	return fmt.Sprintf("/webhooks/voice/%s?task_id=%s", name, taskID)
}

// VoiceAnswer handles the initial webhook when the call connects.
func (h *Handlers) VoiceAnswer(c *gin.Context) {
	task, okTask := h.loadTask(c)
	if !okTask {
		return
	}
	_ = repo.UpdateCallTask(c.Request.Context(), h.db, task.ID, map[string]any{"status": callInProgress})

	gather := &twiml.VoiceGather{
		Action:    step("language", task.ID),
		Method:    "POST",
		Input:     "dtmf",
		NumDigits: "1",
		Timeout:   "6",
		InnerElements: []twiml.Element{
			say("Hello! This is a call from your bank about your loan account. " +
				"For English, press 1. For Hindi, press 2. For Telugu, press 3."),
		},
	}
	voiceXML(c, gather,
		say("We did not receive your selection."),
		&twiml.VoiceRedirect{Url: step("answer", task.ID), Method: "POST"},
	)
}

// VoiceLanguage stores the language choice and asks for identity
// confirmation.
func (h *Handlers) VoiceLanguage(c *gin.Context) {
	task, okTask := h.loadTask(c)
	if !okTask {
		return
	}
	lang := c.PostForm("Digits")
	switch lang {
	case "1", "2", "3":
	default:
		lang = "1"
	}
	_ = repo.UpdateCallTask(c.Request.Context(), h.db, task.ID, map[string]any{"language": lang})

	gather := &twiml.VoiceGather{
		Action:    step("confirm", task.ID),
		Method:    "POST",
		Input:     "dtmf",
		NumDigits: "1",
		Timeout:   "6",
		InnerElements: []twiml.Element{
			say(fmt.Sprintf("Am I speaking with %s? Press 1 for yes, or 2 for no.", task.CustomerName)),
		},
	}
	voiceXML(c, gather, say("We did not receive your response. Goodbye."), &twiml.VoiceHangup{})
}

// VoiceConfirm plays the EMI details for the confirmed customer and offers
// support.
func (h *Handlers) VoiceConfirm(c *gin.Context) {
	task, okTask := h.loadTask(c)
	if !okTask {
		return
	}
	if c.PostForm("Digits") != "1" {
		_ = repo.UpdateCallTask(c.Request.Context(), h.db, task.ID,
			map[string]any{"status": callWrongPerson, "outcome_notes": "identity not confirmed"})
		endCall(c, "Sorry for the inconvenience. We will reach out another time. Goodbye.")
		return
	}

	details := fmt.Sprintf(
		"Your EMI of %s for loan ending %s is due on %s. "+
			"Missing the payment may affect your credit score and attract late fees.",
		resolver.FormatMoney(task.EMIAmount), task.LoanLast4(), task.DueDate.Format("January 2"))

	gather := &twiml.VoiceGather{
		Action:    step("support", task.ID),
		Method:    "POST",
		Input:     "dtmf",
		NumDigits: "1",
		Timeout:   "6",
		InnerElements: []twiml.Element{
			say(details),
			&twiml.VoicePause{Length: "1"},
			say("If you are facing difficulties and would like to speak to a support agent, press 1. Otherwise, press 2."),
		},
	}
	voiceXML(c, gather, say("Thank you for your time. Goodbye."), &twiml.VoiceHangup{})
}

// VoiceSupport connects the caller to an agent, enqueues a routing task, and
// sends a WhatsApp recap; or closes the call when no help is needed.
func (h *Handlers) VoiceSupport(c *gin.Context) {
	task, okTask := h.loadTask(c)
	if !okTask {
		return
	}
	ctx := c.Request.Context()

	if c.PostForm("Digits") != "1" {
		_ = repo.UpdateCallTask(ctx, h.db, task.ID,
			map[string]any{"status": callCompleted, "outcome_notes": "informed, no support needed"})
		endCall(c, "Thank you for your time. Please remember to pay your EMI on or before the due date. Goodbye.")
		return
	}

	_ = repo.UpdateCallTask(ctx, h.db, task.ID,
		map[string]any{"status": callEscalated, "outcome_notes": "connected to agent"})

	if h.voice.Ticketing != nil {
		if _, err := h.voice.Ticketing.CreateTask(ctx, map[string]any{
			"type":        "voice_support",
			"customer_id": task.CustomerID,
			"call_task":   task.ID,
			"phone":       task.PhoneNumber,
		}, ticketing.DefaultTaskPriority); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Str("task_id", task.ID).Msg("voice handoff task creation failed")
		}
	}
	if h.voice.Notifier != nil {
		recap := fmt.Sprintf("Hi %s, as discussed on the call: your EMI of %s is due on %s. "+
			"A support agent will follow up with you shortly.",
			task.CustomerName, resolver.FormatMoney(task.EMIAmount), task.DueDate.Format("02 Jan 2006"))
		if err := h.voice.Notifier.SendWhatsApp(ctx, task.PhoneNumber, recap); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Str("task_id", task.ID).Msg("post-call whatsapp recap failed")
		}
	}

	if strings.TrimSpace(h.voice.AgentNumber) == "" {
		endCall(c, "All our agents are currently busy. We have noted your request and an agent will call you back shortly. Goodbye.")
		return
	}
	voiceXML(c,
		say("Connecting you to a support agent now. Please stay on the line."),
		&twiml.VoiceDial{
			InnerElements: []twiml.Element{
				&twiml.VoiceNumber{PhoneNumber: h.voice.AgentNumber},
			},
		},
	)
}
