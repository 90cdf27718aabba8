// Session and conversation-state types.
//
// A Session is the in-memory record the state machine mutates on every turn.
// It is deliberately NOT a GORM model: sessions live in the expiring
// session.Store and are reconstructed from scratch after an idle timeout.
// The durable trace of a conversation is the chat_interactions table.
package domain

import "time"

// Channel identifies the transport a session arrived on.
type Channel string

// Supported channels.
const (
	ChannelWeb      Channel = "web"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
)

// Stage is the discrete step of the authentication/query flow a session
// currently occupies.
type Stage string

// Conversation stages. A fresh session starts at StageAwaitingMenuChoice;
// StageEscalated suspends autonomous processing until the session expires or
// is reset by the channel adapter.
const (
	StageAwaitingMenuChoice Stage = "awaiting_menu_choice"
	StageAwaitingAccountID  Stage = "awaiting_account_id"
	StageAwaitingOTP        Stage = "awaiting_otp"
	StageAuthenticated      Stage = "authenticated"
	StageEscalated          Stage = "escalated"
)

// Intent is the classified purpose of a user message.
type Intent string

// Intent values. IntentUnclear means no rule matched; the state machine may
// then ask the LLM for a second opinion over the conversation history.
const (
	IntentEMI             Intent = "emi"
	IntentBalance         Intent = "balance"
	IntentLoan            Intent = "loan"
	IntentAgentEscalation Intent = "agent_escalation"
	IntentUnclear         Intent = "unclear"
)

// UIHint tells a channel adapter what input widget or prompt to surface next.
type UIHint string

// UI hints returned with every bot reply.
const (
	HintAwaitingMenu      UIHint = "awaiting_menu_choice"
	HintAwaitingAccountID UIHint = "awaiting_account_id"
	HintAwaitingOTP       UIHint = "awaiting_otp"
	HintNone              UIHint = "none"
	HintEscalated         UIHint = "escalated"
)

// History entry senders.
const (
	SenderUser   = "user"
	SenderBot    = "bot"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// MaxHistoryEntries bounds the per-session conversation history; older
// entries are dropped.
const MaxHistoryEntries = 50

// HistoryEntry is one utterance kept on the in-memory session, used for LLM
// summarization, fallback classification, and open-ended reply generation.
type HistoryEntry struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session tracks one conversation's progress through the authentication and
// query flow. Sessions are keyed by channel plus a channel-scoped identity
// (web cookie id, WhatsApp number, or voice task id).
type Session struct {
	ID       string  `json:"session_id"`
	Channel  Channel `json:"channel"`
	Identity string  `json:"identity"`

	Stage         Stage  `json:"stage"`
	PendingIntent Intent `json:"pending_intent,omitempty"`
	CustomerID    string `json:"customer_id,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	Authenticated bool   `json:"authenticated"`

	// Escalated flips true exactly once per session; TaskSID keeps the
	// external ticket id so repeated triggers stay idempotent.
	Escalated bool   `json:"escalated"`
	TaskSID   string `json:"task_sid,omitempty"`

	History []HistoryEntry `json:"history"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// AppendHistory adds an entry and trims the history to MaxHistoryEntries,
// dropping the oldest entries first.
func (s *Session) AppendHistory(sender, text string, at time.Time) {
	s.History = append(s.History, HistoryEntry{Sender: sender, Text: text, Timestamp: at})
	if n := len(s.History); n > MaxHistoryEntries {
		s.History = s.History[n-MaxHistoryEntries:]
	}
}

// Clone returns a deep copy of the session. The state machine mutates a clone
// and writes it back only when the whole turn succeeds, so a collaborator
// failure can never leave a half-transitioned session behind.
func (s *Session) Clone() *Session {
	cp := *s
	cp.History = make([]HistoryEntry, len(s.History))
	copy(cp.History, s.History)
	return &cp
}

// Hint maps the session's stage to the UI hint adapters expect.
func (s *Session) Hint() UIHint {
	switch s.Stage {
	case StageAwaitingMenuChoice:
		return HintAwaitingMenu
	case StageAwaitingAccountID:
		return HintAwaitingAccountID
	case StageAwaitingOTP:
		return HintAwaitingOTP
	case StageEscalated:
		return HintEscalated
	default:
		return HintNone
	}
}

// AuthState reports the numeric auth progression exposed to the web client:
// 0 unauthenticated, 1 awaiting account id, 2 awaiting OTP, 3 authenticated.
func (s *Session) AuthState() int {
	switch s.Stage {
	case StageAwaitingAccountID:
		return 1
	case StageAwaitingOTP:
		return 2
	case StageAuthenticated, StageEscalated:
		if s.Authenticated {
			return 3
		}
		return 0
	default:
		return 0
	}
}
