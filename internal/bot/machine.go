// Package bot implements the channel-agnostic conversation state machine.
// Every transport (web chat, WhatsApp webhook, voice IVR follow-ups) funnels
// inbound messages into Machine.HandleTurn, which owns all stage transitions,
// OTP integration, query resolution, and escalation policy. Channel adapters
// only translate their transport in and out.
//
// A turn mutates a clone of the stored session and commits it only when the
// whole turn succeeds, so a collaborator failure never leaves a
// half-transitioned session behind; the caller replies with a generic apology
// and the user can retry the same input.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/escalation"
	"github.com/finvola/go-support-backend/internal/intent"
	"github.com/finvola/go-support-backend/internal/llm"
	"github.com/finvola/go-support-backend/internal/otp"
	"github.com/finvola/go-support-backend/internal/repo"
	"github.com/finvola/go-support-backend/internal/resolver"
	"github.com/finvola/go-support-backend/internal/session"
)

// Signal is an out-of-band escalation trigger a channel adapter attaches to a
// turn, independent of the message text.
type Signal string

// Escalation signals.
const (
	// SignalNone: no out-of-band trigger; text classification decides.
	SignalNone Signal = ""
	// SignalConnectAgent: explicit "connect me to an agent" UI action (web).
	SignalConnectAgent Signal = "connect_agent"
	// SignalThumbsDown: negative feedback reaction (WhatsApp).
	SignalThumbsDown Signal = "thumbs_down"
)

// Reply is the outcome of one turn, rendered by the channel adapter.
type Reply struct {
	Text      string
	Hint      domain.UIHint
	AuthState int
	SessionID string
	// Escalated reports that this turn completed (or confirmed) an agent
	// handoff; adapters use it for channel-specific follow-ups.
	Escalated bool
}

// OTPLedger is the authentication collaborator contract.
type OTPLedger interface {
	Issue(ctx context.Context, phoneNumber string) (string, error)
	Validate(phoneNumber, candidate string) otp.Result
}

// DataResolver answers authenticated account queries.
type DataResolver interface {
	Resolve(ctx context.Context, it domain.Intent, customerID string) (*resolver.AccountData, error)
}

// Escalator performs the agent handoff.
type Escalator interface {
	Escalate(ctx context.Context, sess *domain.Session, reason string) (*escalation.Outcome, error)
}

// Machine is the conversation state machine. One instance serves all
// channels; per-conversation state lives in the session store.
type Machine struct {
	db        *gorm.DB
	sessions  *session.Store
	ledger    OTPLedger
	resolver  DataResolver
	collab    llm.Collaborator
	escalator Escalator

	now func() time.Time
}

// NewMachine wires the state machine with its collaborators.
func NewMachine(db *gorm.DB, sessions *session.Store, ledger OTPLedger, res DataResolver, collab llm.Collaborator, esc Escalator) *Machine {
	return &Machine{
		db:        db,
		sessions:  sessions,
		ledger:    ledger,
		resolver:  res,
		collab:    collab,
		escalator: esc,
		now:       time.Now,
	}
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

// HandleTurn processes one inbound message for a channel identity and returns
// the bot's reply. On error the stored session is unchanged; callers send
// ReplyInternalError and let the user retry.
func (m *Machine) HandleTurn(ctx context.Context, ch domain.Channel, identity, text string, signal Signal) (*Reply, error) {
	sess := m.sessions.Get(ch, identity)
	if sess == nil {
		sess = m.sessions.Create(ch, identity)
	}
	turnsTotal.WithLabelValues(string(ch), string(sess.Stage)).Inc()

	now := m.now().UTC()
	sess.AppendHistory(domain.SenderUser, text, now)
	m.logTurn(ctx, sess, domain.SenderUser, text, intent.Classify(text))

	reply, err := m.dispatch(ctx, sess, text, signal)
	if err != nil {
		turnFailuresTotal.WithLabelValues(string(ch)).Inc()
		log.Error().Err(err).
			Str("channel", string(ch)).
			Str("session_id", sess.ID).
			Str("stage", string(sess.Stage)).
			Msg("turn failed")
		return nil, err
	}
	return reply, nil
}

// dispatch runs the per-turn decision procedure against the cloned session.
func (m *Machine) dispatch(ctx context.Context, sess *domain.Session, text string, signal Signal) (*Reply, error) {
	// An escalated session stops autonomous processing until it expires or
	// the channel adapter resets it.
	if sess.Stage == domain.StageEscalated {
		return m.commit(ctx, sess, replyWaitingForAgent, domain.IntentAgentEscalation), nil
	}

	// Escalation trigger outranks stage logic on every turn.
	if signal != SignalNone || intent.Classify(text) == domain.IntentAgentEscalation {
		return m.handleEscalationTrigger(ctx, sess, signal)
	}

	switch sess.Stage {
	case domain.StageAwaitingMenuChoice:
		return m.handleMenuChoice(ctx, sess, text)
	case domain.StageAwaitingAccountID:
		return m.handleAccountID(ctx, sess, text)
	case domain.StageAwaitingOTP:
		return m.handleOTP(ctx, sess, text)
	case domain.StageAuthenticated:
		return m.handleAuthenticated(ctx, sess, text)
	default:
		return nil, fmt.Errorf("bot: unknown stage %q", sess.Stage)
	}
}

// handleEscalationTrigger routes an agent request. Authenticated sessions
// hand off immediately; unauthenticated ones are gated through verification
// with the request parked as the pending intent.
func (m *Machine) handleEscalationTrigger(ctx context.Context, sess *domain.Session, signal Signal) (*Reply, error) {
	if sess.Authenticated {
		return m.escalate(ctx, sess, escalationReason(signal))
	}
	sess.Stage = domain.StageAwaitingAccountID
	sess.PendingIntent = domain.IntentAgentEscalation
	return m.commit(ctx, sess, replyVerifyFirst, domain.IntentAgentEscalation), nil
}

// escalate invokes the coordinator. Already-escalated sessions short-circuit
// to the stored task, so repeated agent requests never open a second ticket.
// A coordinator failure leaves the session un-escalated and tells the user to
// retry, per the error taxonomy for escalation-path failures.
func (m *Machine) escalate(ctx context.Context, sess *domain.Session, reason string) (*Reply, error) {
	already := sess.Escalated && sess.TaskSID != ""
	outcome, err := m.escalator.Escalate(ctx, sess, reason)
	if err != nil {
		escalationsTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("escalation failed")
		r := m.commit(ctx, sess, replyAgentUnavailable, domain.IntentAgentEscalation)
		return r, nil
	}
	if already {
		escalationsTotal.WithLabelValues("reused").Inc()
	} else {
		escalationsTotal.WithLabelValues("created").Inc()
	}

	sess.Escalated = true
	sess.TaskSID = outcome.TaskSID
	sess.Stage = domain.StageEscalated
	sess.PendingIntent = ""
	sess.AppendHistory(domain.SenderSystem, "Conversation escalated to a human agent.", m.now().UTC())

	r := m.commit(ctx, sess, replyEscalated, domain.IntentAgentEscalation)
	r.Escalated = true
	return r, nil
}

// handleMenuChoice maps the opening menu selection ("1"/"2"/"3" or a typed
// request) to a pending intent and moves to account verification.
func (m *Machine) handleMenuChoice(ctx context.Context, sess *domain.Session, text string) (*Reply, error) {
	var it domain.Intent
	switch strings.TrimSpace(text) {
	case "1":
		it = domain.IntentEMI
	case "2":
		it = domain.IntentBalance
	case "3":
		it = domain.IntentLoan
	default:
		it = intent.Classify(text)
	}
	switch it {
	case domain.IntentEMI, domain.IntentBalance, domain.IntentLoan:
		sess.PendingIntent = it
		sess.Stage = domain.StageAwaitingAccountID
		return m.commit(ctx, sess, replyEnterAccountID, it), nil
	default:
		return m.commit(ctx, sess, menuText, domain.IntentUnclear), nil
	}
}

// handleAccountID resolves the typed account id to its owner and issues an
// OTP to the registered phone number.
func (m *Machine) handleAccountID(ctx context.Context, sess *domain.Session, text string) (*Reply, error) {
	accountID := strings.ToUpper(strings.TrimSpace(text))
	ident, err := repo.FindAccountByExternalID(ctx, m.db, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return m.commit(ctx, sess, replyAccountNotFound, domain.IntentUnclear), nil
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	sess.CustomerID = ident.CustomerID
	sess.PhoneNumber = ident.PhoneNumber

	if _, err := m.ledger.Issue(ctx, ident.PhoneNumber); err != nil {
		otpIssuedTotal.WithLabelValues("dispatch_error").Inc()
		return nil, err
	}
	otpIssuedTotal.WithLabelValues("sent").Inc()

	sess.Stage = domain.StageAwaitingOTP
	return m.commit(ctx, sess, replyOTPSent(phoneLast4(ident.PhoneNumber)), domain.IntentUnclear), nil
}

// handleOTP validates the submitted code. Success authenticates the session
// and immediately serves the parked intent; expiry, exhausted attempts, and a
// missing challenge all regress to account entry so verification restarts
// from scratch.
func (m *Machine) handleOTP(ctx context.Context, sess *domain.Session, text string) (*Reply, error) {
	candidate := strings.TrimSpace(text)
	if match := sixDigits.FindString(candidate); match != "" {
		candidate = match
	}

	res := m.ledger.Validate(sess.PhoneNumber, candidate)
	otpValidationsTotal.WithLabelValues(res.Status.String()).Inc()

	switch res.Status {
	case otp.Valid:
		sess.Authenticated = true
		sess.Stage = domain.StageAuthenticated
		return m.afterAuthentication(ctx, sess)

	case otp.Mismatch:
		return m.commit(ctx, sess, replyOTPMismatch(res.AttemptsRemaining), domain.IntentUnclear), nil

	case otp.NoActiveChallenge:
		sess.Stage = domain.StageAwaitingAccountID
		return m.commit(ctx, sess, replyNoChallenge, domain.IntentUnclear), nil

	default: // Expired, AttemptsExceeded
		sess.Stage = domain.StageAwaitingAccountID
		return m.commit(ctx, sess, replyOTPRestart, domain.IntentUnclear), nil
	}
}

// afterAuthentication consumes the pending intent right after OTP success:
// a parked query is answered immediately, a parked agent request escalates
// now that identity is proven, and no pending intent re-opens the menu.
func (m *Machine) afterAuthentication(ctx context.Context, sess *domain.Session) (*Reply, error) {
	pending := sess.PendingIntent
	sess.PendingIntent = ""

	switch pending {
	case domain.IntentAgentEscalation:
		return m.escalate(ctx, sess, "requested before verification")
	case domain.IntentEMI, domain.IntentBalance, domain.IntentLoan:
		return m.answerQuery(ctx, sess, pending)
	default:
		return m.commit(ctx, sess, replyVerified, domain.IntentUnclear), nil
	}
}

// handleAuthenticated serves free-form authenticated chat: rule
// classification first, LLM second pass on unclear, data answers for the
// financial intents, open-ended generation otherwise.
func (m *Machine) handleAuthenticated(ctx context.Context, sess *domain.Session, text string) (*Reply, error) {
	it := intent.Classify(text)
	if it == domain.IntentUnclear {
		var err error
		it, err = m.collab.ClassifyIntent(ctx, sess.History, text)
		if err != nil {
			return nil, err
		}
	}

	switch it {
	case domain.IntentAgentEscalation:
		return m.escalate(ctx, sess, "agent requested")
	case domain.IntentEMI, domain.IntentBalance, domain.IntentLoan:
		return m.answerQuery(ctx, sess, it)
	default:
		answer, err := m.collab.GenerateReply(ctx, sess.History, text)
		if err != nil {
			return nil, err
		}
		return m.commit(ctx, sess, answer, domain.IntentUnclear), nil
	}
}

// answerQuery resolves and formats a financial query. A customer with no
// linked account or loan gets a polite "no data" reply with an agent offer,
// never an error.
func (m *Machine) answerQuery(ctx context.Context, sess *domain.Session, it domain.Intent) (*Reply, error) {
	data, err := m.resolver.Resolve(ctx, it, sess.CustomerID)
	if errors.Is(err, resolver.ErrNoLinkedAccount) || errors.Is(err, resolver.ErrNoLoan) {
		return m.commit(ctx, sess, replyNoAccountData, it), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", it, err)
	}
	return m.commit(ctx, sess, resolver.FormatResponse(data), it), nil
}

// commit appends the bot reply to history, stores the mutated session, logs
// the reply, and builds the Reply for the adapter. This is the single point
// where a turn's session mutations become visible.
func (m *Machine) commit(ctx context.Context, sess *domain.Session, text string, it domain.Intent) *Reply {
	sess.AppendHistory(domain.SenderBot, text, m.now().UTC())
	m.sessions.Update(sess)
	m.logTurn(ctx, sess, domain.SenderBot, text, it)
	return &Reply{
		Text:      text,
		Hint:      sess.Hint(),
		AuthState: sess.AuthState(),
		SessionID: sess.ID,
		Escalated: false,
	}
}

// logTurn appends one row to the durable interaction log. Logging is best
// effort: an audit-trail write failure must not break the conversation.
func (m *Machine) logTurn(ctx context.Context, sess *domain.Session, sender, text string, it domain.Intent) {
	err := repo.AppendInteraction(ctx, m.db, domain.ChatInteraction{
		SessionID:  sess.ID,
		CustomerID: sess.CustomerID,
		Channel:    string(sess.Channel),
		Sender:     sender,
		Text:       text,
		Intent:     string(it),
		Stage:      string(sess.Stage),
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("interaction log write failed")
	}
}

// ResetSession drops the stored session for a channel identity. WhatsApp uses
// it after delivering the escalation confirmation so the next contact starts
// fresh.
func (m *Machine) ResetSession(ch domain.Channel, identity string) {
	m.sessions.Delete(ch, identity)
}

func escalationReason(signal Signal) string {
	switch signal {
	case SignalThumbsDown:
		return "negative feedback"
	case SignalConnectAgent:
		return "agent button"
	default:
		return "agent requested"
	}
}

// phoneLast4 masks a phone number down to its last four digits for replies
// and logs.
func phoneLast4(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) < 4 {
		return "****"
	}
	return digits[len(digits)-4:]
}
