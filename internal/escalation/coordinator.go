// Package escalation hands a conversation over to a human agent: it produces
// an LLM summary of the session, opens (or reuses) the customer's agent
// channel, enqueues a routing task, and persists the escalation record.
//
// Ordering is deliberate. The summary comes first because a handoff without
// context is useless; channel and task follow; persistence is last. A failure
// before the task exists leaves the session un-escalated so the user can
// trigger the handoff again.
package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/llm"
	"github.com/finvola/go-support-backend/internal/repo"
	"github.com/finvola/go-support-backend/internal/ticketing"
)

// postedHistoryEntries is how many trailing utterances are posted verbatim to
// the agent channel under the summary.
const postedHistoryEntries = 5

// Stage failures. Each names the first step that did not complete; callers
// can tell a retryable handoff (summary, channel, task) from a degraded but
// successful one (persistence problems are logged, not returned).
var (
	ErrSummary      = errors.New("escalation: summary failed")
	ErrChannel      = errors.New("escalation: channel open failed")
	ErrTaskCreation = errors.New("escalation: task creation failed")
)

// Outcome reports a completed handoff.
type Outcome struct {
	TaskSID    string
	ChannelSID string
	Summary    string
}

// Coordinator orchestrates agent handoffs.
type Coordinator struct {
	db        *gorm.DB
	collab    llm.Collaborator
	ticketing ticketing.Ticketing
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(db *gorm.DB, collab llm.Collaborator, t ticketing.Ticketing) *Coordinator {
	return &Coordinator{db: db, collab: collab, ticketing: t}
}

// Escalate performs the handoff for sess. Re-invoking it on an
// already-escalated session returns the prior outcome without creating a
// second task.
//
// The session itself is not mutated; the caller flips sess.Escalated and
// stores the task sid from the returned Outcome.
func (c *Coordinator) Escalate(ctx context.Context, sess *domain.Session, reason string) (*Outcome, error) {
	if sess.Escalated && sess.TaskSID != "" {
		log.Debug().Str("session_id", sess.ID).Str("task_sid", sess.TaskSID).Msg("session already escalated")
		return &Outcome{TaskSID: sess.TaskSID}, nil
	}

	summary, err := c.collab.Summarize(ctx, sess.History)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSummary, err)
	}

	customerKey := sess.CustomerID
	if customerKey == "" {
		customerKey = sess.Identity
	}
	channelSID, err := c.ticketing.OpenChannel(ctx, customerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	c.postContext(ctx, channelSID, summary, sess.History)

	taskSID, err := c.ticketing.CreateTask(ctx, map[string]any{
		"type":        "support_handoff",
		"customer_id": sess.CustomerID,
		"session_id":  sess.ID,
		"channel":     string(sess.Channel),
		"channel_sid": channelSID,
		"reason":      reason,
		"summary":     summary,
	}, ticketing.DefaultTaskPriority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskCreation, err)
	}

	c.persist(ctx, sess, summary, taskSID, channelSID)

	log.Info().
		Str("session_id", sess.ID).
		Str("task_sid", taskSID).
		Str("conversation_sid", channelSID).
		Str("reason", reason).
		Msg("conversation escalated to agent")
	return &Outcome{TaskSID: taskSID, ChannelSID: channelSID, Summary: summary}, nil
}

// postContext pushes the summary and the trailing history into the agent
// channel. Failures here degrade the handoff but never abort it; the agent
// can still pull the log from the dashboard.
func (c *Coordinator) postContext(ctx context.Context, channelSID, summary string, history []domain.HistoryEntry) {
	if err := c.ticketing.PostMessage(ctx, channelSID, domain.SenderSystem, "Handoff summary: "+summary); err != nil {
		log.Warn().Err(err).Str("conversation_sid", channelSID).Msg("failed to post handoff summary")
		return
	}
	start := len(history) - postedHistoryEntries
	if start < 0 {
		start = 0
	}
	for _, h := range history[start:] {
		if err := c.ticketing.PostMessage(ctx, channelSID, h.Sender, h.Text); err != nil {
			log.Warn().Err(err).Str("conversation_sid", channelSID).Msg("failed to post history entry")
			return
		}
	}
}

// persist writes the escalation record and flags the session's interaction
// log. Best effort: by this point the agent task already exists, so a storage
// problem must not undo the handoff.
func (c *Coordinator) persist(ctx context.Context, sess *domain.Session, summary, taskSID, channelSID string) {
	embedding := ""
	if vec, err := c.collab.Embed(ctx, summary); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("summary embedding failed")
	} else if raw, err := json.Marshal(vec); err == nil {
		embedding = string(raw)
	}

	rec := domain.EscalationRecord{
		CustomerID: sess.CustomerID,
		SessionID:  sess.ID,
		Summary:    summary,
		Embedding:  embedding,
		TaskSID:    taskSID,
		ChannelSID: channelSID,
		Status:     domain.EscalationPending,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := repo.CreateEscalationRecord(ctx, c.db, rec); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to persist escalation record")
	}
	if err := repo.MarkSessionEscalated(ctx, c.db, sess.ID, channelSID); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to flag session interactions")
	}
}
