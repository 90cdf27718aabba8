// Package ticketing opens agent-facing conversation channels and routes work
// items to agents. The production implementation rides on Twilio
// Conversations (the channel the agent chats in) and Twilio TaskRouter (the
// queue entry that pulls an agent in).
package ticketing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	conversationsApi "github.com/twilio/twilio-go/rest/conversations/v1"
	taskrouterApi "github.com/twilio/twilio-go/rest/taskrouter/v1"
)

// Defaults for queued handoff tasks.
const (
	DefaultTaskPriority = 10
	DefaultTaskTimeout  = 3600
	taskChannel         = "chat"
)

// ErrNotConfigured indicates missing Twilio service identifiers.
var ErrNotConfigured = errors.New("ticketing: twilio services not configured")

// Ticketing is the agent-handoff contract the escalation coordinator depends
// on. Tests substitute a fake.
type Ticketing interface {
	// OpenChannel returns the conversation channel for a customer key,
	// creating it on first use. Calling it again with the same key returns
	// the same channel.
	OpenChannel(ctx context.Context, customerKey string) (string, error)
	// PostMessage appends a message to a channel under the given author.
	PostMessage(ctx context.Context, channelID, author, body string) error
	// CreateTask enqueues a work item for agent routing and returns its id.
	CreateTask(ctx context.Context, attributes map[string]any, priority int) (string, error)
}

// conversationsAPI is the slice of Twilio Conversations the adapter uses.
type conversationsAPI interface {
	FetchServiceConversation(chatServiceSid, sid string) (*conversationsApi.ConversationsV1ServiceConversation, error)
	CreateServiceConversation(chatServiceSid string, params *conversationsApi.CreateServiceConversationParams) (*conversationsApi.ConversationsV1ServiceConversation, error)
	CreateServiceConversationMessage(chatServiceSid, conversationSid string, params *conversationsApi.CreateServiceConversationMessageParams) (*conversationsApi.ConversationsV1ServiceConversationMessage, error)
}

// taskrouterAPI is the slice of Twilio TaskRouter the adapter uses.
type taskrouterAPI interface {
	CreateTask(workspaceSid string, params *taskrouterApi.CreateTaskParams) (*taskrouterApi.TaskrouterV1Task, error)
}

// Config carries the Twilio service identifiers for the adapter.
type Config struct {
	AccountSID          string
	AuthToken           string
	ConversationService string // Conversations chat service SID
	Workspace           string // TaskRouter workspace SID
	Workflow            string // TaskRouter workflow SID
}

// Client implements Ticketing on Twilio Conversations and TaskRouter.
type Client struct {
	conversations conversationsAPI
	taskrouter    taskrouterAPI

	serviceSID   string
	workspaceSID string
	workflowSID  string
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrNotConfigured)
	}
	if cfg.ConversationService == "" || cfg.Workspace == "" || cfg.Workflow == "" {
		return nil, fmt.Errorf("%w: missing service sids", ErrNotConfigured)
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		conversations: rest.ConversationsV1,
		taskrouter:    rest.TaskrouterV1,
		serviceSID:    cfg.ConversationService,
		workspaceSID:  cfg.Workspace,
		workflowSID:   cfg.Workflow,
	}, nil
}

// channelUniqueName derives the stable per-customer conversation name.
// Re-escalations for the same customer land in the same channel.
func channelUniqueName(customerKey string) string {
	return fmt.Sprintf("customer_%s_handoff", customerKey)
}

// OpenChannel fetches the customer's handoff conversation by unique name and
// creates it when absent.
func (c *Client) OpenChannel(ctx context.Context, customerKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	unique := channelUniqueName(customerKey)

	conv, err := c.conversations.FetchServiceConversation(c.serviceSID, unique)
	if err == nil && conv != nil && conv.Sid != nil {
		return *conv.Sid, nil
	}

	params := &conversationsApi.CreateServiceConversationParams{}
	params.SetUniqueName(unique)
	params.SetFriendlyName(fmt.Sprintf("Support handoff for %s", customerKey))
	conv, err = c.conversations.CreateServiceConversation(c.serviceSID, params)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if conv == nil || conv.Sid == nil {
		return "", errors.New("ticketing: conversation created without sid")
	}
	log.Info().Str("conversation_sid", *conv.Sid).Str("unique_name", unique).Msg("handoff conversation created")
	return *conv.Sid, nil
}

// PostMessage appends one message to a conversation.
func (c *Client) PostMessage(ctx context.Context, channelID, author, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &conversationsApi.CreateServiceConversationMessageParams{}
	params.SetAuthor(author)
	params.SetBody(body)
	if _, err := c.conversations.CreateServiceConversationMessage(c.serviceSID, channelID, params); err != nil {
		return fmt.Errorf("post conversation message: %w", err)
	}
	return nil
}

// CreateTask enqueues a TaskRouter task carrying the given attributes and
// returns the task SID.
func (c *Client) CreateTask(ctx context.Context, attributes map[string]any, priority int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if priority <= 0 {
		priority = DefaultTaskPriority
	}
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("marshal task attributes: %w", err)
	}

	params := &taskrouterApi.CreateTaskParams{}
	params.SetWorkflowSid(c.workflowSID)
	params.SetAttributes(string(attrs))
	params.SetPriority(priority)
	params.SetTimeout(DefaultTaskTimeout)
	params.SetTaskChannel(taskChannel)

	task, err := c.taskrouter.CreateTask(c.workspaceSID, params)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	if task == nil || task.Sid == nil {
		return "", errors.New("ticketing: task created without sid")
	}
	log.Info().Str("task_sid", *task.Sid).Int("priority", priority).Msg("agent task created")
	return *task.Sid, nil
}
