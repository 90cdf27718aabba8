// Package llm wraps the OpenAI API behind the narrow collaborator contract
// the bot actually needs: conversation summarization for agent handoff,
// second-pass intent classification over history, open-ended reply
// generation, and text embeddings for escalation records.
//
// The remote model is treated as a pure function (text in, text out); no
// state is retained between calls. Every call carries an explicit timeout so
// a slow upstream can never stall a user turn indefinitely.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/finvola/go-support-backend/internal/domain"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 10 * time.Second

// ErrEmptyCompletion is returned when the API answers without any choices.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Collaborator is the contract the state machine and the escalation
// coordinator depend on. Tests substitute a fake.
type Collaborator interface {
	// Summarize condenses a conversation into a short handoff summary.
	Summarize(ctx context.Context, history []domain.HistoryEntry) (string, error)
	// ClassifyIntent asks the model to pick one of the closed intents,
	// given the conversation so far and the latest message.
	ClassifyIntent(ctx context.Context, history []domain.HistoryEntry, latest string) (domain.Intent, error)
	// GenerateReply produces an open-ended assistant reply.
	GenerateReply(ctx context.Context, history []domain.HistoryEntry, latest string) (string, error)
	// Embed returns an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// chatService is the minimal chat-completions surface, satisfied by
// openai-go's ChatCompletionService and by test mocks.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// embeddingService is the minimal embeddings surface.
type embeddingService interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Client implements Collaborator on top of the OpenAI API.
type Client struct {
	chat       chatService
	embeddings embeddingService
	model      openai.ChatModel
	timeout    time.Duration
}

// NewClient constructs a Client for the given API key and chat model.
// An empty model falls back to GPT-4o mini.
func NewClient(apiKey string, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: API key not set")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		chat:       &cli.Chat.Completions,
		embeddings: &cli.Embeddings,
		model:      model,
		timeout:    timeout,
	}, nil
}

// complete issues one chat completion and returns the first choice's text.
func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// historyMessages converts session history into chat messages, mapping bot
// entries to assistant role and everything else to user role.
func historyMessages(history []domain.HistoryEntry) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, h := range history {
		if h.Sender == domain.SenderBot {
			out = append(out, openai.AssistantMessage(h.Text))
		} else {
			out = append(out, openai.UserMessage(h.Text))
		}
	}
	return out
}

// Summarize produces a concise handoff summary of the conversation for a
// human agent.
func (c *Client) Summarize(ctx context.Context, history []domain.HistoryEntry) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("You summarize customer-support conversations for a human agent taking over. " +
			"Write 2-4 sentences: who the customer is, what they asked, what has been tried, and what remains unresolved. " +
			"Plain text only."),
	}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage("Summarize the conversation above for the agent."))
	return c.complete(ctx, msgs)
}

// ClassifyIntent asks the model for a single-word intent. Anything outside
// the closed set maps to IntentUnclear.
func (c *Client) ClassifyIntent(ctx context.Context, history []domain.HistoryEntry, latest string) (domain.Intent, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("Classify the user's latest banking request. " +
			"Answer with exactly one word out of: emi, balance, loan, agent_escalation, unclear."),
	}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage(latest))

	raw, err := c.complete(ctx, msgs)
	if err != nil {
		return domain.IntentUnclear, err
	}
	switch domain.Intent(strings.ToLower(strings.Trim(raw, " .\"'"))) {
	case domain.IntentEMI:
		return domain.IntentEMI, nil
	case domain.IntentBalance:
		return domain.IntentBalance, nil
	case domain.IntentLoan:
		return domain.IntentLoan, nil
	case domain.IntentAgentEscalation:
		return domain.IntentAgentEscalation, nil
	default:
		return domain.IntentUnclear, nil
	}
}

// GenerateReply produces an open-ended reply for authenticated free-form
// chat, given the full history and the latest message.
func (c *Client) GenerateReply(ctx context.Context, history []domain.HistoryEntry, latest string) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("You are a polite customer-support assistant for a retail bank. " +
			"Answer briefly and only about the customer's banking matters. " +
			"If you cannot help, suggest the customer ask for an agent."),
	}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage(latest))
	return c.complete(ctx, msgs)
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModelTextEmbedding3Small,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("llm embedding: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, ErrEmptyCompletion
	}
	return resp.Data[0].Embedding, nil
}
