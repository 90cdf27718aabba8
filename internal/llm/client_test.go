package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/finvola/go-support-backend/internal/domain"
)

// fakeChat returns a canned completion and records the last request.
type fakeChat struct {
	content string
	err     error
	last    openai.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.last = body
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

type fakeEmbeddings struct {
	vector []float64
	err    error
}

func (f *fakeEmbeddings) New(_ context.Context, _ openai.EmbeddingNewParams, _ ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{{Embedding: f.vector}},
	}, nil
}

func newTestClient(chat *fakeChat, emb *fakeEmbeddings) *Client {
	return &Client{
		chat:       chat,
		embeddings: emb,
		model:      openai.ChatModelGPT4oMini,
		timeout:    time.Second,
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient("", "", 0); err == nil {
		t.Fatal("expected an error for an empty API key")
	}
	c, err := NewClient("sk-test", "", 0)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.model != openai.ChatModelGPT4oMini {
		t.Fatalf("model = %q, want the GPT-4o mini default", c.model)
	}
	if c.timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
}

func TestSummarize(t *testing.T) {
	chat := &fakeChat{content: "  Customer asked about EMI.  "}
	c := newTestClient(chat, &fakeEmbeddings{})

	history := []domain.HistoryEntry{
		{Sender: domain.SenderUser, Text: "what's my emi"},
		{Sender: domain.SenderBot, Text: "Your EMI is ₹10,000.00."},
	}
	got, err := c.Summarize(context.Background(), history)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Customer asked about EMI." {
		t.Fatalf("summary = %q, want trimmed text", got)
	}
	// system prompt + 2 history turns + closing instruction
	if len(chat.last.Messages) != 4 {
		t.Fatalf("messages sent = %d, want 4", len(chat.last.Messages))
	}
}

func TestSummarize_Error(t *testing.T) {
	c := newTestClient(&fakeChat{err: errors.New("rate limited")}, &fakeEmbeddings{})
	if _, err := c.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected an error")
	}
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.Intent
	}{
		{"emi", domain.IntentEMI},
		{"Balance", domain.IntentBalance},
		{"loan.", domain.IntentLoan},
		{`"agent_escalation"`, domain.IntentAgentEscalation},
		{"unclear", domain.IntentUnclear},
		{"I think the user wants their balance", domain.IntentUnclear},
	}
	for _, tc := range cases {
		c := newTestClient(&fakeChat{content: tc.raw}, &fakeEmbeddings{})
		got, err := c.ClassifyIntent(context.Background(), nil, "latest message")
		if err != nil {
			t.Fatalf("ClassifyIntent(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("ClassifyIntent(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestClassifyIntent_ErrorFallsBackToUnclear(t *testing.T) {
	c := newTestClient(&fakeChat{err: errors.New("boom")}, &fakeEmbeddings{})
	got, err := c.ClassifyIntent(context.Background(), nil, "x")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got != domain.IntentUnclear {
		t.Fatalf("intent = %q, want unclear alongside the error", got)
	}
}

func TestGenerateReply(t *testing.T) {
	chat := &fakeChat{content: "Happy to help with your loan."}
	c := newTestClient(chat, &fakeEmbeddings{})
	got, err := c.GenerateReply(context.Background(), nil, "tell me about loans")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != "Happy to help with your loan." {
		t.Fatalf("reply = %q", got)
	}
}

func TestEmbed(t *testing.T) {
	c := newTestClient(&fakeChat{}, &fakeEmbeddings{vector: []float64{0.25, -0.5}})
	vec, err := c.Embed(context.Background(), "summary text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.25 || vec[1] != -0.5 {
		t.Fatalf("vector = %v", vec)
	}

	failing := newTestClient(&fakeChat{}, &fakeEmbeddings{err: errors.New("down")})
	if _, err := failing.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	c := newTestClient(&fakeChat{}, &fakeEmbeddings{})
	c.chat = emptyChat{}
	if _, err := c.GenerateReply(context.Background(), nil, "x"); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("err = %v, want ErrEmptyCompletion", err)
	}
}

type emptyChat struct{}

func (emptyChat) New(context.Context, openai.ChatCompletionNewParams, ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{}, nil
}
