package ticketing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	conversationsApi "github.com/twilio/twilio-go/rest/conversations/v1"
	taskrouterApi "github.com/twilio/twilio-go/rest/taskrouter/v1"
)

type fakeConversations struct {
	existing map[string]string // unique name -> sid
	created  []string
	messages []string
	fetchErr error
}

func (f *fakeConversations) FetchServiceConversation(_, sid string) (*conversationsApi.ConversationsV1ServiceConversation, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if existing, ok := f.existing[sid]; ok {
		return &conversationsApi.ConversationsV1ServiceConversation{Sid: &existing}, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeConversations) CreateServiceConversation(_ string, params *conversationsApi.CreateServiceConversationParams) (*conversationsApi.ConversationsV1ServiceConversation, error) {
	unique := ""
	if params.UniqueName != nil {
		unique = *params.UniqueName
	}
	f.created = append(f.created, unique)
	sid := "CH_" + unique
	if f.existing == nil {
		f.existing = make(map[string]string)
	}
	f.existing[unique] = sid
	return &conversationsApi.ConversationsV1ServiceConversation{Sid: &sid}, nil
}

func (f *fakeConversations) CreateServiceConversationMessage(_, conversationSid string, params *conversationsApi.CreateServiceConversationMessageParams) (*conversationsApi.ConversationsV1ServiceConversationMessage, error) {
	body := ""
	if params.Body != nil {
		body = *params.Body
	}
	f.messages = append(f.messages, conversationSid+": "+body)
	return &conversationsApi.ConversationsV1ServiceConversationMessage{}, nil
}

type fakeTaskrouter struct {
	err    error
	params []*taskrouterApi.CreateTaskParams
}

func (f *fakeTaskrouter) CreateTask(_ string, params *taskrouterApi.CreateTaskParams) (*taskrouterApi.TaskrouterV1Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.params = append(f.params, params)
	sid := "WT123"
	return &taskrouterApi.TaskrouterV1Task{Sid: &sid}, nil
}

func newTestClient(conv *fakeConversations, tr *fakeTaskrouter) *Client {
	return &Client{
		conversations: conv,
		taskrouter:    tr,
		serviceSID:    "IS123",
		workspaceSID:  "WS123",
		workflowSID:   "WW123",
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{ConversationService: "IS", Workspace: "WS", Workflow: "WW"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing creds err = %v, want ErrNotConfigured", err)
	}
	_, err = NewClient(Config{AccountSID: "AC", AuthToken: "tok"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing sids err = %v, want ErrNotConfigured", err)
	}
	if _, err := NewClient(Config{
		AccountSID: "AC", AuthToken: "tok",
		ConversationService: "IS", Workspace: "WS", Workflow: "WW",
	}); err != nil {
		t.Fatalf("NewClient: %v", err)
	}
}

func TestOpenChannel_CreatesOnceThenReuses(t *testing.T) {
	conv := &fakeConversations{}
	c := newTestClient(conv, &fakeTaskrouter{})

	sid, err := c.OpenChannel(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	if sid != "CH_customer_cust-1_handoff" {
		t.Fatalf("sid = %q", sid)
	}
	if len(conv.created) != 1 || conv.created[0] != "customer_cust-1_handoff" {
		t.Fatalf("created = %v", conv.created)
	}

	// A second open for the same customer fetches the existing channel.
	sid2, err := c.OpenChannel(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("OpenChannel again: %v", err)
	}
	if sid2 != sid {
		t.Fatalf("second sid = %q, want %q", sid2, sid)
	}
	if len(conv.created) != 1 {
		t.Fatalf("created = %v, want no second conversation", conv.created)
	}
}

func TestPostMessage(t *testing.T) {
	conv := &fakeConversations{}
	c := newTestClient(conv, &fakeTaskrouter{})

	if err := c.PostMessage(context.Background(), "CH123", "system", "handoff summary"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if len(conv.messages) != 1 || conv.messages[0] != "CH123: handoff summary" {
		t.Fatalf("messages = %v", conv.messages)
	}
}

func TestCreateTask(t *testing.T) {
	tr := &fakeTaskrouter{}
	c := newTestClient(&fakeConversations{}, tr)

	sid, err := c.CreateTask(context.Background(), map[string]any{
		"type":        "support_handoff",
		"customer_id": "cust-1",
	}, 0) // non-positive priority falls back to the default
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if sid != "WT123" {
		t.Fatalf("sid = %q", sid)
	}

	p := tr.params[0]
	if *p.WorkflowSid != "WW123" || *p.Priority != DefaultTaskPriority || *p.TaskChannel != taskChannel {
		t.Fatalf("params = %+v", p)
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(*p.Attributes), &attrs); err != nil {
		t.Fatalf("attributes not JSON: %v", err)
	}
	if attrs["type"] != "support_handoff" || attrs["customer_id"] != "cust-1" {
		t.Fatalf("attributes = %+v", attrs)
	}
}

func TestCreateTask_Error(t *testing.T) {
	c := newTestClient(&fakeConversations{}, &fakeTaskrouter{err: errors.New("taskrouter down")})
	if _, err := c.CreateTask(context.Background(), map[string]any{}, 1); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCanceledContext(t *testing.T) {
	c := newTestClient(&fakeConversations{}, &fakeTaskrouter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.OpenChannel(ctx, "cust-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("OpenChannel err = %v", err)
	}
	if err := c.PostMessage(ctx, "CH", "a", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("PostMessage err = %v", err)
	}
	if _, err := c.CreateTask(ctx, nil, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("CreateTask err = %v", err)
	}
}
