package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/repo"
)

// fakeVoiceTicketing counts routing tasks created from the voice flow.
type fakeVoiceTicketing struct {
	tasks []map[string]any
}

func (f *fakeVoiceTicketing) OpenChannel(context.Context, string) (string, error) { return "CH", nil }
func (f *fakeVoiceTicketing) PostMessage(context.Context, string, string, string) error {
	return nil
}
func (f *fakeVoiceTicketing) CreateTask(_ context.Context, attributes map[string]any, _ int) (string, error) {
	f.tasks = append(f.tasks, attributes)
	return "WT_VOICE", nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) SendWhatsApp(_ context.Context, phoneNumber, body string) error {
	f.sent = append(f.sent, phoneNumber+": "+body)
	return nil
}

func seedCallTask(t *testing.T, db *gorm.DB) {
	t.Helper()
	task := domain.CallTask{
		ID:           "task-1",
		CustomerID:   "cust-1",
		CustomerName: "Priya Sharma",
		PhoneNumber:  "+919800011122",
		LoanID:       "loan-12345678",
		EMIAmount:    decimal.NewFromInt(10000),
		DueDate:      time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC),
		Language:     "1",
		Status:       "pending",
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed call task: %v", err)
	}
}

func newVoiceRouter(db *gorm.DB, deps VoiceDeps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(&fakeTurnService{}, db, deps)
	r.POST("/webhooks/voice/answer", h.VoiceAnswer)
	r.POST("/webhooks/voice/language", h.VoiceLanguage)
	r.POST("/webhooks/voice/confirm", h.VoiceConfirm)
	r.POST("/webhooks/voice/support", h.VoiceSupport)
	return r
}

func postVoice(t *testing.T, r *gin.Engine, path, digits string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if digits != "" {
		form.Set("Digits", digits)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func taskStatus(t *testing.T, db *gorm.DB) string {
	t.Helper()
	task, err := repo.GetCallTask(context.Background(), db, "task-1")
	if err != nil {
		t.Fatalf("fetch task: %v", err)
	}
	return task.Status
}

func TestVoiceAnswer(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/answer?task_id=task-1", "")
	body := w.Body.String()
	if !strings.Contains(body, "<Gather") || !strings.Contains(body, "press 1") {
		t.Fatalf("twiml = %q", body)
	}
	if !strings.Contains(body, "/webhooks/voice/language?task_id=task-1") {
		t.Fatalf("gather action missing: %q", body)
	}
	if !strings.Contains(body, "Polly.Raveena") {
		t.Fatalf("say voice missing: %q", body)
	}
	if got := taskStatus(t, db); got != "in_progress" {
		t.Fatalf("task status = %q, want in_progress", got)
	}
}

func TestVoiceAnswer_MissingOrUnknownTask(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/answer", "")
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("missing task_id should hang up: %q", w.Body.String())
	}

	w = postVoice(t, r, "/webhooks/voice/answer?task_id=task-404", "")
	if !strings.Contains(w.Body.String(), "could not find your call details") {
		t.Fatalf("unknown task reply = %q", w.Body.String())
	}
}

func TestVoiceLanguage(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/language?task_id=task-1", "2")
	body := w.Body.String()
	if !strings.Contains(body, "Priya Sharma") {
		t.Fatalf("identity prompt missing the name: %q", body)
	}
	task, err := repo.GetCallTask(context.Background(), db, "task-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.Language != "2" {
		t.Fatalf("language = %q, want 2", task.Language)
	}

	// Garbage digits fall back to English.
	postVoice(t, r, "/webhooks/voice/language?task_id=task-1", "9")
	task, _ = repo.GetCallTask(context.Background(), db, "task-1")
	if task.Language != "1" {
		t.Fatalf("language = %q, want the 1 fallback", task.Language)
	}
}

func TestVoiceConfirm_Yes(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/confirm?task_id=task-1", "1")
	body := w.Body.String()
	for _, want := range []string{"₹10,000.00", "5678", "July 5", "press 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("confirm twiml %q missing %q", body, want)
		}
	}
}

func TestVoiceConfirm_WrongPerson(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/confirm?task_id=task-1", "2")
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("twiml = %q", w.Body.String())
	}
	if got := taskStatus(t, db); got != "wrong_person" {
		t.Fatalf("task status = %q, want wrong_person", got)
	}
}

func TestVoiceSupport_NoHelpNeeded(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/support?task_id=task-1", "2")
	if !strings.Contains(w.Body.String(), "Thank you for your time") {
		t.Fatalf("twiml = %q", w.Body.String())
	}
	if got := taskStatus(t, db); got != "completed" {
		t.Fatalf("task status = %q, want completed", got)
	}
}

func TestVoiceSupport_ConnectsAgent(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	tk := &fakeVoiceTicketing{}
	notifier := &fakeNotifier{}
	r := newVoiceRouter(db, VoiceDeps{Ticketing: tk, Notifier: notifier, AgentNumber: "+15550009999"})

	w := postVoice(t, r, "/webhooks/voice/support?task_id=task-1", "1")
	body := w.Body.String()
	if !strings.Contains(body, "<Dial") || !strings.Contains(body, "+15550009999") {
		t.Fatalf("twiml = %q", body)
	}
	if got := taskStatus(t, db); got != "escalated" {
		t.Fatalf("task status = %q, want escalated", got)
	}

	if len(tk.tasks) != 1 || tk.tasks[0]["type"] != "voice_support" || tk.tasks[0]["call_task"] != "task-1" {
		t.Fatalf("routing tasks = %+v", tk.tasks)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "+919800011122") {
		t.Fatalf("recaps = %v", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0], "₹10,000.00") {
		t.Fatalf("recap missing the EMI amount: %q", notifier.sent[0])
	}
}

func TestVoiceSupport_NoAgentConfigured(t *testing.T) {
	db := newHandlersDB(t, &domain.CallTask{})
	seedCallTask(t, db)
	r := newVoiceRouter(db, VoiceDeps{})

	w := postVoice(t, r, "/webhooks/voice/support?task_id=task-1", "1")
	body := w.Body.String()
	if strings.Contains(body, "<Dial") {
		t.Fatalf("dialed without an agent number: %q", body)
	}
	if !strings.Contains(body, "call you back") {
		t.Fatalf("twiml = %q", body)
	}
	if got := taskStatus(t, db); got != "escalated" {
		t.Fatalf("task status = %q, want escalated", got)
	}
}
