package session

import (
	"testing"
	"time"

	"github.com/finvola/go-support-backend/internal/domain"
)

func newTestStore(ttl time.Duration) (*Store, *time.Time) {
	s := NewStore(ttl)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestCreate_InitialStage(t *testing.T) {
	s, _ := newTestStore(time.Minute)

	sess := s.Create(domain.ChannelWeb, "cookie-1")
	if sess == nil {
		t.Fatal("Create returned nil")
	}
	if sess.Stage != domain.StageAwaitingMenuChoice {
		t.Fatalf("stage = %q, want %q", sess.Stage, domain.StageAwaitingMenuChoice)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if sess.Channel != domain.ChannelWeb || sess.Identity != "cookie-1" {
		t.Fatalf("unexpected identity: %q/%q", sess.Channel, sess.Identity)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	s.Create(domain.ChannelWeb, "cookie-1")

	a := s.Get(domain.ChannelWeb, "cookie-1")
	a.Stage = domain.StageAuthenticated
	a.AppendHistory(domain.SenderUser, "hello", time.Now())

	b := s.Get(domain.ChannelWeb, "cookie-1")
	if b.Stage != domain.StageAwaitingMenuChoice {
		t.Fatalf("stored stage mutated through the copy: %q", b.Stage)
	}
	if len(b.History) != 0 {
		t.Fatalf("stored history mutated through the copy: %d entries", len(b.History))
	}
}

func TestGet_MissingKey(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	if got := s.Get(domain.ChannelWeb, "nope"); got != nil {
		t.Fatalf("expected nil for unknown key, got %+v", got)
	}
}

func TestGet_ExpiresAfterTTL(t *testing.T) {
	s, now := newTestStore(time.Minute)
	s.Create(domain.ChannelWhatsApp, "+15550001111")

	*now = now.Add(59 * time.Second)
	if s.Get(domain.ChannelWhatsApp, "+15550001111") == nil {
		t.Fatal("session expired before TTL")
	}

	*now = now.Add(time.Second)
	if s.Get(domain.ChannelWhatsApp, "+15550001111") != nil {
		t.Fatal("session still alive at TTL")
	}
}

func TestGet_DoesNotRefreshTimer(t *testing.T) {
	s, now := newTestStore(time.Minute)
	s.Create(domain.ChannelWeb, "cookie-1")

	*now = now.Add(40 * time.Second)
	if s.Get(domain.ChannelWeb, "cookie-1") == nil {
		t.Fatal("session should still be alive")
	}

	// A read at t+40s must not extend the deadline past t+60s.
	*now = now.Add(25 * time.Second)
	if s.Get(domain.ChannelWeb, "cookie-1") != nil {
		t.Fatal("read refreshed the idle timer")
	}
}

func TestUpdate_ResetsTimerAndStoresCopy(t *testing.T) {
	s, now := newTestStore(time.Minute)
	sess := s.Create(domain.ChannelWeb, "cookie-1")

	*now = now.Add(50 * time.Second)
	sess.Stage = domain.StageAwaitingOTP
	s.Update(sess)

	// The update reset the idle timer, so 50s later it is still alive.
	*now = now.Add(50 * time.Second)
	got := s.Get(domain.ChannelWeb, "cookie-1")
	if got == nil {
		t.Fatal("update did not reset the idle timer")
	}
	if got.Stage != domain.StageAwaitingOTP {
		t.Fatalf("stage = %q, want %q", got.Stage, domain.StageAwaitingOTP)
	}

	// Mutating the caller's copy after Update must not leak into the store.
	sess.Stage = domain.StageEscalated
	if s.Get(domain.ChannelWeb, "cookie-1").Stage != domain.StageAwaitingOTP {
		t.Fatal("Update stored the caller's pointer, not a copy")
	}
}

func TestUpdate_LastWriteWins(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	s.Create(domain.ChannelWeb, "cookie-1")

	a := s.Get(domain.ChannelWeb, "cookie-1")
	b := s.Get(domain.ChannelWeb, "cookie-1")

	a.Stage = domain.StageAwaitingAccountID
	s.Update(a)
	b.Stage = domain.StageAwaitingOTP
	s.Update(b)

	if got := s.Get(domain.ChannelWeb, "cookie-1").Stage; got != domain.StageAwaitingOTP {
		t.Fatalf("stage = %q, want the later write %q", got, domain.StageAwaitingOTP)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	s.Create(domain.ChannelWeb, "cookie-1")
	s.Delete(domain.ChannelWeb, "cookie-1")
	if s.Get(domain.ChannelWeb, "cookie-1") != nil {
		t.Fatal("session survived Delete")
	}
	// Deleting again is a no-op.
	s.Delete(domain.ChannelWeb, "cookie-1")
}

func TestLen_CountsOnlyLive(t *testing.T) {
	s, now := newTestStore(time.Minute)
	s.Create(domain.ChannelWeb, "a")
	*now = now.Add(45 * time.Second)
	s.Create(domain.ChannelWeb, "b")

	if got := s.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	*now = now.Add(30 * time.Second)
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1 after first session expired", got)
	}
}

func TestKeysAreChannelScoped(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	s.Create(domain.ChannelWeb, "x")
	s.Create(domain.ChannelWhatsApp, "x")

	web := s.Get(domain.ChannelWeb, "x")
	wa := s.Get(domain.ChannelWhatsApp, "x")
	if web == nil || wa == nil {
		t.Fatal("expected both sessions to exist")
	}
	if web.ID == wa.ID {
		t.Fatal("channels share a session for the same identity")
	}
}
