// Package otp implements the one-time-passcode ledger used as the bot's sole
// authentication factor. Challenges are scoped to a phone number, not to a
// session: issuing a new code from any channel replaces whatever code was
// pending for that number.
//
// Lifecycle of a challenge:
//   - created by Issue (replacing any prior challenge for the number),
//   - destroyed by successful validation (single use),
//   - destroyed on expiry (5 minutes),
//   - destroyed on the third failed attempt.
//
// No other component reads or writes challenge state; the ledger is the only
// door.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// CodeTTL is how long an issued code stays valid.
	CodeTTL = 5 * time.Minute
	// MaxAttempts is the number of wrong guesses allowed before the
	// challenge is destroyed and verification must restart.
	MaxAttempts = 3
)

// ErrDispatch wraps a failure to deliver the code to the user's phone.
// The challenge is invalidated on dispatch failure, so a user is never asked
// for a code that was never sent.
var ErrDispatch = errors.New("otp dispatch failed")

// Status is the outcome of a validation attempt.
type Status int

// Validation outcomes.
const (
	// Valid: code matched; the challenge has been consumed.
	Valid Status = iota
	// NoActiveChallenge: nothing pending for this number.
	NoActiveChallenge
	// Expired: the challenge outlived CodeTTL and has been removed.
	Expired
	// AttemptsExceeded: too many wrong guesses; challenge removed.
	AttemptsExceeded
	// Mismatch: wrong code, attempts remain.
	Mismatch
)

// String returns the lowercase name of the status for logs and metrics.
func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case NoActiveChallenge:
		return "no_active_challenge"
	case Expired:
		return "expired"
	case AttemptsExceeded:
		return "attempts_exceeded"
	default:
		return "mismatch"
	}
}

// Result carries the validation status plus, on Mismatch, the number of
// attempts still available.
type Result struct {
	Status            Status
	AttemptsRemaining int
}

// Dispatcher delivers the code text to a phone number. Implementations wrap
// an SMS/WhatsApp provider; tests substitute a fake.
type Dispatcher interface {
	SendText(ctx context.Context, phoneNumber, body string) error
}

// challenge is the stored state for one phone number.
type challenge struct {
	code     string
	attempts int
	issuedAt time.Time
}

// Ledger issues and validates OTP challenges. Safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	challenges map[string]*challenge

	dispatcher Dispatcher
	ttl        time.Duration

	// test seams
	now      func() time.Time
	codeFunc func() string
}

// NewLedger constructs a Ledger that delivers codes through d.
func NewLedger(d Dispatcher) *Ledger {
	return &Ledger{
		challenges: make(map[string]*challenge),
		dispatcher: d,
		ttl:        CodeTTL,
		now:        time.Now,
		codeFunc:   randomCode,
	}
}

// randomCode produces a 6-digit numeric code (100000–999999) from the
// system CSPRNG. The code is an authentication factor, so it must not come
// from a seedable source.
func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// Only reachable when the platform's random source is broken.
		panic(fmt.Sprintf("otp: random source unavailable: %v", err))
	}
	return fmt.Sprintf("%06d", 100000+n.Int64())
}

// Issue generates a fresh 6-digit code for phoneNumber, stores it (replacing
// any prior challenge for that number), and dispatches it. On dispatch
// failure the stored challenge is removed and ErrDispatch is returned: a
// challenge only exists if its code plausibly reached the user.
func (l *Ledger) Issue(ctx context.Context, phoneNumber string) (string, error) {
	code := l.codeFunc()

	l.mu.Lock()
	l.challenges[phoneNumber] = &challenge{code: code, issuedAt: l.now()}
	l.mu.Unlock()

	body := fmt.Sprintf("Your verification code is %s. It expires in 5 minutes. Do not share it with anyone.", code)
	if err := l.dispatcher.SendText(ctx, phoneNumber, body); err != nil {
		l.mu.Lock()
		delete(l.challenges, phoneNumber)
		l.mu.Unlock()
		log.Warn().Err(err).Str("phone", phoneNumber).Msg("otp dispatch failed, challenge discarded")
		return "", fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	log.Info().Str("phone", phoneNumber).Msg("otp issued")
	return code, nil
}

// Validate checks candidate against the pending challenge for phoneNumber.
//
// Outcomes:
//   - Valid: match; challenge consumed.
//   - NoActiveChallenge: nothing pending (never issued, already used, or
//     previously destroyed).
//   - Expired: past CodeTTL; challenge removed.
//   - AttemptsExceeded: this wrong guess was the third (or later); challenge
//     removed.
//   - Mismatch: wrong guess with attempts left; AttemptsRemaining reports
//     how many.
func (l *Ledger) Validate(phoneNumber, candidate string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.challenges[phoneNumber]
	if !ok {
		return Result{Status: NoActiveChallenge}
	}
	if l.now().Sub(ch.issuedAt) > l.ttl {
		delete(l.challenges, phoneNumber)
		return Result{Status: Expired}
	}
	if ch.code == candidate {
		delete(l.challenges, phoneNumber)
		return Result{Status: Valid}
	}
	ch.attempts++
	if ch.attempts >= MaxAttempts {
		delete(l.challenges, phoneNumber)
		return Result{Status: AttemptsExceeded}
	}
	return Result{Status: Mismatch, AttemptsRemaining: MaxAttempts - ch.attempts}
}
