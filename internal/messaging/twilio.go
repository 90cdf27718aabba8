// Package messaging sends outbound SMS and WhatsApp messages through the
// Twilio Programmable Messaging API. It backs OTP delivery and the WhatsApp
// notifications sent around agent handoffs.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const whatsappPrefix = "whatsapp:"

// ErrNotConfigured indicates the Twilio credentials or sender number are
// missing.
var ErrNotConfigured = errors.New("messaging: twilio sender not configured")

// messageCreator is the slice of the Twilio REST API the sender uses.
// Satisfied by *twilio.RestClient's Api service; tests substitute a fake.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Option configures a Sender.
type Option func(*Sender)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(s *Sender) { s.accountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(s *Sender) { s.authToken = token }
}

// WithSMSFrom sets the sender number for plain SMS (E.164).
func WithSMSFrom(from string) Option {
	return func(s *Sender) { s.smsFrom = from }
}

// WithWhatsAppFrom sets the sender number for WhatsApp; the "whatsapp:"
// prefix is added if missing.
func WithWhatsAppFrom(from string) Option {
	return func(s *Sender) {
		if from != "" && !strings.HasPrefix(from, whatsappPrefix) {
			from = whatsappPrefix + from
		}
		s.waFrom = from
	}
}

// Sender delivers texts via Twilio. The zero value is unusable; construct
// with NewSender.
type Sender struct {
	api        messageCreator
	accountSID string
	authToken  string
	smsFrom    string
	waFrom     string
}

// NewSender builds a Sender from the given options. Credentials and at least
// one sender number are required.
func NewSender(opts ...Option) (*Sender, error) {
	s := &Sender{}
	for _, o := range opts {
		o(s)
	}
	if s.accountSID == "" || s.authToken == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrNotConfigured)
	}
	if s.smsFrom == "" && s.waFrom == "" {
		return nil, fmt.Errorf("%w: no sender number", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: s.accountSID,
		Password: s.authToken,
	})
	s.api = client.Api
	return s, nil
}

// SendText sends a plain SMS to a phone number. It satisfies the OTP ledger's
// Dispatcher contract.
func (s *Sender) SendText(ctx context.Context, phoneNumber, body string) error {
	if s.smsFrom == "" {
		return ErrNotConfigured
	}
	return s.send(ctx, s.smsFrom, phoneNumber, body)
}

// SendWhatsApp sends a WhatsApp message to a phone number, adding the
// transport prefix as needed.
func (s *Sender) SendWhatsApp(ctx context.Context, phoneNumber, body string) error {
	if s.waFrom == "" {
		return ErrNotConfigured
	}
	to := phoneNumber
	if !strings.HasPrefix(to, whatsappPrefix) {
		to = whatsappPrefix + to
	}
	return s.send(ctx, s.waFrom, to, body)
}

func (s *Sender) send(ctx context.Context, from, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		log.Error().Err(err).Str("to", to).Msg("twilio message send failed")
		return fmt.Errorf("twilio send: %w", err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	log.Info().Str("to", to).Str("message_sid", sid).Msg("twilio message sent")
	return nil
}
