// Package domain defines the persistence models for customers, accounts,
// loans, installments, chat interaction logs, escalation records, and voice
// call tasks. These types are mapped with GORM and form the core data layer
// of the support-bot application.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Customer represents a bank customer known to the bot. Customers are either
// pre-provisioned (linked to accounts and loans) or created lazily from a
// WhatsApp sender number on first contact.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - FullName: display name used in agent handoff context.
//   - PhoneNumber: E.164 number; unique, used for OTP delivery and WhatsApp identity.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Customer struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	FullName    string         `json:"full_name"    gorm:"type:varchar(128)"`
	PhoneNumber string         `json:"phone_number" gorm:"type:varchar(32);not null;uniqueIndex"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// Account is a bank account linked to a customer. ExternalID is the
// user-facing account identifier customers type during verification
// (e.g. "ACC123"); it is distinct from the row's primary key.
type Account struct {
	ID         string          `json:"id"          gorm:"type:char(36);primaryKey"`
	ExternalID string          `json:"external_id" gorm:"type:varchar(32);not null;uniqueIndex"`
	CustomerID string          `json:"customer_id" gorm:"type:char(36);not null;index"`
	Balance    decimal.Decimal `json:"balance"     gorm:"type:decimal(14,2)"`
	Status     string          `json:"status"      gorm:"type:varchar(16);not null;default:'active'"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// Loan is a lending product held by a customer. A customer may hold several
// loans; queries prefer the active one and fall back to the first on record.
type Loan struct {
	ID           string          `json:"id"            gorm:"type:varchar(36);primaryKey"`
	CustomerID   string          `json:"customer_id"   gorm:"type:char(36);not null;index"`
	LoanType     string          `json:"loan_type"     gorm:"type:varchar(32)"`
	Principal    decimal.Decimal `json:"principal"     gorm:"type:decimal(14,2)"`
	InterestRate decimal.Decimal `json:"interest_rate" gorm:"type:decimal(6,3)"`
	TenureMonths int             `json:"tenure_months"`
	Status       string          `json:"status"        gorm:"type:varchar(16);not null;default:'active';index"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Loan.
func (Loan) TableName() string { return "loans" }

// Installment statuses.
const (
	InstallmentDue  = "due"
	InstallmentPaid = "paid"
)

// Installment is a single EMI entry in a loan's repayment schedule.
// Status is "due" until settled; paid rows carry the payment date and the
// amount actually received.
type Installment struct {
	ID          uint            `json:"id"           gorm:"primaryKey;autoIncrement"`
	LoanID      string          `json:"loan_id"      gorm:"type:varchar(36);not null;index"`
	Sequence    int             `json:"sequence"`
	AmountDue   decimal.Decimal `json:"amount_due"   gorm:"type:decimal(14,2)"`
	AmountPaid  decimal.Decimal `json:"amount_paid"  gorm:"type:decimal(14,2)"`
	DueDate     time.Time       `json:"due_date"     gorm:"index"`
	PaymentDate *time.Time      `json:"payment_date"`
	Status      string          `json:"status"       gorm:"type:varchar(16);not null;default:'due';index"`

	Loan Loan `json:"-" gorm:"foreignKey:LoanID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Installment.
func (Installment) TableName() string { return "installments" }

// ChatInteraction is one row of the append-only conversation log: every user
// message and every bot reply, across all channels, lands here. Rows are never
// mutated except for the bulk is_escalated flag set when a session is handed
// to an agent.
//
// CustomerID stays empty until the session authenticates.
type ChatInteraction struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	SessionID   string    `json:"session_id"   gorm:"type:varchar(96);not null;index:idx_session_log,priority:1"`
	CustomerID  string    `json:"customer_id"  gorm:"type:char(36);index"`
	Channel     string    `json:"channel"      gorm:"type:varchar(16);not null"`
	Sender      string    `json:"sender"       gorm:"type:varchar(16);not null;check:sender IN ('user','bot','agent','system')"`
	Text        string    `json:"text"         gorm:"type:text;not null"`
	Intent      string    `json:"intent"       gorm:"type:varchar(32)"`
	Stage       string    `json:"stage"        gorm:"type:varchar(32)"`
	IsEscalated bool      `json:"is_escalated" gorm:"not null;default:false"`
	ChannelSID  string    `json:"channel_sid"  gorm:"column:channel_sid;type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_session_log,priority:2"`
}

// TableName returns the database table name for ChatInteraction.
func (ChatInteraction) TableName() string { return "chat_interactions" }

// EscalationRecord statuses. Transitions past "pending" are driven by
// agent-side tooling, not by the bot.
const (
	EscalationPending    = "pending"
	EscalationInProgress = "in_progress"
	EscalationResolved   = "resolved"
)

// EscalationRecord captures one agent handoff: the LLM summary shown to the
// agent, its embedding (for later similarity lookup on the agent side), and
// the external task and conversation identifiers.
type EscalationRecord struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	CustomerID string         `json:"customer_id" gorm:"type:char(36);not null;index"`
	SessionID  string         `json:"session_id"  gorm:"type:varchar(96);not null;index"`
	Summary    string         `json:"summary"     gorm:"type:text"`
	Embedding  string         `json:"-"           gorm:"type:text"` // JSON-encoded []float64
	TaskSID    string         `json:"task_sid"    gorm:"column:task_sid;type:varchar(64)"`
	ChannelSID string         `json:"channel_sid" gorm:"column:channel_sid;type:varchar(64)"`
	Status     string         `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for EscalationRecord.
func (EscalationRecord) TableName() string { return "escalation_records" }

// CallTask is a pre-populated voice-call record that drives the IVR script.
// Inbound voice webhooks correlate on the task ID; the bot never creates
// these rows itself.
type CallTask struct {
	ID           string          `json:"task_id"       gorm:"type:char(36);primaryKey"`
	CustomerID   string          `json:"customer_id"   gorm:"type:char(36);not null;index"`
	CustomerName string          `json:"customer_name" gorm:"type:varchar(128)"`
	PhoneNumber  string          `json:"phone_number"  gorm:"type:varchar(32)"`
	LoanID       string          `json:"loan_id"       gorm:"type:varchar(36)"`
	EMIAmount    decimal.Decimal `json:"emi_amount"    gorm:"type:decimal(14,2)"`
	DueDate      time.Time       `json:"due_date"`
	Language     string          `json:"language"      gorm:"type:varchar(8);not null;default:'1'"`
	Status       string          `json:"status"        gorm:"type:varchar(24);not null;default:'pending';index"`
	OutcomeNotes string          `json:"outcome_notes" gorm:"type:varchar(64)"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName returns the database table name for CallTask.
func (CallTask) TableName() string { return "call_tasks" }

// LoanLast4 returns the last four characters of the loan identifier for
// voice playback, or "XXXX" when unknown.
func (t CallTask) LoanLast4() string {
	if len(t.LoanID) >= 4 {
		return t.LoanID[len(t.LoanID)-4:]
	}
	if t.LoanID != "" {
		return t.LoanID
	}
	return "XXXX"
}
