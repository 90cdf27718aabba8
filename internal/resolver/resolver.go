// Package resolver turns an authenticated, classified query into the account
// data needed to answer it, and renders that data as user-facing text.
// Resolution reads are pure lookups; nothing here mutates account state.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/repo"
)

// Sentinel errors for missing customer data. The state machine maps these to
// polite replies instead of failing the turn.
var (
	// ErrNoLinkedAccount: the customer has no account on record.
	ErrNoLinkedAccount = errors.New("no linked account")
	// ErrNoLoan: the customer holds no loans.
	ErrNoLoan = errors.New("no loan on record")
)

// RecentPaymentsLimit caps how many settled installments a payment-history
// answer includes.
const RecentPaymentsLimit = 3

// AccountData is the resolved snapshot for one query. Only the fields
// relevant to the requested intent are populated.
type AccountData struct {
	Intent domain.Intent

	Balance decimal.Decimal
	Account *domain.Account

	Loan           *domain.Loan
	EMIAmount      decimal.Decimal
	NextDue        *domain.Installment
	RecentPayments []domain.Installment
}

// Resolver answers balance, loan, and EMI queries from the database.
type Resolver struct {
	db *gorm.DB

	// now is a test seam for "upcoming" cutoffs.
	now func() time.Time
}

// New constructs a Resolver over db.
func New(db *gorm.DB) *Resolver {
	return &Resolver{db: db, now: time.Now}
}

// Resolve fetches the data needed to answer intent for customerID.
// Unsupported intents (agent_escalation, unclear) return an error; the state
// machine routes those before resolution.
func (r *Resolver) Resolve(ctx context.Context, intent domain.Intent, customerID string) (*AccountData, error) {
	switch intent {
	case domain.IntentBalance:
		return r.resolveBalance(ctx, customerID)
	case domain.IntentLoan:
		return r.resolveLoan(ctx, customerID)
	case domain.IntentEMI:
		return r.resolveEMI(ctx, customerID)
	default:
		return nil, fmt.Errorf("resolver: unsupported intent %q", intent)
	}
}

func (r *Resolver) resolveBalance(ctx context.Context, customerID string) (*AccountData, error) {
	acct, err := repo.GetAccountByCustomer(ctx, r.db, customerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoLinkedAccount
	}
	if err != nil {
		return nil, err
	}
	return &AccountData{Intent: domain.IntentBalance, Account: acct, Balance: acct.Balance}, nil
}

func (r *Resolver) resolveLoan(ctx context.Context, customerID string) (*AccountData, error) {
	loan, err := repo.GetPreferredLoan(ctx, r.db, customerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoLoan
	}
	if err != nil {
		return nil, err
	}
	return &AccountData{Intent: domain.IntentLoan, Loan: loan, EMIAmount: MonthlyEMI(loan)}, nil
}

func (r *Resolver) resolveEMI(ctx context.Context, customerID string) (*AccountData, error) {
	loan, err := repo.GetPreferredLoan(ctx, r.db, customerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoLoan
	}
	if err != nil {
		return nil, err
	}
	schedule, err := repo.ListInstallments(ctx, r.db, loan.ID)
	if err != nil {
		return nil, err
	}

	data := &AccountData{Intent: domain.IntentEMI, Loan: loan, EMIAmount: MonthlyEMI(loan)}
	data.NextDue = nextDue(schedule, r.now())
	data.RecentPayments = recentPayments(schedule, RecentPaymentsLimit)
	return data, nil
}

// MonthlyEMI derives the flat monthly installment from principal and tenure,
// rounded to two decimal places. Zero tenure yields zero rather than a
// division error.
func MonthlyEMI(loan *domain.Loan) decimal.Decimal {
	if loan == nil || loan.TenureMonths <= 0 {
		return decimal.Zero
	}
	return loan.Principal.DivRound(decimal.NewFromInt(int64(loan.TenureMonths)), 2)
}

// nextDue picks the earliest unsettled installment due on or after the
// current day. An installment due today still counts; anything already past
// its due date is excluded, so a schedule with only overdue installments has
// no "next" one.
func nextDue(schedule []domain.Installment, now time.Time) *domain.Installment {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var next *domain.Installment
	for i := range schedule {
		inst := &schedule[i]
		if inst.Status != domain.InstallmentDue || inst.DueDate.Before(today) {
			continue
		}
		if next == nil || inst.DueDate.Before(next.DueDate) {
			next = inst
		}
	}
	return next
}

// recentPayments returns up to limit settled installments, most recent
// payment first.
func recentPayments(schedule []domain.Installment, limit int) []domain.Installment {
	var paid []domain.Installment
	for _, inst := range schedule {
		if inst.Status == domain.InstallmentPaid && inst.PaymentDate != nil {
			paid = append(paid, inst)
		}
	}
	for i := 0; i < len(paid); i++ {
		for j := i + 1; j < len(paid); j++ {
			if paid[j].PaymentDate.After(*paid[i].PaymentDate) {
				paid[i], paid[j] = paid[j], paid[i]
			}
		}
	}
	if len(paid) > limit {
		paid = paid[:limit]
	}
	return paid
}

// inr renders amounts with Indian digit grouping (₹1,00,000.00).
var inr = message.NewPrinter(language.MustParse("en-IN"))

// FormatMoney renders a decimal amount as a rupee string.
func FormatMoney(d decimal.Decimal) string {
	f, _ := d.Float64()
	return inr.Sprintf("₹%v", number.Decimal(f,
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// FormatResponse renders resolved account data as the bot's reply text.
// It is a pure function of its input, so the same data always produces the
// same wording on every channel.
func FormatResponse(data *AccountData) string {
	switch data.Intent {
	case domain.IntentBalance:
		return fmt.Sprintf("Your account %s has an available balance of %s.",
			data.Account.ExternalID, FormatMoney(data.Balance))

	case domain.IntentLoan:
		return fmt.Sprintf(
			"Your %s loan has a principal of %s at %s%% interest over %d months. Your monthly EMI is %s.",
			data.Loan.LoanType, FormatMoney(data.Loan.Principal),
			data.Loan.InterestRate.StringFixed(2), data.Loan.TenureMonths,
			FormatMoney(data.EMIAmount))

	case domain.IntentEMI:
		var b strings.Builder
		fmt.Fprintf(&b, "Your monthly EMI is %s.", FormatMoney(data.EMIAmount))
		if data.NextDue != nil {
			fmt.Fprintf(&b, " Your next installment of %s is due on %s.",
				FormatMoney(data.NextDue.AmountDue), data.NextDue.DueDate.Format("02 Jan 2006"))
		} else {
			b.WriteString(" You have no pending installments.")
		}
		if len(data.RecentPayments) > 0 {
			b.WriteString(" Recent payments:")
			for _, p := range data.RecentPayments {
				fmt.Fprintf(&b, " %s on %s;",
					FormatMoney(p.AmountPaid), p.PaymentDate.Format("02 Jan 2006"))
			}
			return strings.TrimSuffix(b.String(), ";") + "."
		}
		return b.String()

	default:
		return "I could not find any details for that request."
	}
}
