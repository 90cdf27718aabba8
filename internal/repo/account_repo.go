// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the identity and financial-data queries
// used during verification and query resolution.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// AccountIdentity is the "who owns this account" projection used during the
// verification flow. It is deliberately separate from the financial snapshot
// queries: the state machine only needs the owner and a phone number to send
// an OTP to.
type AccountIdentity struct {
	CustomerID  string
	PhoneNumber string
}

// FindAccountByExternalID resolves a user-typed account identifier to its
// owning customer and registered phone number. Returns ErrNotFound when the
// account id is unknown.
func FindAccountByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*AccountIdentity, error) {
	var acct domain.Account
	err := db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&acct).Error
	if err != nil {
		return nil, err
	}
	var cust domain.Customer
	if err := db.WithContext(ctx).First(&cust, "id = ?", acct.CustomerID).Error; err != nil {
		return nil, err
	}
	return &AccountIdentity{CustomerID: cust.ID, PhoneNumber: cust.PhoneNumber}, nil
}

// FindOrCreateCustomerByPhone returns the customer id registered for a phone
// number, creating a bare customer row on first contact (WhatsApp identities
// are phone numbers, so an unknown sender still gets a durable customer id).
func FindOrCreateCustomerByPhone(ctx context.Context, db *gorm.DB, phone string) (string, error) {
	var cust domain.Customer
	err := db.WithContext(ctx).Where("phone_number = ?", phone).First(&cust).Error
	if err == nil {
		return cust.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", err
	}
	cust = domain.Customer{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&cust).Error; err != nil {
		return "", err
	}
	return cust.ID, nil
}

// GetAccountByCustomer fetches the account linked to a customer, or
// ErrNotFound when the customer has no linked account.
func GetAccountByCustomer(ctx context.Context, db *gorm.DB, customerID string) (*domain.Account, error) {
	var acct domain.Account
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		First(&acct).Error
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetPreferredLoan returns the customer's active loan, falling back to the
// first loan on record when no active one exists. ErrNotFound means the
// customer holds no loans at all.
func GetPreferredLoan(ctx context.Context, db *gorm.DB, customerID string) (*domain.Loan, error) {
	var loan domain.Loan
	err := db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, "active").
		First(&loan).Error
	if err == nil {
		return &loan, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	err = db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at asc").
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// ListInstallments returns the full repayment schedule for a loan ordered by
// due date ascending. An empty slice is a valid result (schedule not yet
// generated).
func ListInstallments(ctx context.Context, db *gorm.DB, loanID string) ([]domain.Installment, error) {
	var out []domain.Installment
	err := db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("due_date asc").
		Find(&out).Error
	return out, err
}

// GetCallTask fetches a voice call task by id, or ErrNotFound when the task
// id is unknown (stale webhook, mistyped correlation id).
func GetCallTask(ctx context.Context, db *gorm.DB, taskID string) (*domain.CallTask, error) {
	var task domain.CallTask
	err := db.WithContext(ctx).First(&task, "id = ?", taskID).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateCallTask persists a call task's language, status, and outcome after
// an IVR step. Returns ErrNotFound when no row was touched.
func UpdateCallTask(ctx context.Context, db *gorm.DB, taskID string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.CallTask{}).
		Where("id = ?", taskID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
