// Package models holds the persisted types shared across the payout service.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the closed set of states a withdrawal request moves through.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalRejected   WithdrawalStatus = "rejected"
	WithdrawalCompleted  WithdrawalStatus = "completed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalRejected || s == WithdrawalCompleted
}

// Valid reports whether s is one of the known statuses.
func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalProcessing, WithdrawalApproved, WithdrawalRejected, WithdrawalCompleted:
		return true
	}
	return false
}

// WithdrawalRequest represents a store owner's request to move money out of their wallet.
type WithdrawalRequest struct {
	ID            uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID       uuid.UUID        `json:"owner_id" gorm:"type:uuid;index"`
	Amount        decimal.Decimal  `json:"amount" gorm:"type:decimal(20,2);not null"`
	Status        WithdrawalStatus `json:"status" gorm:"type:varchar(20);index"`
	BankAccountID uuid.UUID        `json:"bank_account_id" gorm:"type:uuid"`
	AdminNotes    string           `json:"admin_notes,omitempty"`
	ReviewedBy    string           `json:"reviewed_by,omitempty"`
	RequestedAt   time.Time        `json:"requested_at"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// WalletLedger tracks a single owner's balances and withdrawal quota. One row per owner.
type WalletLedger struct {
	OwnerID                uuid.UUID       `json:"owner_id" gorm:"primaryKey;type:uuid"`
	AvailableBalance       decimal.Decimal `json:"available_balance" gorm:"type:decimal(20,2);not null"`
	PendingWithdrawals     decimal.Decimal `json:"pending_withdrawals" gorm:"type:decimal(20,2);not null"`
	TotalEarnings          decimal.Decimal `json:"total_earnings" gorm:"type:decimal(20,2);not null"`
	MonthlyWithdrawalCount int             `json:"monthly_withdrawal_count"`
	MonthlyWithdrawalLimit int             `json:"monthly_withdrawal_limit"`
	// MonthlyAnchor is the first instant (UTC) of the month the counter belongs to.
	MonthlyAnchor time.Time `json:"monthly_anchor"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BankAccount holds an owner's payout destination. Locked becomes true on first
// save and never reverts; subsequent edits go through a BankChangeRequest.
type BankAccount struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID       uuid.UUID `json:"owner_id" gorm:"type:uuid;uniqueIndex"`
	BankName      string    `json:"bank_name" gorm:"type:varchar(100);not null"`
	AccountName   string    `json:"account_name" gorm:"type:varchar(100);not null"`
	AccountNumber string    `json:"account_number" gorm:"type:varchar(50);not null"`
	RoutingNumber string    `json:"routing_number,omitempty" gorm:"type:varchar(50)"`
	Locked        bool      `json:"locked"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BankChangeStatus is the state of a bank detail change request.
type BankChangeStatus string

const (
	BankChangePending  BankChangeStatus = "pending"
	BankChangeApproved BankChangeStatus = "approved"
	BankChangeRejected BankChangeStatus = "rejected"
)

// BankChangeRequest is an owner's request to replace their locked bank details,
// resolved by an admin. The partial unique index enforces at most one pending
// request per owner even across concurrent database connections.
type BankChangeRequest struct {
	ID            uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID       uuid.UUID        `json:"owner_id" gorm:"type:uuid;index;uniqueIndex:uniq_owner_pending_change,where:status = 'pending'"`
	BankName      string           `json:"bank_name" gorm:"type:varchar(100);not null"`
	AccountName   string           `json:"account_name" gorm:"type:varchar(100);not null"`
	AccountNumber string           `json:"account_number" gorm:"type:varchar(50);not null"`
	RoutingNumber string           `json:"routing_number,omitempty" gorm:"type:varchar(50)"`
	Status        BankChangeStatus `json:"status" gorm:"type:varchar(20);index"`
	ResolvedBy    string           `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
