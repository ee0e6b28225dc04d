// Package ledger maintains per-owner wallet balances and withdrawal quotas.
//
// All mutations go through guarded single-statement updates so the
// read-modify-write happens inside the database. Two concurrent withdrawals
// for the same owner cannot both pass the balance check: the second one finds
// the guard false and matches zero rows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/payouts/pkg/errors"
	"github.com/vendora/payouts/pkg/models"
)

// Delta describes an atomic adjustment to an owner's ledger. Monetary fields
// may be negative; MonthlyCount counts withdrawal creations against the quota.
type Delta struct {
	Available    decimal.Decimal
	Pending      decimal.Decimal
	MonthlyCount int
}

// LedgerService defines the operations the withdrawal state machine relies on.
type LedgerService interface {
	GetOrCreate(ctx context.Context, ownerID uuid.UUID) (*models.WalletLedger, error)
	Get(ctx context.Context, ownerID uuid.UUID) (*models.WalletLedger, error)
	ApplyDelta(ctx context.Context, ownerID uuid.UUID, d Delta) error
	ApplyDeltaIn(tx *gorm.DB, ownerID uuid.UUID, d Delta) error
	RollMonth(ctx context.Context, ownerID uuid.UUID, now time.Time) error
	CreditEarnings(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) error
}

// Service implements LedgerService
type Service struct {
	logger              *zap.Logger
	db                  *gorm.DB
	defaultMonthlyLimit int
}

// NewService creates a new LedgerService
func NewService(logger *zap.Logger, db *gorm.DB, defaultMonthlyLimit int) (*Service, error) {
	if defaultMonthlyLimit <= 0 {
		return nil, fmt.Errorf("default monthly limit must be positive, got %d", defaultMonthlyLimit)
	}
	svc := &Service{
		logger:              logger,
		db:                  db,
		defaultMonthlyLimit: defaultMonthlyLimit,
	}
	return svc, nil
}

// monthStart returns the first instant of t's month in UTC.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetOrCreate returns the owner's ledger, creating an empty one on first touch.
func (s *Service) GetOrCreate(ctx context.Context, ownerID uuid.UUID) (*models.WalletLedger, error) {
	ledger, err := s.Get(ctx, ownerID)
	if err == nil {
		return ledger, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	ledger = &models.WalletLedger{
		OwnerID:                ownerID,
		AvailableBalance:       decimal.Zero,
		PendingWithdrawals:     decimal.Zero,
		TotalEarnings:          decimal.Zero,
		MonthlyWithdrawalCount: 0,
		MonthlyWithdrawalLimit: s.defaultMonthlyLimit,
		MonthlyAnchor:          monthStart(now),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.db.WithContext(ctx).Create(ledger).Error; err != nil {
		// Lost a creation race; the winner's row is authoritative.
		if existing, getErr := s.Get(ctx, ownerID); getErr == nil {
			return existing, nil
		}
		return nil, errors.Wrap(errors.ErrUnavailable, err).Explain("failed to create ledger")
	}
	return ledger, nil
}

// Get returns the owner's ledger.
func (s *Service) Get(ctx context.Context, ownerID uuid.UUID) (*models.WalletLedger, error) {
	var ledger models.WalletLedger
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&ledger).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound.Explain("ledger not found for owner %s", ownerID)
		}
		return nil, errors.Wrap(errors.ErrUnavailable, err).Explain("failed to load ledger")
	}
	return &ledger, nil
}

// ApplyDelta applies d to the owner's ledger as one guarded update.
func (s *Service) ApplyDelta(ctx context.Context, ownerID uuid.UUID, d Delta) error {
	return s.ApplyDeltaIn(s.db.WithContext(ctx), ownerID, d)
}

// ApplyDeltaIn is ApplyDelta running against tx, so a caller can combine the
// ledger adjustment with its own writes in a single database transaction.
func (s *Service) ApplyDeltaIn(tx *gorm.DB, ownerID uuid.UUID, d Delta) error {
	query := tx.Model(&models.WalletLedger{}).
		Where("owner_id = ?", ownerID).
		Where("available_balance + ? >= 0", d.Available)
	if d.MonthlyCount > 0 {
		query = query.Where("monthly_withdrawal_count + ? <= monthly_withdrawal_limit", d.MonthlyCount)
	}

	res := query.Updates(map[string]interface{}{
		"available_balance":        gorm.Expr("available_balance + ?", d.Available),
		"pending_withdrawals":      gorm.Expr("pending_withdrawals + ?", d.Pending),
		"monthly_withdrawal_count": gorm.Expr("monthly_withdrawal_count + ?", d.MonthlyCount),
		"updated_at":               time.Now().UTC(),
	})
	if res.Error != nil {
		return errors.Wrap(errors.ErrUnavailable, res.Error).Explain("failed to update ledger")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// The guard refused the update; re-read to say why.
	var ledger models.WalletLedger
	if err := tx.Where("owner_id = ?", ownerID).First(&ledger).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.ErrNotFound.Explain("ledger not found for owner %s", ownerID)
		}
		return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to load ledger")
	}
	if ledger.AvailableBalance.Add(d.Available).IsNegative() {
		return errors.ErrInsufficientBalance.Explain(
			"available balance %s cannot cover %s", ledger.AvailableBalance, d.Available.Neg())
	}
	if d.MonthlyCount > 0 && ledger.MonthlyWithdrawalCount+d.MonthlyCount > ledger.MonthlyWithdrawalLimit {
		return errors.ErrMonthlyLimitExceeded.Explain(
			"monthly withdrawal limit of %d reached", ledger.MonthlyWithdrawalLimit)
	}
	// Guard state changed between the update and the re-read.
	return errors.ErrUnavailable.Explain("ledger update conflicted, retry")
}

// RollMonth resets the monthly counter when the stored anchor is behind the
// current calendar month. Safe to call on every withdrawal creation.
func (s *Service) RollMonth(ctx context.Context, ownerID uuid.UUID, now time.Time) error {
	anchor := monthStart(now)
	res := s.db.WithContext(ctx).Model(&models.WalletLedger{}).
		Where("owner_id = ? AND monthly_anchor < ?", ownerID, anchor).
		Updates(map[string]interface{}{
			"monthly_withdrawal_count": 0,
			"monthly_anchor":           anchor,
			"updated_at":               now.UTC(),
		})
	if res.Error != nil {
		return errors.Wrap(errors.ErrUnavailable, res.Error).Explain("failed to roll month")
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Monthly withdrawal counter reset",
			zap.String("owner_id", ownerID.String()),
			zap.Time("anchor", anchor))
	}
	return nil
}

// CreditEarnings pays settled order proceeds into the owner's wallet.
func (s *Service) CreditEarnings(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalid.Explain("credit amount must be positive, got %s", amount)
	}
	if _, err := s.GetOrCreate(ctx, ownerID); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.WalletLedger{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]interface{}{
			"available_balance": gorm.Expr("available_balance + ?", amount),
			"total_earnings":    gorm.Expr("total_earnings + ?", amount),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrap(errors.ErrUnavailable, res.Error).Explain("failed to credit earnings")
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound.Explain("ledger not found for owner %s", ownerID)
	}

	s.logger.Info("Earnings credited",
		zap.String("owner_id", ownerID.String()),
		zap.String("amount", amount.String()))
	return nil
}
