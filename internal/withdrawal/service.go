// Package withdrawal implements the withdrawal lifecycle: request creation
// with balance and quota checks, admin-driven status transitions with their
// ledger side effects, and the queries backing the owner and admin views.
package withdrawal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/payouts/internal/bankvault"
	"github.com/vendora/payouts/internal/config"
	"github.com/vendora/payouts/internal/ledger"
	"github.com/vendora/payouts/internal/notification"
	"github.com/vendora/payouts/pkg/errors"
	"github.com/vendora/payouts/pkg/metrics"
	"github.com/vendora/payouts/pkg/models"
)

// ListFilter narrows a withdrawal query.
type ListFilter struct {
	OwnerID *uuid.UUID
	Status  *models.WithdrawalStatus
	Page    int
	Limit   int
}

// BulkResult reports the outcome of a bulk transition. Partial success is the
// success case: illegal ids land in Skipped without failing the batch.
type BulkResult struct {
	Applied []uuid.UUID `json:"applied"`
	Skipped []uuid.UUID `json:"skipped"`
}

// WithdrawalService defines the withdrawal lifecycle operations.
type WithdrawalService interface {
	CreateRequest(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) (*models.WithdrawalRequest, error)
	Transition(ctx context.Context, requestID uuid.UUID, target models.WithdrawalStatus, adminNotes, reviewedBy string) (*models.WithdrawalRequest, error)
	BulkTransition(ctx context.Context, requestIDs []uuid.UUID, target models.WithdrawalStatus, reviewedBy string) (*BulkResult, error)
	Get(ctx context.Context, requestID uuid.UUID) (*models.WithdrawalRequest, error)
	List(ctx context.Context, filter ListFilter) ([]*models.WithdrawalRequest, int64, error)
}

// Service implements WithdrawalService. It is the only writer of withdrawal
// rows and the only caller of ledger deltas for withdrawal flows.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	ledger ledger.LedgerService
	vault  bankvault.Vault
	relay  notification.Relay
	policy config.WithdrawalConfig
}

// NewService creates a new WithdrawalService
func NewService(logger *zap.Logger, db *gorm.DB, ledgerSvc ledger.LedgerService, vault bankvault.Vault, relay notification.Relay, policy config.WithdrawalConfig) (*Service, error) {
	svc := &Service{
		logger: logger,
		db:     db,
		ledger: ledgerSvc,
		vault:  vault,
		relay:  relay,
		policy: policy,
	}
	return svc, nil
}

// CreateRequest validates and opens a withdrawal request in status pending.
// The balance hold, the quota increment and the request row are written in one
// database transaction; a refused precondition leaves no trace.
func (s *Service) CreateRequest(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) (*models.WithdrawalRequest, error) {
	// Non-positive amounts are refused outright; a negative delta through the
	// hold path would credit the wallet.
	if !amount.IsPositive() || amount.LessThan(s.policy.MinimumAmount) {
		metrics.WithdrawalsRejectedAtCreate.WithLabelValues("below_minimum").Inc()
		return nil, errors.ErrInvalid.Explain("minimum withdrawal is %s", s.policy.MinimumAmount)
	}

	// Bank details are checked before any ledger read or write.
	account, err := s.vault.GetLockedAccount(ctx, ownerID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			metrics.WithdrawalsRejectedAtCreate.WithLabelValues("missing_bank_details").Inc()
			return nil, errors.ErrMissingBankDetails.Explain("add bank details before requesting a withdrawal")
		}
		return nil, err
	}

	if _, err := s.ledger.GetOrCreate(ctx, ownerID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.ledger.RollMonth(ctx, ownerID, now); err != nil {
		return nil, err
	}

	request := &models.WithdrawalRequest{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Amount:        amount,
		Status:        models.WithdrawalPending,
		BankAccountID: account.ID,
		RequestedAt:   now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta := ledger.Delta{
			Available:    amount.Neg(),
			Pending:      amount,
			MonthlyCount: 1,
		}
		if err := s.ledger.ApplyDeltaIn(tx, ownerID, delta); err != nil {
			return err
		}
		if err := tx.Create(request).Error; err != nil {
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to create withdrawal request")
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrInsufficientBalance):
			metrics.WithdrawalsRejectedAtCreate.WithLabelValues("insufficient_balance").Inc()
		case errors.Is(err, errors.ErrMonthlyLimitExceeded):
			metrics.WithdrawalsRejectedAtCreate.WithLabelValues("monthly_limit").Inc()
		}
		return nil, err
	}

	metrics.WithdrawalsCreated.Inc()
	s.logger.Info("Withdrawal request created",
		zap.String("request_id", request.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("amount", amount.String()))

	s.relay.Publish(ownerID, notification.Event{
		Type:      notification.EventWithdrawalCreated,
		OwnerID:   ownerID,
		RequestID: request.ID,
		Status:    request.Status,
		Amount:    amount.String(),
		At:        now,
	})
	return request, nil
}

// Transition moves a request along one edge of the transition table and
// applies the edge's ledger effect atomically. The status flip is a guarded
// update keyed on the current status, so a concurrent transition of the same
// request loses the race and fails with InvalidTransition instead of
// double-applying the ledger delta.
func (s *Service) Transition(ctx context.Context, requestID uuid.UUID, target models.WithdrawalStatus, adminNotes, reviewedBy string) (*models.WithdrawalRequest, error) {
	if !target.Valid() {
		return nil, errors.ErrInvalid.Explain("unknown target status %q", target)
	}

	var request models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", requestID).First(&request).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.Explain("withdrawal request %s not found", requestID)
			}
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to load withdrawal request")
		}

		from := request.Status

		// The edge is checked before the ledger is touched.
		if !CanTransition(from, target) {
			return errors.ErrInvalidTransition.Explain(
				"cannot transition from %s to %s", from, target)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":     target,
			"updated_at": now,
		}
		if adminNotes != "" {
			updates["admin_notes"] = adminNotes
		}
		if reviewedBy != "" {
			updates["reviewed_by"] = reviewedBy
		}
		if from == models.WithdrawalPending {
			updates["processed_at"] = now
		}
		if target == models.WithdrawalCompleted {
			updates["completed_at"] = now
		}

		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", requestID, from).
			Updates(updates)
		if res.Error != nil {
			return errors.Wrap(errors.ErrUnavailable, res.Error).Explain("failed to update withdrawal request")
		}
		if res.RowsAffected == 0 {
			return errors.ErrInvalidTransition.Explain(
				"withdrawal request %s changed concurrently", requestID)
		}

		switch target {
		case models.WithdrawalRejected:
			// The withdrawal will never be paid; the hold flows back.
			delta := ledger.Delta{Available: request.Amount, Pending: request.Amount.Neg()}
			if err := s.ledger.ApplyDeltaIn(tx, request.OwnerID, delta); err != nil {
				return err
			}
		case models.WithdrawalCompleted:
			// Funds are paid out; the hold clears without returning.
			delta := ledger.Delta{Available: decimal.Zero, Pending: request.Amount.Neg()}
			if err := s.ledger.ApplyDeltaIn(tx, request.OwnerID, delta); err != nil {
				return err
			}
		}

		// Reflect the write in the returned value.
		request.Status = target
		if adminNotes != "" {
			request.AdminNotes = adminNotes
		}
		if reviewedBy != "" {
			request.ReviewedBy = reviewedBy
		}
		if from == models.WithdrawalPending {
			request.ProcessedAt = &now
		}
		if target == models.WithdrawalCompleted {
			request.CompletedAt = &now
		}
		request.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsApplied.WithLabelValues(string(target)).Inc()
	s.logger.Info("Withdrawal transition applied",
		zap.String("request_id", request.ID.String()),
		zap.String("owner_id", request.OwnerID.String()),
		zap.String("status", string(target)),
		zap.String("reviewed_by", reviewedBy))

	s.relay.Publish(request.OwnerID, notification.Event{
		Type:      notification.EventWithdrawalStatus,
		OwnerID:   request.OwnerID,
		RequestID: request.ID,
		Status:    target,
		Amount:    request.Amount.String(),
		At:        request.UpdatedAt,
	})
	return &request, nil
}

// BulkTransition applies Transition to each id independently. Ids that cannot
// legally reach the target are reported in Skipped; one bad request must not
// block the rest of the batch.
func (s *Service) BulkTransition(ctx context.Context, requestIDs []uuid.UUID, target models.WithdrawalStatus, reviewedBy string) (*BulkResult, error) {
	if !target.Valid() {
		return nil, errors.ErrInvalid.Explain("unknown target status %q", target)
	}

	result := &BulkResult{
		Applied: make([]uuid.UUID, 0, len(requestIDs)),
		Skipped: make([]uuid.UUID, 0),
	}
	for _, id := range requestIDs {
		if _, err := s.Transition(ctx, id, target, "", reviewedBy); err != nil {
			result.Skipped = append(result.Skipped, id)
			metrics.TransitionsSkipped.Inc()
			if !errors.Is(err, errors.ErrInvalidTransition) && !errors.Is(err, errors.ErrNotFound) {
				s.logger.Error("Bulk transition failed for request",
					zap.String("request_id", id.String()), zap.Error(err))
			}
			continue
		}
		result.Applied = append(result.Applied, id)
	}
	return result, nil
}

// Get returns a single withdrawal request.
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	if err := s.db.WithContext(ctx).Where("id = ?", requestID).First(&request).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound.Explain("withdrawal request %s not found", requestID)
		}
		return nil, errors.Wrap(errors.ErrUnavailable, err).Explain("failed to load withdrawal request")
	}
	return &request, nil
}

// List returns withdrawal requests matching the filter, newest first, with the
// total count for pagination.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*models.WithdrawalRequest, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.WithdrawalRequest{})
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(errors.ErrUnavailable, err).Explain("failed to count withdrawal requests")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	var requests []*models.WithdrawalRequest
	if err := query.Order("requested_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&requests).Error; err != nil {
		return nil, 0, errors.Wrap(errors.ErrUnavailable, err).Explain("failed to list withdrawal requests")
	}
	return requests, total, nil
}
