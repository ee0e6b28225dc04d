// Package bankvault stores owner bank details under a one-time-lock policy:
// the first save locks the account permanently and later edits must go
// through an admin-approved change request.
package bankvault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/payouts/pkg/errors"
	"github.com/vendora/payouts/pkg/models"
)

// AccountDetails carries the fields an owner supplies for their payout account.
type AccountDetails struct {
	BankName      string
	AccountName   string
	AccountNumber string
	RoutingNumber string
}

// Vault defines bank detail operations.
type Vault interface {
	SaveAccount(ctx context.Context, ownerID uuid.UUID, details AccountDetails) (*models.BankAccount, error)
	GetLockedAccount(ctx context.Context, ownerID uuid.UUID) (*models.BankAccount, error)
	RequestChange(ctx context.Context, ownerID uuid.UUID, details AccountDetails) (*models.BankChangeRequest, error)
	ResolveChange(ctx context.Context, requestID uuid.UUID, approve bool, resolvedBy string) (*models.BankChangeRequest, error)
}

// Service implements Vault
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new bank detail vault
func NewService(logger *zap.Logger, db *gorm.DB) (*Service, error) {
	return &Service{logger: logger, db: db}, nil
}

func (d AccountDetails) validate() error {
	if d.BankName == "" || d.AccountName == "" || d.AccountNumber == "" {
		return errors.ErrInvalid.Explain("bank name, account name and account number are required")
	}
	return nil
}

// SaveAccount stores the owner's bank details. The first save locks the
// account; a second direct save is refused.
func (s *Service) SaveAccount(ctx context.Context, ownerID uuid.UUID, details AccountDetails) (*models.BankAccount, error) {
	if err := details.validate(); err != nil {
		return nil, err
	}

	var account models.BankAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.BankAccount
		err := tx.Where("owner_id = ?", ownerID).First(&existing).Error
		if err == nil {
			return errors.ErrBankAccountLocked.Explain(
				"bank account already saved; submit a change request instead")
		}
		if err != gorm.ErrRecordNotFound {
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to check bank account")
		}

		now := time.Now().UTC()
		account = models.BankAccount{
			ID:            uuid.New(),
			OwnerID:       ownerID,
			BankName:      details.BankName,
			AccountName:   details.AccountName,
			AccountNumber: details.AccountNumber,
			RoutingNumber: details.RoutingNumber,
			Locked:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&account).Error; err != nil {
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to save bank account")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bank account saved and locked",
		zap.String("owner_id", ownerID.String()),
		zap.String("account_id", account.ID.String()))
	return &account, nil
}

// GetLockedAccount returns the owner's locked bank account, or NotFound when
// the owner has never saved one.
func (s *Service) GetLockedAccount(ctx context.Context, ownerID uuid.UUID) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := s.db.WithContext(ctx).Where("owner_id = ? AND locked = ?", ownerID, true).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound.Explain("no locked bank account for owner %s", ownerID)
		}
		return nil, errors.Wrap(errors.ErrUnavailable, err).Explain("failed to load bank account")
	}
	return &account, nil
}

// RequestChange opens a change request for the owner's locked account.
// Only one pending request per owner at a time.
func (s *Service) RequestChange(ctx context.Context, ownerID uuid.UUID, details AccountDetails) (*models.BankChangeRequest, error) {
	if err := details.validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetLockedAccount(ctx, ownerID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrMissingBankDetails.Explain("save bank details before requesting a change")
		}
		return nil, err
	}

	var request models.BankChangeRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.BankChangeRequest{}).
			Where("owner_id = ? AND status = ?", ownerID, models.BankChangePending).
			Count(&count).Error; err != nil {
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to check change requests")
		}
		if count > 0 {
			return errors.ErrChangeRequestPending.Explain("a change request is already awaiting review")
		}

		now := time.Now().UTC()
		request = models.BankChangeRequest{
			ID:            uuid.New(),
			OwnerID:       ownerID,
			BankName:      details.BankName,
			AccountName:   details.AccountName,
			AccountNumber: details.AccountNumber,
			RoutingNumber: details.RoutingNumber,
			Status:        models.BankChangePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&request).Error; err != nil {
			// The partial unique index catches a request racing past the
			// count check on a concurrent connection.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.ErrChangeRequestPending.Explain("a change request is already awaiting review")
			}
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to create change request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bank change requested",
		zap.String("owner_id", ownerID.String()),
		zap.String("request_id", request.ID.String()))
	return &request, nil
}

// ResolveChange approves or rejects a pending change request. Approval swaps
// the details onto the locked account in the same transaction.
func (s *Service) ResolveChange(ctx context.Context, requestID uuid.UUID, approve bool, resolvedBy string) (*models.BankChangeRequest, error) {
	var request models.BankChangeRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", requestID).First(&request).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.Explain("change request %s not found", requestID)
			}
			return errors.Wrap(errors.ErrUnavailable, err).Explain("failed to load change request")
		}
		if request.Status != models.BankChangePending {
			return errors.ErrInvalidTransition.Explain("change request already %s", request.Status)
		}

		now := time.Now().UTC()
		status := models.BankChangeRejected
		if approve {
			status = models.BankChangeApproved
		}

		// Guarded on the pending status so a concurrent resolution loses the
		// race instead of overwriting the first decision.
		res := tx.Model(&models.BankChangeRequest{}).
			Where("id = ? AND status = ?", requestID, models.BankChangePending).
			Updates(map[string]interface{}{
				"status":      status,
				"resolved_by": resolvedBy,
				"resolved_at": now,
				"updated_at":  now,
			})
		if res.Error != nil {
			return errors.Wrap(errors.ErrUnavailable, res.Error).Explain("failed to save change request")
		}
		if res.RowsAffected == 0 {
			return errors.ErrInvalidTransition.Explain("change request %s resolved concurrently", requestID)
		}

		request.Status = status
		request.ResolvedBy = resolvedBy
		request.ResolvedAt = &now
		request.UpdatedAt = now

		if approve {
			res := tx.Model(&models.BankAccount{}).
				Where("owner_id = ?", request.OwnerID).
				Updates(map[string]interface{}{
					"bank_name":      request.BankName,
					"account_name":   request.AccountName,
					"account_number": request.AccountNumber,
					"routing_number": request.RoutingNumber,
					"updated_at":     now,
				})
			if res.Error != nil {
				return errors.Wrap(errors.ErrUnavailable, res.Error).Explain("failed to update bank account")
			}
			if res.RowsAffected == 0 {
				return errors.ErrNotFound.Explain("bank account vanished for owner %s", request.OwnerID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bank change resolved",
		zap.String("request_id", request.ID.String()),
		zap.String("status", string(request.Status)),
		zap.String("resolved_by", resolvedBy))
	return &request, nil
}
