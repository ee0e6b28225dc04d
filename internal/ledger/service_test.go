package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vendora/payouts/pkg/errors"
	"github.com/vendora/payouts/pkg/models"
)

func setupTestService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.WalletLedger{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	svc, err := NewService(zap.NewNop(), db, 4)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func seed(t *testing.T, s *Service, ownerID uuid.UUID, available int64) {
	ctx := context.Background()
	if _, err := s.GetOrCreate(ctx, ownerID); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if err := s.CreditEarnings(ctx, ownerID, decimal.NewFromInt(available)); err != nil {
		t.Fatalf("credit earnings: %v", err)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()

	first, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("first get or create: %v", err)
	}
	if first.MonthlyWithdrawalLimit != 4 {
		t.Errorf("default limit wrong: got %d", first.MonthlyWithdrawalLimit)
	}
	if !first.AvailableBalance.IsZero() {
		t.Errorf("new ledger should be empty, got %s", first.AvailableBalance)
	}

	second, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if second.OwnerID != first.OwnerID {
		t.Errorf("expected same ledger row")
	}
}

func TestApplyDeltaHoldAndRelease(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	seed(t, s, owner, 500)

	hold := Delta{
		Available:    decimal.NewFromInt(-300),
		Pending:      decimal.NewFromInt(300),
		MonthlyCount: 1,
	}
	if err := s.ApplyDelta(ctx, owner, hold); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	ledger, err := s.Get(ctx, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ledger.AvailableBalance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("available wrong: got %s", ledger.AvailableBalance)
	}
	if !ledger.PendingWithdrawals.Equal(decimal.NewFromInt(300)) {
		t.Errorf("pending wrong: got %s", ledger.PendingWithdrawals)
	}
	if ledger.MonthlyWithdrawalCount != 1 {
		t.Errorf("count wrong: got %d", ledger.MonthlyWithdrawalCount)
	}

	release := Delta{
		Available: decimal.NewFromInt(300),
		Pending:   decimal.NewFromInt(-300),
	}
	if err := s.ApplyDelta(ctx, owner, release); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ledger, _ = s.Get(ctx, owner)
	if !ledger.AvailableBalance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("available after release wrong: got %s", ledger.AvailableBalance)
	}
	if !ledger.PendingWithdrawals.IsZero() {
		t.Errorf("pending after release wrong: got %s", ledger.PendingWithdrawals)
	}
}

func TestApplyDeltaRefusesOverdraft(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	seed(t, s, owner, 200)

	err := s.ApplyDelta(ctx, owner, Delta{
		Available:    decimal.NewFromInt(-300),
		Pending:      decimal.NewFromInt(300),
		MonthlyCount: 1,
	})
	if !errors.Is(err, errors.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}

	// Nothing may have changed
	ledger, _ := s.Get(ctx, owner)
	if !ledger.AvailableBalance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("available mutated on refusal: got %s", ledger.AvailableBalance)
	}
	if !ledger.PendingWithdrawals.IsZero() {
		t.Errorf("pending mutated on refusal: got %s", ledger.PendingWithdrawals)
	}
	if ledger.MonthlyWithdrawalCount != 0 {
		t.Errorf("count mutated on refusal: got %d", ledger.MonthlyWithdrawalCount)
	}
}

func TestApplyDeltaRefusesOverQuota(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	seed(t, s, owner, 10000)

	hold := Delta{
		Available:    decimal.NewFromInt(-100),
		Pending:      decimal.NewFromInt(100),
		MonthlyCount: 1,
	}
	for i := 0; i < 4; i++ {
		if err := s.ApplyDelta(ctx, owner, hold); err != nil {
			t.Fatalf("hold %d failed: %v", i, err)
		}
	}

	err := s.ApplyDelta(ctx, owner, hold)
	if !errors.Is(err, errors.ErrMonthlyLimitExceeded) {
		t.Fatalf("expected MonthlyLimitExceeded, got %v", err)
	}
}

func TestApplyDeltaUnknownOwner(t *testing.T) {
	s := setupTestService(t)
	err := s.ApplyDelta(context.Background(), uuid.New(), Delta{
		Available: decimal.NewFromInt(1),
	})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRollMonthResetsCounter(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	seed(t, s, owner, 1000)

	if err := s.ApplyDelta(ctx, owner, Delta{
		Available:    decimal.NewFromInt(-100),
		Pending:      decimal.NewFromInt(100),
		MonthlyCount: 1,
	}); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	// Same month: no reset
	if err := s.RollMonth(ctx, owner, time.Now()); err != nil {
		t.Fatalf("roll month: %v", err)
	}
	ledger, _ := s.Get(ctx, owner)
	if ledger.MonthlyWithdrawalCount != 1 {
		t.Errorf("counter reset within the same month: got %d", ledger.MonthlyWithdrawalCount)
	}

	// Next month: counter drops, anchor advances
	next := monthStart(time.Now()).AddDate(0, 1, 0)
	if err := s.RollMonth(ctx, owner, next); err != nil {
		t.Fatalf("roll month: %v", err)
	}
	ledger, _ = s.Get(ctx, owner)
	if ledger.MonthlyWithdrawalCount != 0 {
		t.Errorf("counter not reset: got %d", ledger.MonthlyWithdrawalCount)
	}
	if !ledger.MonthlyAnchor.Equal(next) {
		t.Errorf("anchor not advanced: got %v want %v", ledger.MonthlyAnchor, next)
	}
}

func TestCreditEarnings(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()

	if err := s.CreditEarnings(ctx, owner, decimal.NewFromInt(250)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	ledger, err := s.Get(ctx, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ledger.AvailableBalance.Equal(decimal.NewFromInt(250)) {
		t.Errorf("available wrong: got %s", ledger.AvailableBalance)
	}
	if !ledger.TotalEarnings.Equal(decimal.NewFromInt(250)) {
		t.Errorf("total earnings wrong: got %s", ledger.TotalEarnings)
	}

	if err := s.CreditEarnings(ctx, owner, decimal.Zero); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("expected Invalid for zero credit, got %v", err)
	}
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	seed(t, s, owner, 500)

	hold := Delta{
		Available: decimal.NewFromInt(-200),
		Pending:   decimal.NewFromInt(200),
	}
	wg := sync.WaitGroup{}
	n := 10
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = s.ApplyDelta(ctx, owner, hold)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, errors.ErrInsufficientBalance) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	// 500 covers exactly two 200 holds
	if succeeded != 2 {
		t.Errorf("expected 2 successful holds, got %d", succeeded)
	}
	ledger, _ := s.Get(ctx, owner)
	if ledger.AvailableBalance.IsNegative() {
		t.Errorf("available went negative: %s", ledger.AvailableBalance)
	}
	if !ledger.AvailableBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("available wrong: got %s", ledger.AvailableBalance)
	}
	if !ledger.PendingWithdrawals.Equal(decimal.NewFromInt(400)) {
		t.Errorf("pending wrong: got %s", ledger.PendingWithdrawals)
	}
}
