package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "keyforge-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createTestUser(t *testing.T, conn *gorm.DB, username string, balance int64) *models.User {
	t.Helper()
	user := models.User{
		UID:          "UID-" + username,
		Username:     username,
		Email:        username + "@example.com",
		Password:     "hashed",
		Role:         models.RoleUser,
		Balance:      balance,
		ReferralCode: "REF" + username,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return &user
}

func TestApplyDelta_CreditRecordsTransaction(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "alice", 0)
	svc := NewService(conn)

	newBalance, err := svc.ApplyDelta(context.Background(), user.ID, 100,
		models.TransactionRegistrationBonus, "Welcome bonus", nil)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if newBalance != 100 {
		t.Fatalf("expected balance 100, got %d", newBalance)
	}

	var entries []models.BalanceTransaction
	if errFind := conn.Where("user_id = ?", user.ID).Find(&entries).Error; errFind != nil {
		t.Fatalf("find transactions: %v", errFind)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].Amount != 100 || entries[0].Kind != models.TransactionRegistrationBonus {
		t.Fatalf("unexpected ledger entry: %+v", entries[0])
	}
}

func TestApplyDelta_DebitBelowZeroRejected(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "bob", 30)
	svc := NewService(conn)

	_, err := svc.ApplyDelta(context.Background(), user.ID, -50,
		models.TransactionKeyGeneration, "too expensive", nil)
	var insufficientErr *InsufficientBalanceError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficientErr.Required != 50 || insufficientErr.Current != 30 || insufficientErr.Needed != 20 {
		t.Fatalf("unexpected shortfall: %+v", insufficientErr)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.Balance != 30 {
		t.Fatalf("balance changed on rejected debit: %d", reloaded.Balance)
	}
	var count int64
	if errCount := conn.Model(&models.BalanceTransaction{}).
		Where("user_id = ?", user.ID).Count(&count).Error; errCount != nil {
		t.Fatalf("count transactions: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("rejected debit left %d ledger entries", count)
	}
}

func TestApplyDelta_UnknownUser(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)

	_, err := svc.ApplyDelta(context.Background(), 9999, 10,
		models.TransactionAdminGift, "gift", nil)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestApplyDelta_ConcurrentDebitsNeverOverspend(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "carol", 50)
	svc := NewService(conn)

	const workers = 10
	const cost = 10

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.ApplyDelta(context.Background(), user.ID, -cost,
				models.TransactionKeyGeneration, fmt.Sprintf("debit %d", n), nil)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficientErr *InsufficientBalanceError
		if !errors.As(err, &insufficientErr) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected 5 successful debits, got %d", succeeded)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.Balance != 0 {
		t.Fatalf("expected final balance 0, got %d", reloaded.Balance)
	}
	var count int64
	if errCount := conn.Model(&models.BalanceTransaction{}).
		Where("user_id = ?", user.ID).Count(&count).Error; errCount != nil {
		t.Fatalf("count transactions: %v", errCount)
	}
	if count != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", count)
	}
}
