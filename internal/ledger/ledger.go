// Package ledger is the only sanctioned way to change a user's chip balance.
// Every delta is applied conditionally against the stored balance and paired
// with exactly one balance_transactions row inside the same transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// ErrUserNotFound indicates the target user does not exist.
var ErrUserNotFound = errors.New("ledger: user not found")

// InsufficientBalanceError reports the exact shortfall of a rejected debit.
type InsufficientBalanceError struct {
	Required int64 // Chips the operation costs.
	Current  int64 // Chips the user has.
	Needed   int64 // Chips missing, Required - Current.
}

// Error implements the error interface.
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance: required %d, current %d, needed %d",
		e.Required, e.Current, e.Needed)
}

// Service applies balance deltas and records ledger entries.
type Service struct {
	db *gorm.DB
}

// NewService constructs a ledger Service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ApplyDelta credits or debits a user inside its own transaction and returns
// the new balance. Debits that would drive the balance negative are rejected
// with InsufficientBalanceError and leave no trace.
func (s *Service) ApplyDelta(ctx context.Context, userID uint64, amount int64, kind models.TransactionKind, note string, actorID *uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("ledger: not initialized")
	}
	var newBalance int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, errApply := ApplyDeltaTx(tx, userID, amount, kind, note, actorID)
		if errApply != nil {
			return errApply
		}
		newBalance = balance
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return newBalance, nil
}

// ApplyDeltaTx applies a delta inside an existing transaction. The debit is
// conditioned on the stored balance so concurrent spenders cannot both pass a
// stale affordability check.
func ApplyDeltaTx(tx *gorm.DB, userID uint64, amount int64, kind models.TransactionKind, note string, actorID *uint64) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("ledger: nil transaction")
	}

	now := time.Now().UTC()
	query := tx.Model(&models.User{}).Where("id = ?", userID)
	if amount < 0 {
		query = query.Where("balance >= ?", -amount)
	}
	res := query.Updates(map[string]any{
		"balance":    gorm.Expr("balance + ?", amount),
		"updated_at": now,
	})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: apply delta: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var user models.User
		if errFind := tx.Select("balance").First(&user, userID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return 0, ErrUserNotFound
			}
			return 0, fmt.Errorf("ledger: query user: %w", errFind)
		}
		return 0, &InsufficientBalanceError{
			Required: -amount,
			Current:  user.Balance,
			Needed:   -amount - user.Balance,
		}
	}

	entry := models.BalanceTransaction{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Note:        note,
		ActorUserID: actorID,
		CreatedAt:   now,
	}
	if errCreate := tx.Create(&entry).Error; errCreate != nil {
		return 0, fmt.Errorf("ledger: record transaction: %w", errCreate)
	}

	var user models.User
	if errFind := tx.Select("balance").First(&user, userID).Error; errFind != nil {
		return 0, fmt.Errorf("ledger: read balance: %w", errFind)
	}
	return user.Balance, nil
}
