package licensing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/ledger"
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

// fixedGenerator always yields the same random suffix, forcing collisions.
func fixedGenerator(suffix string) *KeyGenerator {
	return &KeyGenerator{
		MaxAttempts: DefaultMaxAttempts,
		randFn: func(n int) (string, error) {
			return suffix, nil
		},
	}
}

// sequenceGenerator yields the given suffixes in order, repeating the last.
func sequenceGenerator(suffixes ...string) *KeyGenerator {
	next := 0
	return &KeyGenerator{
		MaxAttempts: DefaultMaxAttempts,
		randFn: func(n int) (string, error) {
			suffix := suffixes[next]
			if next < len(suffixes)-1 {
				next++
			}
			return suffix, nil
		},
	}
}

func TestGenerateKey_DebitsAndRecordsLedger(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "alice", 100)
	svc := NewService(conn)

	result, err := svc.GenerateKey(context.Background(), user.ID, 7, 5, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if result.Cost != 17 {
		t.Fatalf("expected cost 17, got %d", result.Cost)
	}
	if result.NewBalance != 83 {
		t.Fatalf("expected balance 83, got %d", result.NewBalance)
	}
	if result.Key.Status != models.KeyStatusActive {
		t.Fatalf("expected active key, got %s", result.Key.Status)
	}
	if result.Key.IsLifetime || result.Key.ExpiryDate == nil {
		t.Fatalf("expected dated key, got lifetime=%v expiry=%v",
			result.Key.IsLifetime, result.Key.ExpiryDate)
	}

	var entry models.BalanceTransaction
	if errFind := conn.Where("user_id = ?", user.ID).First(&entry).Error; errFind != nil {
		t.Fatalf("find ledger entry: %v", errFind)
	}
	if entry.Amount != -17 || entry.Kind != models.TransactionKeyGeneration {
		t.Fatalf("unexpected ledger entry: %+v", entry)
	}
}

func TestGenerateKey_InsufficientBalance(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "bob", 10)
	svc := NewService(conn)

	_, err := svc.GenerateKey(context.Background(), user.ID, 30, 1, "")
	var insufficientErr *ledger.InsufficientBalanceError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficientErr.Required != 40 || insufficientErr.Current != 10 || insufficientErr.Needed != 30 {
		t.Fatalf("unexpected shortfall: %+v", insufficientErr)
	}

	var count int64
	if errCount := conn.Model(&models.LicenseKey{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count keys: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("rejected mint created %d keys", count)
	}
}

func TestGenerateKey_CustomKeyDuplicate(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "carol", 200)
	svc := NewService(conn)

	first, err := svc.GenerateKey(context.Background(), user.ID, 1, 1, "mykey1")
	if err != nil {
		t.Fatalf("first GenerateKey: %v", err)
	}
	if first.Key.LicenseKey != "MYKEY1" {
		t.Fatalf("expected normalized key MYKEY1, got %q", first.Key.LicenseKey)
	}

	_, err = svc.GenerateKey(context.Background(), user.ID, 1, 1, "MY-KEY-1")
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.Balance != 200-first.Cost {
		t.Fatalf("duplicate mint changed balance: %d", reloaded.Balance)
	}
}

func TestGenerateKey_RandomCollisionRetriesNextCandidate(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "eve", 200)
	svc := NewServiceWithGenerator(conn, sequenceGenerator("AAAAAAAAAA", "BBBBBBBBBB"))

	taken := models.LicenseKey{
		LicenseKey: "eve-AAAAAAAAAA",
		UserID:     user.ID,
		MaxDevices: 1,
		Status:     models.KeyStatusActive,
	}
	if errCreate := conn.Create(&taken).Error; errCreate != nil {
		t.Fatalf("create colliding key: %v", errCreate)
	}

	result, err := svc.GenerateKey(context.Background(), user.ID, 1, 1, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if result.Key.LicenseKey != "eve-BBBBBBBBBB" {
		t.Fatalf("expected next candidate after collision, got %q", result.Key.LicenseKey)
	}

	var entries int64
	if errCount := conn.Model(&models.BalanceTransaction{}).
		Where("user_id = ?", user.ID).Count(&entries).Error; errCount != nil {
		t.Fatalf("count ledger entries: %v", errCount)
	}
	if entries != 1 {
		t.Fatalf("losing attempt left a ledger trace: %d entries", entries)
	}
	if result.NewBalance != 200-result.Cost {
		t.Fatalf("losing attempt charged chips: balance %d", result.NewBalance)
	}
}

func TestGenerateKey_RetryBudgetExhausted(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "dave", 200)
	svc := NewServiceWithGenerator(conn, fixedGenerator("AAAAAAAAAA"))

	if _, err := svc.GenerateKey(context.Background(), user.ID, 1, 1, ""); err != nil {
		t.Fatalf("first GenerateKey: %v", err)
	}
	_, err := svc.GenerateKey(context.Background(), user.ID, 1, 1, "")
	if !errors.Is(err, ErrGenerationExhausted) {
		t.Fatalf("expected ErrGenerationExhausted, got %v", err)
	}
}

func TestUpgradeKey_ChargesDifference(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "erin", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 1, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	upgraded, err := svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 30, 1)
	if err != nil {
		t.Fatalf("UpgradeKey: %v", err)
	}
	if upgraded.Cost != 23 {
		t.Fatalf("expected upgrade cost 23, got %d", upgraded.Cost)
	}
	if upgraded.NewBalance != 100-17-23 {
		t.Fatalf("expected balance 60, got %d", upgraded.NewBalance)
	}
	if upgraded.Key.ExpiryDate == nil {
		t.Fatalf("expected dated key after upgrade")
	}
	remaining := time.Until(*upgraded.Key.ExpiryDate)
	if remaining < 29*24*time.Hour || remaining > 31*24*time.Hour {
		t.Fatalf("expected ~30 days remaining, got %v", remaining)
	}

	var upgradeEntry models.BalanceTransaction
	if errFind := conn.Where("user_id = ? AND kind = ?", user.ID, models.TransactionKeyUpgrade).
		First(&upgradeEntry).Error; errFind != nil {
		t.Fatalf("find upgrade entry: %v", errFind)
	}
	if upgradeEntry.Amount != -23 {
		t.Fatalf("unexpected upgrade entry amount: %d", upgradeEntry.Amount)
	}
}

func TestUpgradeKey_OmittedFieldsKeepConfiguration(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "nina", 200)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 15, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	// Duration-only upgrade keeps the seat cap.
	upgraded, err := svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 30, 0)
	if err != nil {
		t.Fatalf("UpgradeKey: %v", err)
	}
	if upgraded.Key.MaxDevices != 15 {
		t.Fatalf("duration-only upgrade changed seat cap: %d", upgraded.Key.MaxDevices)
	}
	if upgraded.Cost != 23 {
		t.Fatalf("expected upgrade cost 23, got %d", upgraded.Cost)
	}

	// Seat-only upgrade keeps the duration.
	reseated, err := svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 0, 25)
	if err != nil {
		t.Fatalf("UpgradeKey: %v", err)
	}
	if reseated.Key.MaxDevices != 25 {
		t.Fatalf("expected max devices 25, got %d", reseated.Key.MaxDevices)
	}
	if reseated.Key.ExpiryDate == nil {
		t.Fatalf("seat-only upgrade dropped the expiry")
	}
	remaining := time.Until(*reseated.Key.ExpiryDate)
	if remaining < 29*24*time.Hour || remaining > 31*24*time.Hour {
		t.Fatalf("seat-only upgrade changed the duration: %v remaining", remaining)
	}
}

func TestUpgradeKey_NoteRecordsBeforeAndAfter(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "oscar", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 1, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 30, 2); err != nil {
		t.Fatalf("UpgradeKey: %v", err)
	}

	var entry models.BalanceTransaction
	if errFind := conn.Where("user_id = ? AND kind = ?", user.ID, models.TransactionKeyUpgrade).
		First(&entry).Error; errFind != nil {
		t.Fatalf("find upgrade entry: %v", errFind)
	}
	want := "Upgraded key " + minted.Key.LicenseKey + ": 7d/1dev → 30d/2dev"
	if entry.Note != want {
		t.Fatalf("expected note %q, got %q", want, entry.Note)
	}
}

func TestUpgradeKey_DowngradeIsFree(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "frank", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 30, 5, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	balanceAfterMint := minted.NewBalance

	downgraded, err := svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 7, 2)
	if err != nil {
		t.Fatalf("UpgradeKey: %v", err)
	}
	if downgraded.Cost != 0 {
		t.Fatalf("expected free downgrade, got cost %d", downgraded.Cost)
	}
	if downgraded.NewBalance != balanceAfterMint {
		t.Fatalf("downgrade changed balance: %d", downgraded.NewBalance)
	}
	if downgraded.Key.MaxDevices != 2 {
		t.Fatalf("expected max devices 2, got %d", downgraded.Key.MaxDevices)
	}
}

func TestUpgradeKey_LoweringSeatsKeepsDevices(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "grace", 200)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 15, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	for _, deviceID := range []string{"dev-1", "dev-2", "dev-3"} {
		if _, errValidate := svc.ValidateDevice(context.Background(),
			minted.Key.LicenseKey, deviceID, nil); errValidate != nil {
			t.Fatalf("ValidateDevice(%s): %v", deviceID, errValidate)
		}
	}

	lowered, err := svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 7, 1)
	if err != nil {
		t.Fatalf("UpgradeKey: %v", err)
	}
	if lowered.Key.MaxDevices != 1 {
		t.Fatalf("expected max devices 1, got %d", lowered.Key.MaxDevices)
	}
	if lowered.Key.DevicesUsed != 3 {
		t.Fatalf("expected devices used unchanged at 3, got %d", lowered.Key.DevicesUsed)
	}
	var count int64
	if errCount := conn.Model(&models.Device{}).
		Where("license_key_id = ?", minted.Key.ID).Count(&count).Error; errCount != nil {
		t.Fatalf("count devices: %v", errCount)
	}
	if count != 3 {
		t.Fatalf("expected 3 device rows, got %d", count)
	}
}

func TestUpgradeKey_LapsedKeyExpiresAndFails(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "heidi", 200)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 1, 1, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if errBackdate := conn.Model(&models.LicenseKey{}).
		Where("id = ?", minted.Key.ID).
		Update("expiry_date", past).Error; errBackdate != nil {
		t.Fatalf("backdate expiry: %v", errBackdate)
	}

	_, err = svc.UpgradeKey(context.Background(), user.ID, minted.Key.ID, 30, 1)
	var notActiveErr *NotActiveError
	if !errors.As(err, &notActiveErr) {
		t.Fatalf("expected NotActiveError, got %v", err)
	}

	var reloaded models.LicenseKey
	if errFind := conn.First(&reloaded, minted.Key.ID).Error; errFind != nil {
		t.Fatalf("reload key: %v", errFind)
	}
	if reloaded.Status != models.KeyStatusExpired {
		t.Fatalf("expected expired status persisted, got %s", reloaded.Status)
	}
}

func TestUpgradeKey_Forbidden(t *testing.T) {
	conn := openTestDB(t)
	owner := createTestUser(t, conn, "ivan", 100)
	other := createTestUser(t, conn, "judy", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), owner.ID, 7, 1, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := svc.UpgradeKey(context.Background(), other.ID, minted.Key.ID, 30, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDeleteKey_RemovesDevicesWithoutRefund(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "mallory", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 5, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, errValidate := svc.ValidateDevice(context.Background(),
		minted.Key.LicenseKey, "dev-1", nil); errValidate != nil {
		t.Fatalf("ValidateDevice: %v", errValidate)
	}

	if errDelete := svc.DeleteKey(context.Background(), user.ID, minted.Key.ID); errDelete != nil {
		t.Fatalf("DeleteKey: %v", errDelete)
	}

	var keyCount, deviceCount int64
	conn.Model(&models.LicenseKey{}).Count(&keyCount)
	conn.Model(&models.Device{}).Count(&deviceCount)
	if keyCount != 0 || deviceCount != 0 {
		t.Fatalf("expected cascade delete, got %d keys %d devices", keyCount, deviceCount)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.Balance != minted.NewBalance {
		t.Fatalf("delete refunded chips: %d", reloaded.Balance)
	}
}
