package licensing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/datatypes"
)

func TestValidateDevice_RegistersAndReusesSeat(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "alice", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 2, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	info := datatypes.JSON([]byte(`{"os":"linux"}`))
	first, err := svc.ValidateDevice(context.Background(), minted.Key.LicenseKey, "dev-1", info)
	if err != nil {
		t.Fatalf("first ValidateDevice: %v", err)
	}
	if !first.NewDevice {
		t.Fatalf("expected first contact to consume a seat")
	}
	if first.Key.DevicesUsed != 1 {
		t.Fatalf("expected 1 seat used, got %d", first.Key.DevicesUsed)
	}

	second, err := svc.ValidateDevice(context.Background(), minted.Key.LicenseKey, "dev-1", nil)
	if err != nil {
		t.Fatalf("second ValidateDevice: %v", err)
	}
	if second.NewDevice {
		t.Fatalf("repeat contact consumed a seat")
	}
	if second.Key.DevicesUsed != 1 {
		t.Fatalf("expected seat count unchanged, got %d", second.Key.DevicesUsed)
	}
}

func TestValidateDevice_SeatLimit(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "bob", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 2, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if _, errValidate := svc.ValidateDevice(context.Background(),
			minted.Key.LicenseKey, fmt.Sprintf("dev-%d", i), nil); errValidate != nil {
			t.Fatalf("ValidateDevice dev-%d: %v", i, errValidate)
		}
	}

	_, err = svc.ValidateDevice(context.Background(), minted.Key.LicenseKey, "dev-3", nil)
	var seatErr *SeatLimitError
	if !errors.As(err, &seatErr) {
		t.Fatalf("expected SeatLimitError, got %v", err)
	}
	if seatErr.MaxDevices != 2 {
		t.Fatalf("unexpected seat cap in error: %d", seatErr.MaxDevices)
	}

	// The registered devices still validate.
	if _, errValidate := svc.ValidateDevice(context.Background(),
		minted.Key.LicenseKey, "dev-1", nil); errValidate != nil {
		t.Fatalf("re-validate dev-1: %v", errValidate)
	}
}

func TestValidateDevice_ConcurrentFirstContactSameDevice(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "peggy", 100)
	svc := NewService(conn)

	minted, err := svc.GenerateKey(context.Background(), user.ID, 7, 2, "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	const callers = 5
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, errValidate := svc.ValidateDevice(context.Background(),
				minted.Key.LicenseKey, "dev-shared", nil)
			errCh <- errValidate
		}()
	}
	for i := 0; i < callers; i++ {
		if errValidate := <-errCh; errValidate != nil {
			t.Fatalf("concurrent ValidateDevice: %v", errValidate)
		}
	}

	var reloaded models.LicenseKey
	if errFind := conn.First(&reloaded, minted.Key.ID).Error; errFind != nil {
		t.Fatalf("reload key: %v", errFind)
	}
	if reloaded.DevicesUsed != 1 {
		t.Fatalf("same device consumed %d seats", reloaded.DevicesUsed)
	}
	var deviceCount int64
	if errCount := conn.Model(&models.Device{}).
		Where("license_key_id = ?", minted.Key.ID).Count(&deviceCount).Error; errCount != nil {
		t.Fatalf("count devices: %v", errCount)
	}
	if deviceCount != 1 {
		t.Fatalf("expected 1 device row, got %d", deviceCount)
	}
}

func TestValidateDevice_UnknownKey(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)

	if _, err := svc.ValidateDevice(context.Background(), "NOSUCHKEY", "dev-1", nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestValidateDevice_LapsedKeyExpires(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "carol", 100)
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

	_, err = svc.ValidateDevice(context.Background(), minted.Key.LicenseKey, "dev-1", nil)
	if !errors.Is(err, ErrKeyExpired) {
		t.Fatalf("expected ErrKeyExpired, got %v", err)
	}

	var reloaded models.LicenseKey
	if errFind := conn.First(&reloaded, minted.Key.ID).Error; errFind != nil {
		t.Fatalf("reload key: %v", errFind)
	}
	if reloaded.Status != models.KeyStatusExpired {
		t.Fatalf("expected expired status persisted, got %s", reloaded.Status)
	}
	if reloaded.DevicesUsed != 0 {
		t.Fatalf("failed validation consumed a seat: %d", reloaded.DevicesUsed)
	}
}

func TestCheckKey_ReportsWithoutWriting(t *testing.T) {
	conn := openTestDB(t)
	user := createTestUser(t, conn, "dave", 100)
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

	checked, err := svc.CheckKey(context.Background(), minted.Key.LicenseKey)
	if err != nil {
		t.Fatalf("CheckKey: %v", err)
	}
	if checked.Status != models.KeyStatusExpired {
		t.Fatalf("expected reported status expired, got %s", checked.Status)
	}

	var stored models.LicenseKey
	if errFind := conn.First(&stored, minted.Key.ID).Error; errFind != nil {
		t.Fatalf("reload key: %v", errFind)
	}
	if stored.Status != models.KeyStatusActive {
		t.Fatalf("passive check mutated stored status: %s", stored.Status)
	}

	if _, err := svc.CheckKey(context.Background(), "NOSUCHKEY"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
