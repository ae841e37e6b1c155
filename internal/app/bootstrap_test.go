package app

import (
	"path/filepath"
	"testing"

	"github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/models"
)

func TestEnsureOwner_CreatesOwnerOnce(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "keyforge-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	initialized, errInit := HasOwnerInitialized(conn)
	if errInit != nil {
		t.Fatalf("HasOwnerInitialized: %v", errInit)
	}
	if initialized {
		t.Fatalf("fresh database should have no owner")
	}

	if errEnsure := EnsureOwner(conn, "root", "root@example.com", "password123"); errEnsure != nil {
		t.Fatalf("EnsureOwner: %v", errEnsure)
	}

	var owner models.User
	if errFind := conn.Where("role = ?", models.RoleOwner).First(&owner).Error; errFind != nil {
		t.Fatalf("find owner: %v", errFind)
	}
	if owner.Username != "root" {
		t.Fatalf("unexpected owner username %q", owner.Username)
	}
	if owner.UID == "" || owner.ReferralCode == "" {
		t.Fatalf("owner missing uid or referral code: %+v", owner)
	}

	// Second call is a no-op even with different credentials.
	if errEnsure := EnsureOwner(conn, "other", "", "password456"); errEnsure != nil {
		t.Fatalf("second EnsureOwner: %v", errEnsure)
	}
	var count int64
	if errCount := conn.Model(&models.User{}).
		Where("role = ?", models.RoleOwner).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count owners: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 owner, got %d", count)
	}
}

func TestEnsureOwner_PromotesExistingUser(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "keyforge-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	user := models.User{
		UID:          "UID-EXISTING",
		Username:     "alice",
		Email:        "alice@example.com",
		Password:     "hashed",
		Role:         models.RoleUser,
		ReferralCode: "REFALICE",
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	if errEnsure := EnsureOwner(conn, "alice", "", "ignored-password"); errEnsure != nil {
		t.Fatalf("EnsureOwner: %v", errEnsure)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.Role != models.RoleOwner {
		t.Fatalf("expected promoted owner, got %s", reloaded.Role)
	}
	if reloaded.Password != "hashed" {
		t.Fatalf("promotion must not change the password")
	}
}
