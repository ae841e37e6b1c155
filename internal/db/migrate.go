package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyforge-panel/keyforge/internal/models"
	internalsettings "github.com/keyforge-panel/keyforge/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratedModels lists every model handled by AutoMigrate.
func migratedModels() []any {
	return []any{
		&models.User{},
		&models.LicenseKey{},
		&models.Device{},
		&models.BalanceTransaction{},
		&models.PromoCode{},
		&models.CodeRedemption{},
		&models.Setting{},
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(migratedModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errSeed := ensureDefaultSettings(conn); errSeed != nil {
		return errSeed
	}

	if errBalanceCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_users_balance_non_negative'
			) THEN
				ALTER TABLE users ADD CONSTRAINT chk_users_balance_non_negative CHECK (balance >= 0);
			END IF;
		END $$;
	`).Error; errBalanceCheck != nil {
		return fmt.Errorf("db: add balance check: %w", errBalanceCheck)
	}

	// ddl defines an index statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_license_keys_user_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_license_keys_user_id_created_at
				ON license_keys (user_id, created_at DESC)
			`,
		},
		{
			name: "idx_license_keys_status_expiry",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_license_keys_status_expiry
				ON license_keys (status, expiry_date)
				WHERE expiry_date IS NOT NULL
			`,
		},
		{
			name: "idx_devices_license_key_id",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_devices_license_key_id
				ON devices (license_key_id)
			`,
		},
		{
			name: "idx_promo_codes_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_promo_codes_active
				ON promo_codes (id)
				WHERE is_active = true
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	_ = conn.Exec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).Error

	// trgmIndex defines trigram and fallback index statements.
	type trgmIndex struct {
		name     string // Logical index name.
		trgmSQL  string // Trigram index SQL.
		lowerSQL string // Lowercase fallback index SQL.
	}
	trgmIndexes := []trgmIndex{
		{
			name: "idx_users_username",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_users_username_trgm
				ON users USING gin (username gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_users_username_lower
				ON users (LOWER(username))
			`,
		},
		{
			name: "idx_users_email",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_users_email_trgm
				ON users USING gin (email gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_users_email_lower
				ON users (LOWER(email))
			`,
		},
		{
			name: "idx_license_keys_license_key",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_license_keys_license_key_trgm
				ON license_keys USING gin (LOWER(license_key) gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_license_keys_license_key_lower
				ON license_keys (LOWER(license_key))
			`,
		},
	}
	for _, item := range trgmIndexes {
		if errIdx := conn.Exec(item.trgmSQL).Error; errIdx != nil {
			if errLower := conn.Exec(item.lowerSQL).Error; errLower != nil {
				return fmt.Errorf("db: create index %s: %w", item.name, errLower)
			}
		}
	}

	return nil
}

// migrateSQLite applies SQLite-specific schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(migratedModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errSeed := ensureDefaultSettings(conn); errSeed != nil {
		return errSeed
	}

	// ddl defines an index statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_license_keys_user_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_license_keys_user_id_created_at
				ON license_keys (user_id, created_at DESC)
			`,
		},
		{
			name: "idx_license_keys_status_expiry",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_license_keys_status_expiry
				ON license_keys (status, expiry_date)
				WHERE expiry_date IS NOT NULL
			`,
		},
		{
			name: "idx_devices_license_key_id",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_devices_license_key_id
				ON devices (license_key_id)
			`,
		},
		{
			name: "idx_promo_codes_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_promo_codes_active
				ON promo_codes (id)
				WHERE is_active = true
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}

// ensureDefaultSettings seeds tunable settings with their defaults.
func ensureDefaultSettings(conn *gorm.DB) error {
	seeds := []struct {
		key   string
		value int
	}{
		{internalsettings.RegistrationBonusKey, internalsettings.DefaultRegistrationBonus},
		{internalsettings.ReferralBonusKey, internalsettings.DefaultReferralBonus},
		{internalsettings.DiscordLinkBonusKey, internalsettings.DefaultDiscordLinkBonus},
		{internalsettings.AFKClaimCapKey, internalsettings.DefaultAFKClaimCap},
		{internalsettings.VerifyRateLimitKey, internalsettings.DefaultVerifyRateLimit},
	}
	for _, seed := range seeds {
		if errEnsure := ensureIntSetting(conn, seed.key, seed.value); errEnsure != nil {
			return errEnsure
		}
	}
	return ensureStringSetting(conn, internalsettings.SiteNameKey, internalsettings.DefaultSiteName)
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, json.RawMessage(payload))
}

// ensureStringSetting ensures a string setting exists and defaults when empty.
func ensureStringSetting(conn *gorm.DB, key string, value string) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, json.RawMessage(payload))
}

// ensureRawSetting creates the setting row or backfills an empty value.
func ensureRawSetting(conn *gorm.DB, key string, rawValue json.RawMessage) error {
	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
