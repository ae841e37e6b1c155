package settings

import (
	"encoding/json"
	"sync/atomic"

	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// dbConn holds the registered settings connection.
var dbConn atomic.Pointer[gorm.DB]

// RegisterDBConfig registers the database connection used to resolve settings.
func RegisterDBConfig(conn *gorm.DB) {
	if conn == nil {
		return
	}
	dbConn.Store(conn)
}

// DBConfigValue returns the raw JSON value for a settings key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	conn := dbConn.Load()
	if conn == nil || key == "" {
		return nil, false
	}
	var setting models.Setting
	if errFind := conn.Where("key = ?", key).First(&setting).Error; errFind != nil {
		return nil, false
	}
	if len(setting.Value) == 0 {
		return nil, false
	}
	return setting.Value, true
}

// DBConfigInt returns an integer settings value, falling back when absent.
func DBConfigInt(key string, fallback int64) int64 {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed int64
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}
