// Package app wires configuration, storage, and HTTP routes into a runnable
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/config"
	"github.com/keyforge-panel/keyforge/internal/db"
	adminapi "github.com/keyforge-panel/keyforge/internal/http/api/admin"
	"github.com/keyforge-panel/keyforge/internal/http/api/front"
	internalsettings "github.com/keyforge-panel/keyforge/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Environment variables for the one-time owner bootstrap.
const (
	EnvOwnerUsername = "OWNER_USERNAME"
	EnvOwnerEmail    = "OWNER_EMAIL"
	EnvOwnerPassword = "OWNER_PASSWORD"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the panel API server.
func RunServer(ctx context.Context, configPath string, port int) error {
	setupLogging(configPath)

	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	internalsettings.RegisterDBConfig(conn)

	if username := strings.TrimSpace(os.Getenv(EnvOwnerUsername)); username != "" {
		if errOwner := EnsureOwner(conn, username,
			os.Getenv(EnvOwnerEmail), os.Getenv(EnvOwnerPassword)); errOwner != nil {
			return errOwner
		}
	}
	initialized, errInit := HasOwnerInitialized(conn)
	if errInit != nil {
		return errInit
	}
	if !initialized {
		log.Warn("no owner account exists; set OWNER_USERNAME and OWNER_PASSWORD to bootstrap one")
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	if strings.TrimSpace(jwtConfig.Secret) == "" {
		return errors.New("app: jwt secret is required (set jwt.secret or JWT_SECRET)")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	front.RegisterFrontRoutes(engine, conn, jwtConfig)
	adminapi.RegisterAdminRoutes(engine, conn, jwtConfig)

	if port <= 0 {
		port = 8460
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// loggingConfig maps the YAML fields controlling log output.
type loggingConfig struct {
	LoggingToFile bool   `yaml:"logging-to-file"`
	LogDir        string `yaml:"log-dir"`
	LogLevel      string `yaml:"log-level"`
}

// setupLogging configures logrus from the config file. With logging-to-file
// enabled, output goes to a size-rotated file in log-dir.
func setupLogging(configPath string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var cfg loggingConfig
	if data, errRead := os.ReadFile(configPath); errRead == nil {
		_ = yaml.Unmarshal(data, &cfg)
	}

	if level, errParse := log.ParseLevel(strings.TrimSpace(cfg.LogLevel)); errParse == nil {
		log.SetLevel(level)
	}

	if cfg.LoggingToFile {
		logDir := strings.TrimSpace(cfg.LogDir)
		if logDir == "" {
			logDir = "logs"
		}
		log.SetOutput(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, "keyforge.log"),
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
}

// requestLogger logs one line per request with method, path, and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	}
}
