// Package warehouse opens the credentialed Snowflake connection every other
// component runs its Cortex calls through.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ragscope/backend/pkg/config"
	"github.com/ragscope/backend/pkg/logger"
)

type Session struct {
	db  *sql.DB
	cfg config.SnowflakeConfig
}

// DriverConfig translates the secret-backed config into a driver config.
func DriverConfig(cfg config.SnowflakeConfig) (*sf.Config, error) {
	dc := &sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Role:      cfg.Role,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	}

	if cfg.UsesKeyPair() {
		key, err := ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		dc.Authenticator = sf.AuthTypeJwt
		dc.PrivateKey = key
	} else {
		dc.Authenticator = sf.AuthTypeSnowflake
		dc.Password = cfg.Password
	}

	return dc, nil
}

// Open connects and pings once; a failed ping is returned to the caller.
func Open(ctx context.Context, cfg config.SnowflakeConfig) (*Session, error) {
	dc, err := DriverConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake config: %w", err)
	}

	dsn, err := sf.DSN(dc)
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to snowflake: %w", err)
	}

	auth := "password"
	if cfg.UsesKeyPair() {
		auth = "key-pair"
	}
	logger.Info("Snowflake session established",
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("role", cfg.Role),
		zap.String("warehouse", cfg.Warehouse),
		zap.String("auth", auth),
	)

	return &Session{db: db, cfg: cfg}, nil
}

func (s *Session) DB() *sql.DB {
	return s.db
}

// SearchServiceName is the fully qualified DATABASE.SCHEMA.SERVICE name.
func (s *Session) SearchServiceName() string {
	return QualifiedName(s.cfg.Database, s.cfg.Schema, s.cfg.SearchService)
}

func (s *Session) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Session) Close() error {
	return s.db.Close()
}

func QualifiedName(parts ...string) string {
	return strings.Join(parts, ".")
}
