package uow

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Keksclan/rawrcache/internal/logx"
)

// Supported drivers for [Open].
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// DefaultSlowQuery is the duration above which a statement is logged as slow.
const DefaultSlowQuery = 200 * time.Millisecond

type openConfig struct {
	log       *slog.Logger
	slowQuery time.Duration
}

// OpenOption configures [Open].
type OpenOption func(*openConfig)

// WithSQLLogger routes GORM's statement log to l. Missing rows are not
// logged; failed and slow statements are.
func WithSQLLogger(l *slog.Logger) OpenOption {
	return func(c *openConfig) {
		c.log = l
	}
}

// WithSlowQuery overrides [DefaultSlowQuery].
func WithSlowQuery(d time.Duration) OpenOption {
	return func(c *openConfig) {
		c.slowQuery = d
	}
}

// Open connects GORM to the given driver and tunes the connection pool.
// Driver errors are translated, so duplicate keys match
// [gorm.ErrDuplicatedKey].
func Open(driver, dsn string, opts ...OpenOption) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("uow: unsupported driver %q", driver)
	}

	cfg := openConfig{slowQuery: DefaultSlowQuery}
	for _, o := range opts {
		o(&cfg)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         sqlLogger(cfg),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// Every sqlite connection is its own database for :memory: DSNs and
		// writers serialise anyway.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

func sqlLogger(cfg openConfig) logger.Interface {
	l := logx.Or(cfg.log)
	return logger.NewSlogLogger(slog.New(logx.NewContextHandler(l.Handler())), logger.Config{
		SlowThreshold:             cfg.slowQuery,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
