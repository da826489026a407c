package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNoRows = sql.ErrNoRows

type TxOptions struct{}

type CommandTag struct {
	rowsAffected int64
}

func (c CommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

// Row is a single-row result; a missing handle scans as ErrNoRows.
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	*sql.Rows
}

func (r *Rows) Close() {
	if r == nil || r.Rows == nil {
		return
	}
	_ = r.Rows.Close()
}

// Tx is an open transaction. Exec failures are StorageErrors.
type Tx interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// conn runs raw SQL on a gorm handle; the pool and its transactions share it.
type conn struct {
	gdb *gorm.DB
}

func (c conn) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if c.gdb == nil {
		return &Row{}
	}
	return &Row{row: c.gdb.WithContext(ctx).Raw(query, args...).Row()}
}

func (c conn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if c.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	rows, err := c.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{Rows: rows}, nil
}

func (c conn) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if c.gdb == nil {
		return CommandTag{}, fmt.Errorf("database pool is not initialized")
	}
	res := c.gdb.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return CommandTag{}, wrapStorage("exec", res.Error)
	}
	return CommandTag{rowsAffected: res.RowsAffected}, nil
}

type gormTx struct {
	conn
}

func (t *gormTx) Commit(ctx context.Context) error {
	if err := t.gdb.WithContext(ctx).Commit().Error; err != nil {
		return wrapStorage("commit", err)
	}
	return nil
}

func (t *gormTx) Rollback(ctx context.Context) error {
	return t.gdb.WithContext(ctx).Rollback().Error
}

// Pool is the listings database handle.
type Pool struct {
	conn
	sqlDB *sql.DB
}

// Options configures the connection pool.
type Options struct {
	DatabaseURL string
	MinConns    int32
	MaxConns    int32
	LogLevel    string
	Environment string
	// SkipMigrate leaves the schema untouched, for read-only commands.
	SkipMigrate bool
}

func normalizeOptions(opts Options) Options {
	opts.DatabaseURL = strings.TrimSpace(opts.DatabaseURL)
	if opts.MaxConns <= 0 {
		opts.MaxConns = 8
	}
	if opts.MinConns < 1 {
		opts.MinConns = 1
	}
	if opts.MinConns > opts.MaxConns {
		opts.MinConns = opts.MaxConns
	}
	return opts
}

// NewPool opens the listings database, pings it and migrates the schema.
func NewPool(ctx context.Context, opts Options) (*Pool, error) {
	opts = normalizeOptions(opts)
	if opts.DatabaseURL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	gdb, err := gorm.Open(postgres.Open(opts.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(opts.LogLevel, opts.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(int(opts.MaxConns))
	sqlDB.SetMaxIdleConns(int(opts.MinConns))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{
		conn:  conn{gdb: gdb},
		sqlDB: sqlDB,
	}
	if !opts.SkipMigrate {
		if err := pool.autoMigrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("auto-migrate schema: %w", err)
		}
	}

	return pool, nil
}

// Ping checks database reachability.
func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) BeginTx(ctx context.Context, _ TxOptions) (Tx, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	tx := p.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{conn: conn{gdb: tx}}, nil
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	level := strings.ToLower(strings.TrimSpace(appLogLevel))
	switch level {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}
