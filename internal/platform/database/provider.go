package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/observability"
)

// Supported relational drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

var ErrProviderClosed = errors.New("database: provider is closed")

type initResult struct {
	db  *gorm.DB
	err error
}

// Provider lazily opens a shared gorm connection pool and retries the initial connect.
type Provider struct {
	cfg       config.DatabaseConfig
	logger    *zap.Logger
	dialector gorm.Dialector
	sleep     func(context.Context, time.Duration) error

	stateMu sync.Mutex
	initCh  chan initResult
	db      *gorm.DB

	closed atomic.Bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithLogger routes gorm's SQL logging through zap.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDialector bypasses driver selection, mostly for tests.
func WithDialector(dialector gorm.Dialector) ProviderOption {
	return func(p *Provider) {
		if dialector != nil {
			p.dialector = dialector
		}
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// DB returns the lazily opened connection pool.
func (p *Provider) DB(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("database: context is required")
	}

	for {
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}

		p.stateMu.Lock()
		if p.db != nil {
			db := p.db
			p.stateMu.Unlock()
			return db, nil
		}
		if waitCh := p.initCh; waitCh != nil {
			p.stateMu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case res := <-waitCh:
				if res.err != nil {
					return nil, res.err
				}
				return res.db, nil
			}
		}

		waitCh := make(chan initResult, 1)
		p.initCh = waitCh
		p.stateMu.Unlock()

		db, err := p.open(ctx)

		p.stateMu.Lock()
		p.initCh = nil
		if err == nil {
			p.db = db
		}
		p.stateMu.Unlock()

		waitCh <- initResult{db: db, err: err}
		close(waitCh)

		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}
		return db, nil
	}
}

func (p *Provider) open(ctx context.Context) (*gorm.DB, error) {
	dialector, err := p.resolveDialector()
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(p.logger, p.cfg.SlowQueryThreshold),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	attempts := p.cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var db *gorm.DB
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			err = p.configurePool(ctx, db)
		}
		if err == nil {
			break
		}
		p.logger.Warn("database connect failed",
			zap.String("driver", p.cfg.Driver),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		if sleepErr := p.sleep(ctx, p.cfg.ConnectBackoff); sleepErr != nil {
			return nil, sleepErr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("database: connect %s: %w", p.cfg.Driver, err)
	}
	return db, nil
}

func (p *Provider) configurePool(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if p.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	}
	return sqlDB.PingContext(ctx)
}

func (p *Provider) resolveDialector() (gorm.Dialector, error) {
	if p.dialector != nil {
		return p.dialector, nil
	}
	dsn := strings.TrimSpace(p.cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database: dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(p.cfg.Driver)) {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", p.cfg.Driver)
	}
}

// Ping verifies the pool is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return WrapError("ping", sqlDB.PingContext(ctx))
}

// Close releases the pool. The Provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var db *gorm.DB
	for {
		p.stateMu.Lock()
		if p.closed.Load() {
			p.stateMu.Unlock()
			return nil
		}
		if waitCh := p.initCh; waitCh != nil {
			p.stateMu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-waitCh:
				continue
			}
		}
		p.closed.Store(true)
		db = p.db
		p.db = nil
		p.stateMu.Unlock()
		break
	}

	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunTransaction executes fn inside a transaction on the provider's pool.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, db, fn, opts...)
}

func newGormLogger(logger *zap.Logger, slow time.Duration) gormlogger.Interface {
	level := gormlogger.Warn
	if logger.Core().Enabled(zap.DebugLevel) {
		level = gormlogger.Info
	}
	return gormlogger.New(observability.NewPrintfAdapter(logger), gormlogger.Config{
		SlowThreshold:             slow,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
		LogLevel:                  level,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
