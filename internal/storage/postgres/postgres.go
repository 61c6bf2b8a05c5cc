// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// gormLogger bridges GORM's logger interface onto zap.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStorage implements storage.Storage on GORM + Postgres.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

// RunMigrations runs GORM AutoMigrate under an advisory lock so concurrent
// instances cannot race schema changes.
func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(404)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(404)")

	err = p.db.AutoMigrate(
		&models.Agent{},
		&models.ReserveState{},
		&models.Trade{},
		&models.PaymentConfig{},
		&models.PaymentRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func (p *postgresStorage) SaveAgent(ctx context.Context, agent *models.Agent) error {
	return p.db.WithContext(ctx).Create(agent).Error
}

func (p *postgresStorage) GetAgent(ctx context.Context, mint string) (*models.Agent, error) {
	var agent models.Agent
	err := p.db.WithContext(ctx).Where("mint = ?", mint).First(&agent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &agent, nil
}

func (p *postgresStorage) ListAgents(ctx context.Context, limit, offset int) ([]*models.Agent, error) {
	var agents []*models.Agent
	err := p.db.WithContext(ctx).
		Order("agent_id asc").
		Limit(limit).
		Offset(offset).
		Find(&agents).Error
	return agents, err
}

func (p *postgresStorage) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&models.Agent{}).Count(&count).Error
	return count, err
}

// SaveReserveState upserts by mint: trade commits rewrite the same row.
func (p *postgresStorage) SaveReserveState(ctx context.Context, state *models.ReserveState) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"creator", "virtual_sol_reserves", "virtual_token_reserves",
			"real_sol_reserves", "real_token_reserves",
			"bonding_curve_supply", "total_supply", "graduation_threshold",
			"graduated", "inconsistent", "updated_at",
		}),
	}).Create(state).Error
}

func (p *postgresStorage) GetReserveState(ctx context.Context, mint string) (*models.ReserveState, error) {
	var state models.ReserveState
	err := p.db.WithContext(ctx).Where("mint = ?", mint).First(&state).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &state, nil
}

func (p *postgresStorage) ListReserveStates(ctx context.Context) ([]*models.ReserveState, error) {
	var states []*models.ReserveState
	err := p.db.WithContext(ctx).Find(&states).Error
	return states, err
}

func (p *postgresStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	return p.db.WithContext(ctx).Create(trade).Error
}

func (p *postgresStorage) ListTrades(ctx context.Context, mint string, limit, offset int) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := p.db.WithContext(ctx).
		Where("mint = ?", mint).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&trades).Error
	return trades, err
}

func (p *postgresStorage) SavePaymentConfig(ctx context.Context, cfg *models.PaymentConfig) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"recipient", "enabled", "min_amount", "max_amount",
			"timeout_seconds", "total_received", "total_calls",
			"nonce", "updated_at",
		}),
	}).Create(cfg).Error
}

func (p *postgresStorage) GetPaymentConfig(ctx context.Context, mint string) (*models.PaymentConfig, error) {
	var cfg models.PaymentConfig
	err := p.db.WithContext(ctx).Where("mint = ?", mint).First(&cfg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}

func (p *postgresStorage) SavePaymentRecord(ctx context.Context, record *models.PaymentRecord) error {
	return p.db.WithContext(ctx).Create(record).Error
}

func (p *postgresStorage) GetPaymentRecord(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := p.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&record).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &record, nil
}

func (p *postgresStorage) UpdatePaymentStatus(ctx context.Context, paymentID string, status string) error {
	return p.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("payment_id = ?", paymentID).
		Update("status", status).Error
}

// Close releases the underlying connection pool.
func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
