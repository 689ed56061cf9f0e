package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Trade result persistence sink
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// TradeResult is the persisted form of a DynamicTradeResult
type TradeResult struct {
	ID                    string `gorm:"primaryKey"`
	SignalType            string `gorm:"index"`
	SignalTime            time.Time
	SignalPrice           decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExecutionTime         time.Time
	ExecutionPrice        decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExecutionReason       string          `gorm:"index"`
	PriceImprovement      decimal.Decimal `gorm:"type:decimal(20,8)"`
	ImprovementPercentage decimal.Decimal `gorm:"type:decimal(10,6)"`
	TrackingSeconds       int64
	CreatedAt             time.Time
}

// StatsSnapshot is a periodic dump of the running aggregate
type StatsSnapshot struct {
	ID               uint `gorm:"primaryKey;autoIncrement"`
	TotalTrades      int
	BuyTrades        int
	SellTrades       int
	SuccessCount     int
	SuccessRate      float64
	AvgImprovement   decimal.Decimal `gorm:"type:decimal(20,8)"`
	BestImprovement  decimal.Decimal `gorm:"type:decimal(20,8)"`
	WorstImprovement decimal.Decimal `gorm:"type:decimal(20,8)"`
	AvgDurationSecs  int64
	CreatedAt        time.Time
}

// New opens the database. A postgres:// DSN selects PostgreSQL,
// anything else is treated as an on-disk SQLite path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), gormCfg)
	} else {
		if dir := filepath.Dir(dbPath); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, mkErr
			}
		}
		db, err = gorm.Open(sqlite.Open(dbPath), gormCfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&TradeResult{}, &StatsSnapshot{}); err != nil {
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("💾 Database connected")
	return &Database{db: db}, nil
}

// SaveTradeResult persists one executed trade
func (d *Database) SaveTradeResult(r types.DynamicTradeResult) error {
	rec := TradeResult{
		ID:                    r.TradeID,
		SignalType:            string(r.SignalType),
		SignalTime:            r.OriginalSignalTime,
		SignalPrice:           r.OriginalSignalPrice,
		ExecutionTime:         r.ActualExecutionTime,
		ExecutionPrice:        r.ActualExecutionPrice,
		ExecutionReason:       string(r.ExecutionReason),
		PriceImprovement:      r.PriceImprovement,
		ImprovementPercentage: r.ImprovementPercentage,
		TrackingSeconds:       int64(r.TrackingDuration.Seconds()),
	}
	return d.db.Create(&rec).Error
}

// SaveStatsSnapshot persists the running aggregate
func (d *Database) SaveStatsSnapshot(s types.TrackingStatistics) error {
	rec := StatsSnapshot{
		TotalTrades:      s.TotalTrades,
		BuyTrades:        s.BuyTrades,
		SellTrades:       s.SellTrades,
		SuccessCount:     s.SuccessCount,
		SuccessRate:      s.SuccessRate,
		AvgImprovement:   s.AvgImprovement,
		BestImprovement:  s.BestImprovement,
		WorstImprovement: s.WorstImprovement,
		AvgDurationSecs:  int64(s.AvgDuration.Seconds()),
	}
	return d.db.Create(&rec).Error
}

// RecentResults returns the last N trade results, newest first
func (d *Database) RecentResults(limit int) ([]TradeResult, error) {
	var out []TradeResult
	err := d.db.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the underlying connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
