package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fixedlend/core/events"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file::memory:?cache=shared"
	defaultLimit     = 100
	maxLimit         = 1000
)

// EventRecord is one indexed lending or governance event. Attributes holds
// the flattened record as a JSON object.
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Market     string    `gorm:"size:32;index" json:"market,omitempty"`
	Account    string    `gorm:"size:128;index" json:"account,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
}

// TableName pins the table independent of the struct name.
func (EventRecord) TableName() string { return "lending_events" }

// Decode returns the stored attributes.
func (r EventRecord) Decode() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("indexer: decode attributes of %d: %w", r.ID, err)
	}
	return out, nil
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Type    string
	Market  string
	Account string
	Since   time.Time
	Limit   int
}

// Indexer persists emitted events to SQL. It satisfies events.Emitter so it
// can sit next to the metrics and webhook sinks.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to driver ("postgres" or "sqlite") and migrates the schema.
// An empty sqlite DSN opens a shared in-memory database.
func Open(driver, dsn string, logger *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("indexer: postgres DSN required")
		}
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = defaultSQLiteDSN
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db, logger)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: logger, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

// SetNowFunc overrides the clock stamped on stored records.
func (ix *Indexer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ix.nowFn = now
}

// Emit implements events.Emitter. Events without a flat record are skipped
// and storage failures are logged.
func (ix *Indexer) Emit(evt events.Event) {
	recordable, ok := evt.(events.Recordable)
	if !ok {
		return
	}
	if _, err := ix.Store(context.Background(), recordable.Record()); err != nil {
		ix.logger.Error("indexer: store event",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Store inserts rec and returns the stored row.
func (ix *Indexer) Store(ctx context.Context, rec *events.Record) (*EventRecord, error) {
	if rec == nil || strings.TrimSpace(rec.Type) == "" {
		return nil, errors.New("indexer: record type required")
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("indexer: encode attributes: %w", err)
	}
	row := &EventRecord{
		Type:       rec.Type,
		Market:     attrs["market"],
		Account:    attrs["account"],
		Attributes: string(encoded),
		RecordedAt: ix.nowFn(),
	}
	if err := ix.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("indexer: insert %s: %w", rec.Type, err)
	}
	return row, nil
}

// Query returns matching records, oldest first.
func (ix *Indexer) Query(ctx context.Context, filter Filter) ([]EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := ix.db.WithContext(ctx).Model(&EventRecord{})
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Market != "" {
		q = q.Where("market = ?", strings.ToUpper(filter.Market))
	}
	if filter.Account != "" {
		q = q.Where("account = ?", filter.Account)
	}
	if !filter.Since.IsZero() {
		q = q.Where("recorded_at >= ?", filter.Since)
	}
	var out []EventRecord
	if err := q.Order("id asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records of eventType, or of every type
// when empty.
func (ix *Indexer) Count(ctx context.Context, eventType string) (int64, error) {
	q := ix.db.WithContext(ctx).Model(&EventRecord{})
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("indexer: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
