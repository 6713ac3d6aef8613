package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryDSN = "file::memory:?cache=shared"

type statsRow struct {
	ID                       uint      `gorm:"primaryKey"`
	Identity                 string    `gorm:"index;size:128"`
	RecordedAt               time.Time `gorm:"index"`
	State                    string    `gorm:"size:32"`
	PingMillis               float64
	JitterMillis             float64
	InterpolationDelayMillis float64
	MessagesReceived         uint64
	MessagesSent             uint64
	MalformedMessages        uint64
	OutOfOrderSnapshots      uint64
	StaleAcknowledgments     uint64
	UnknownEntityUpdates     uint64
	PendingInputs            int
	RemoteEntities           int
	Projectiles              int
	CorrectionMeters         float64
}

func (statsRow) TableName() string { return "netsync_stats_samples" }

type eventRow struct {
	ID         uint      `gorm:"primaryKey"`
	Identity   string    `gorm:"index;size:128"`
	Kind       string    `gorm:"index;size:64"`
	OccurredAt time.Time `gorm:"index"`
	ServerTime *time.Time
	Payload    datatypes.JSON
}

func (eventRow) TableName() string { return "netsync_events" }

// OpenDatabase connects to sqlite or postgres. An empty sqlite dsn opens a
// shared in-memory database.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = memoryDSN
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		return db, nil
	case DriverPostgres:
		db, err := gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Gorm stores samples and events in SQL tables.
type Gorm struct {
	db *gorm.DB
}

// NewGorm migrates the recorder tables on db.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&statsRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate recorder tables: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) RecordStats(ctx context.Context, sample StatsSample) error {
	row := statsRow{
		Identity:                 sample.Identity,
		RecordedAt:               sample.At.UTC(),
		State:                    sample.State,
		PingMillis:               sample.PingMillis,
		JitterMillis:             sample.JitterMillis,
		InterpolationDelayMillis: sample.InterpolationDelayMillis,
		MessagesReceived:         sample.MessagesReceived,
		MessagesSent:             sample.MessagesSent,
		MalformedMessages:        sample.MalformedMessages,
		OutOfOrderSnapshots:      sample.OutOfOrderSnapshots,
		StaleAcknowledgments:     sample.StaleAcknowledgments,
		UnknownEntityUpdates:     sample.UnknownEntityUpdates,
		PendingInputs:            sample.PendingInputs,
		RemoteEntities:           sample.RemoteEntities,
		Projectiles:              sample.Projectiles,
		CorrectionMeters:         sample.CorrectionMeters,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert stats sample: %w", err)
	}
	return nil
}

func (g *Gorm) RecordEvent(ctx context.Context, event EventRecord) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Kind, err)
	}
	row := eventRow{
		Identity:   event.Identity,
		Kind:       event.Kind,
		OccurredAt: event.Timestamp.UTC(),
		Payload:    datatypes.JSON(payload),
	}
	if !event.ServerTime.IsZero() {
		serverTime := event.ServerTime.UTC()
		row.ServerTime = &serverTime
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert %s event: %w", event.Kind, err)
	}
	return nil
}

// Samples returns the recorded samples for identity in recording order.
func (g *Gorm) Samples(ctx context.Context, identity string) ([]StatsSample, error) {
	var rows []statsRow
	if err := g.db.WithContext(ctx).Where("identity = ?", identity).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	samples := make([]StatsSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, StatsSample{
			Identity:                 row.Identity,
			At:                       row.RecordedAt,
			State:                    row.State,
			PingMillis:               row.PingMillis,
			JitterMillis:             row.JitterMillis,
			InterpolationDelayMillis: row.InterpolationDelayMillis,
			MessagesReceived:         row.MessagesReceived,
			MessagesSent:             row.MessagesSent,
			MalformedMessages:        row.MalformedMessages,
			OutOfOrderSnapshots:      row.OutOfOrderSnapshots,
			StaleAcknowledgments:     row.StaleAcknowledgments,
			UnknownEntityUpdates:     row.UnknownEntityUpdates,
			PendingInputs:            row.PendingInputs,
			RemoteEntities:           row.RemoteEntities,
			Projectiles:              row.Projectiles,
			CorrectionMeters:         row.CorrectionMeters,
		})
	}
	return samples, nil
}

// Events returns recorded events of kind with their payload left as raw JSON.
func (g *Gorm) Events(ctx context.Context, kind string) ([]EventRecord, error) {
	var rows []eventRow
	if err := g.db.WithContext(ctx).Where("kind = ?", kind).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]EventRecord, 0, len(rows))
	for _, row := range rows {
		record := EventRecord{
			Identity:  row.Identity,
			Kind:      row.Kind,
			Timestamp: row.OccurredAt,
			Payload:   json.RawMessage(row.Payload),
		}
		if row.ServerTime != nil {
			record.ServerTime = *row.ServerTime
		}
		events = append(events, record)
	}
	return events, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
