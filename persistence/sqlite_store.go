package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomworks/loom/types"
)

// runRow is the gorm model backing the sqlite store. Transcript and
// pending request are stored as JSON columns.
type runRow struct {
	RunID       string `gorm:"primaryKey;size:64"`
	Topology    string `gorm:"size:32;index"`
	Status      string `gorm:"size:32;index"`
	Transcript  []byte
	Pending     []byte
	Config      []byte
	ErrorDetail string
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

func (runRow) TableName() string { return "workflow_runs" }

// SQLiteRunStore persists run records in an embedded SQLite database.
type SQLiteRunStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteRunStore opens (or creates) the database file and migrates
// the schema.
func NewSQLiteRunStore(path string, logger *zap.Logger) (*SQLiteRunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "loom.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&runRow{}); err != nil {
		return nil, fmt.Errorf("migrate run schema: %w", err)
	}
	return &SQLiteRunStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_run_store")),
	}, nil
}

func toRow(record *RunRecord) (*runRow, error) {
	transcript, err := json.Marshal(record.Transcript)
	if err != nil {
		return nil, err
	}
	row := &runRow{
		RunID:       record.RunID,
		Topology:    record.Topology,
		Status:      record.Status,
		Transcript:  transcript,
		Config:      record.Config,
		ErrorDetail: record.ErrorDetail,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if record.Pending != nil {
		pending, err := json.Marshal(record.Pending)
		if err != nil {
			return nil, err
		}
		row.Pending = pending
	}
	return row, nil
}

func fromRow(row *runRow) (*RunRecord, error) {
	record := &RunRecord{
		RunID:       row.RunID,
		Topology:    row.Topology,
		Status:      row.Status,
		Config:      row.Config,
		ErrorDetail: row.ErrorDetail,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Transcript) > 0 {
		var transcript []types.Message
		if err := json.Unmarshal(row.Transcript, &transcript); err != nil {
			return nil, err
		}
		record.Transcript = transcript
	}
	if len(row.Pending) > 0 {
		var pending PendingRequest
		if err := json.Unmarshal(row.Pending, &pending); err != nil {
			return nil, err
		}
		record.Pending = &pending
	}
	return record, nil
}

func (s *SQLiteRunStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil || record.RunID == "" {
		return ErrInvalidInput
	}
	row, err := toRow(record)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := s.db.WithContext(ctx).Model(&runRow{}).Order("created_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Topology != "" {
		query = query.Where("topology = ?", filter.Topology)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []runRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*RunRecord, 0, len(rows))
	for i := range rows {
		record, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *SQLiteRunStore) DeleteRun(ctx context.Context, runID string) error {
	result := s.db.WithContext(ctx).Delete(&runRow{}, "run_id = ?", runID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteRunStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *SQLiteRunStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
