package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runRow is the SQL projection of a run record. The full record travels as a
// JSON payload; phase and timestamps are lifted into columns for querying.
type runRow struct {
	RunID     string    `gorm:"column:run_id;primaryKey"`
	Phase     string    `gorm:"column:phase;index"`
	Payload   []byte    `gorm:"column:payload"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (runRow) TableName() string { return "workflow_runs" }

// GormStore persists run records through GORM (SQLite in the default
// deployment, any GORM dialector in principle).
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore migrates the schema and wraps the database handle.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&runRow{}); err != nil {
		return nil, fmt.Errorf("migrate workflow_runs: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

func (s *GormStore) Save(ctx context.Context, record *RunRecord) error {
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	row := runRow{
		RunID:     record.RunID,
		Phase:     record.Phase,
		Payload:   payload,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save run %s: %w", record.RunID, err)
	}
	return nil
}

func (s *GormStore) Load(ctx context.Context, runID string) (*RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	var record RunRecord
	if err := json.Unmarshal(row.Payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return &record, nil
}

func (s *GormStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&runRow{}).Order("run_id").Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return ids, nil
}

func (s *GormStore) Delete(ctx context.Context, runID string) error {
	result := s.db.WithContext(ctx).Delete(&runRow{}, "run_id = ?", runID)
	if result.Error != nil {
		return fmt.Errorf("delete run %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}
