// Package store persists printer configurations and the print job audit
// log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Printer types
const (
	PrinterUSB     = "USB"
	PrinterNetwork = "NETWORK"
)

// Job types
const (
	JobReceipt       = "RECEIPT"
	JobReturnReceipt = "RETURN_RECEIPT"
	JobTest          = "TEST"
)

// Job statuses
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// PrinterConfig is a tenant's printer configuration. At most one row per
// tenant is active at a time; that invariant is enforced here, not by
// caller ordering.
type PrinterConfig struct {
	ID            string            `gorm:"primaryKey" json:"id"`
	UserID        string            `gorm:"index:idx_configs_user" json:"user_id"`
	PrinterType   string            `json:"printer_type"`
	DeviceAddress string            `json:"device_address"`
	PrinterName   string            `json:"printer_name"`
	IsActive      bool              `gorm:"index:idx_configs_user" json:"is_active"`
	ConfigOptions datatypes.JSONMap `json:"config_options,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// PrintJob is one row of the append-only audit trail. Rows are never
// updated: a failed attempt and a later successful one are two records.
type PrintJob struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"index:idx_jobs_user" json:"user_id"`
	JobType         string     `json:"job_type"`
	OrderID         string     `json:"order_id,omitempty"`
	PrinterConfigID string     `json:"printer_config_id"`
	ReceiptText     string     `json:"receipt_text"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	PrintedAt       *time.Time `json:"printed_at,omitempty"`
	AttemptedAt     time.Time  `json:"attempted_at"`
}

// Store wraps the database handle
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (or creates) the database and migrates the schema
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&PrinterConfig{}, &PrintJob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// ActivateConfig persists cfg as the tenant's sole active configuration.
// Deactivation of any prior active row and activation of the new one
// happen in one transaction. A configuration for the same device is
// updated in place rather than duplicated.
func (s *Store) ActivateConfig(ctx context.Context, cfg *PrinterConfig) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PrinterConfig{}).
			Where("user_id = ? AND is_active = ?", cfg.UserID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate prior config: %w", err)
		}

		var existing PrinterConfig
		err := tx.Where("user_id = ? AND printer_type = ? AND device_address = ?",
			cfg.UserID, cfg.PrinterType, cfg.DeviceAddress).
			First(&existing).Error
		switch {
		case err == nil:
			cfg.ID = existing.ID
			cfg.CreatedAt = existing.CreatedAt
			cfg.IsActive = true
			return tx.Save(cfg).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			cfg.ID = uuid.New().String()
			cfg.IsActive = true
			cfg.CreatedAt = time.Now().UTC()
			return tx.Create(cfg).Error
		default:
			return err
		}
	})
}

// ActiveConfig returns the tenant's active configuration, or nil when
// none exists.
func (s *Store) ActiveConfig(ctx context.Context, userID string) (*PrinterConfig, error) {
	var cfg PrinterConfig
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active config: %w", err)
	}
	return &cfg, nil
}

// DeactivateConfig soft-deletes the tenant's active configuration.
// Idempotent: deactivating when nothing is active is not an error.
func (s *Store) DeactivateConfig(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Model(&PrinterConfig{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate config: %w", err)
	}
	return nil
}

// AppendJob inserts one job record. Existing rows are never touched.
func (s *Store) AppendJob(ctx context.Context, job *PrintJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.AttemptedAt.IsZero() {
		job.AttemptedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to append job record: %w", err)
	}
	return nil
}

// Jobs returns the tenant's job history, newest first
func (s *Store) Jobs(ctx context.Context, userID string, limit int) ([]PrintJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []PrintJob
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("attempted_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Job returns one job row scoped to the tenant, or nil if absent
func (s *Store) Job(ctx context.Context, userID, jobID string) (*PrintJob, error) {
	var job PrintJob
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, jobID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	return &job, nil
}
