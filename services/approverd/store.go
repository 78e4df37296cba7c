package approverd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrAlreadyIssued is returned by RecordOnce when a commitment has been
// signed before.
var ErrAlreadyIssued = errors.New("approverd: commitment already issued")

// Issuance is one audit log row per signature handed out.
type Issuance struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Client           string    `gorm:"index" json:"client"`
	User             string    `gorm:"index" json:"user,omitempty"`
	VerificationType uint8     `json:"verificationType"`
	Referrer         string    `json:"referrer"`
	Timestamp        uint64    `json:"timestamp"`
	Commitment       string    `gorm:"size:66;index" json:"commitment"`
	Signature        string    `json:"signature"`
	Approver         string    `gorm:"index" json:"approver"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store persists issuances.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// OpenStore connects to the configured backend and migrates the schema.
func OpenStore(cfg AuditConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit database required")
	}
	if err := db.AutoMigrate(&Issuance{}); err != nil {
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts entry.
func (s *Store) Record(ctx context.Context, entry *Issuance) error {
	if err := prepareIssuance(entry); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// RecordOnce inserts entry unless its commitment was already issued.
func (s *Store) RecordOnce(ctx context.Context, entry *Issuance) error {
	if err := prepareIssuance(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Issuance{}).Where("commitment = ?", entry.Commitment).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyIssued, entry.Commitment)
		}
		return tx.Create(entry).Error
	})
}

func prepareIssuance(entry *Issuance) error {
	if entry == nil {
		return fmt.Errorf("issuance required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return nil
}

// List returns the most recent issuances, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Issuance, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Issuance
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Since returns every issuance created at or after since, oldest first.
func (s *Store) Since(ctx context.Context, since time.Time) ([]Issuance, error) {
	var out []Issuance
	err := s.db.WithContext(ctx).Where("created_at >= ?", since).Order("created_at asc").Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
