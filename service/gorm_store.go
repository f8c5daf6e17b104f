package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AnTengye/casedesk/config"
	"github.com/AnTengye/casedesk/model"
)

// GormStore is the PostgreSQL-backed Repository
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open database handle
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenGormStore connects to PostgreSQL and optionally migrates the schema
func OpenGormStore(cfg *config.StoreConfig) (*GormStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store dsn is required for driver %q", cfg.Driver)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	s := NewGormStore(db)
	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	slog.Info("postgres store initialized", "auto_migrate", cfg.AutoMigrate)
	return s, nil
}

// Migrate creates or updates the tables
func (s *GormStore) Migrate() error {
	err := s.db.AutoMigrate(
		&model.Agreement{},
		&model.Todo{},
		&model.Document{},
		&model.StrategyDocument{},
		&model.Charge{},
		&model.Envelope{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

func (s *GormStore) upsert(ctx context.Context, v any) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error
}

func (s *GormStore) SaveAgreement(ctx context.Context, a *model.Agreement) error {
	return s.upsert(ctx, a)
}

func (s *GormStore) GetAgreement(ctx context.Context, id string) (*model.Agreement, error) {
	var a model.Agreement
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err, "agreement", id)
	}
	return &a, nil
}

func (s *GormStore) ListAgreements(ctx context.Context, filter AgreementFilter) ([]*model.Agreement, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if filter.ClientID != "" {
		q = q.Where("client_id = ?", filter.ClientID)
	}
	if filter.StrategistID != "" {
		q = q.Where("strategist_id = ?", filter.StrategistID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var result []*model.Agreement
	if err := q.Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	return result, nil
}

func (s *GormStore) SaveTodo(ctx context.Context, t *model.Todo) error {
	return s.upsert(ctx, t)
}

func (s *GormStore) GetTodo(ctx context.Context, id string) (*model.Todo, error) {
	var t model.Todo
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err, "todo", id)
	}
	return &t, nil
}

func (s *GormStore) ListTodos(ctx context.Context, agreementID string) ([]*model.Todo, error) {
	var result []*model.Todo
	err := s.db.WithContext(ctx).Where("agreement_id = ?", agreementID).Order("created_at desc").Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return result, nil
}

func (s *GormStore) SaveDocument(ctx context.Context, d *model.Document) error {
	return s.upsert(ctx, d)
}

func (s *GormStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, "document", id)
	}
	return &d, nil
}

func (s *GormStore) ListDocuments(ctx context.Context, agreementID string) ([]*model.Document, error) {
	var result []*model.Document
	err := s.db.WithContext(ctx).Where("agreement_id = ?", agreementID).Order("created_at desc").Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return result, nil
}

func (s *GormStore) SaveStrategyDocument(ctx context.Context, d *model.StrategyDocument) error {
	return s.upsert(ctx, d)
}

func (s *GormStore) GetStrategyDocument(ctx context.Context, id string) (*model.StrategyDocument, error) {
	var d model.StrategyDocument
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, "strategy document", id)
	}
	return &d, nil
}

func (s *GormStore) SaveCharge(ctx context.Context, c *model.Charge) error {
	return s.upsert(ctx, c)
}

func (s *GormStore) GetCharge(ctx context.Context, id string) (*model.Charge, error) {
	var c model.Charge
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "charge", id)
	}
	return &c, nil
}

func (s *GormStore) ListCharges(ctx context.Context, agreementID string) ([]*model.Charge, error) {
	var result []*model.Charge
	err := s.db.WithContext(ctx).Where("agreement_id = ?", agreementID).Order("created_at desc").Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	return result, nil
}

func (s *GormStore) FindChargeBySession(ctx context.Context, sessionID string) (*model.Charge, error) {
	var c model.Charge
	if err := s.db.WithContext(ctx).Where("checkout_session_id = ?", sessionID).First(&c).Error; err != nil {
		return nil, notFound(err, "charge for session", sessionID)
	}
	return &c, nil
}

func (s *GormStore) SaveEnvelope(ctx context.Context, e *model.Envelope) error {
	return s.upsert(ctx, e)
}

func (s *GormStore) GetEnvelope(ctx context.Context, id string) (*model.Envelope, error) {
	var e model.Envelope
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, notFound(err, "envelope", id)
	}
	return &e, nil
}

// NewRepository builds the repository selected by the store driver
func NewRepository(cfg *config.StoreConfig) (Repository, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStoreFromConfig(cfg), nil
	case "postgres":
		s, err := OpenGormStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
