package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/expenseops/expense-validator/internal/store/model"
)

type Run interface {
	Create(ctx context.Context, run model.Run) (*model.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
	List(ctx context.Context, filter *RunQueryFilter) (model.RunList, error)
	// Update replaces status, terminal error, counts and the whole snapshot
	// in a single statement, so readers observe either the pre- or the
	// post-step record.
	Update(ctx context.Context, run model.Run) (*model.Run, error)
	Delete(ctx context.Context, id uuid.UUID) error
	InitialMigration(ctx context.Context) error
}

type RunStore struct {
	db *gorm.DB
}

var _ Run = (*RunStore)(nil)

func NewRunStore(db *gorm.DB) Run {
	return &RunStore{db: db}
}

func (s *RunStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *RunStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Run{})
}

func (s *RunStore) Create(ctx context.Context, run model.Run) (*model.Run, error) {
	if result := s.getDB(ctx).Create(&run); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &run, nil
}

func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run := model.Run{ID: id}
	if result := s.getDB(ctx).First(&run); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

func (s *RunStore) List(ctx context.Context, filter *RunQueryFilter) (model.RunList, error) {
	var runs model.RunList
	tx := s.getDB(ctx).Model(&model.Run{}).Order("created_at DESC")
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if result := tx.Find(&runs); result.Error != nil {
		return nil, result.Error
	}
	return runs, nil
}

func (s *RunStore) Update(ctx context.Context, run model.Run) (*model.Run, error) {
	now := time.Now()
	run.UpdatedAt = &now

	result := s.getDB(ctx).Model(&model.Run{ID: run.ID}).
		Clauses(clause.Returning{}).
		Select("status", "error", "valid_count", "invalid_count", "snapshot", "updated_at").
		Updates(&run)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return &run, nil
}

func (s *RunStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.getDB(ctx).Unscoped().Delete(&model.Run{ID: id})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

type QueryFn func(tx *gorm.DB) *gorm.DB

type RunQueryFilter struct {
	QueryFn []QueryFn
}

func NewRunQueryFilter() *RunQueryFilter {
	return &RunQueryFilter{}
}

func (f *RunQueryFilter) WithStatus(status string) *RunQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return f
}

func (f *RunQueryFilter) WithLimit(limit int) *RunQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return f
}
