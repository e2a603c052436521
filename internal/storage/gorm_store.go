package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVModel is the GORM model for the kv_records table.
type KVModel struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the table name.
func (KVModel) TableName() string { return "kv_records" }

// GormStore implements Store on a relational database via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	var model KVModel
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return model.Value, nil
}

// Set upserts the value under key.
func (s *GormStore) Set(ctx context.Context, key, value string) error {
	model := KVModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
}

// Remove deletes key. Absent keys are not an error.
func (s *GormStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&KVModel{}).Error
}

// Keys returns every stored key.
func (s *GormStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&KVModel{}).Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
