package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Entry struct {
	Namespace string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "local_storage" }

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("migrate local_storage: %w", err)
	}
	return nil
}

type GormStore struct {
	DB        *gorm.DB
	Namespace string
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	err := s.DB.WithContext(ctx).
		Where(map[string]any{"namespace": s.Namespace, "key": key}).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return e.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	e := Entry{Namespace: s.Namespace, Key: key, Value: value}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	err := s.DB.WithContext(ctx).
		Where(map[string]any{"namespace": s.Namespace, "key": key}).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

type GormFactory struct {
	DB *gorm.DB
}

func (f GormFactory) For(terminalID string) Store {
	return &GormStore{DB: f.DB, Namespace: terminalID}
}
