package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLite persists the K/V contract in a single sqlite file so positions,
// orders, and session P&L survive a crash or restart. The schema is one
// table per capability (strings, hash fields, set members, list items)
// plus a shared expiry table; TTL is enforced lazily on access.
type SQLite struct {
	db *gorm.DB
}

type kvString struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

type kvHashField struct {
	Key   string `gorm:"primaryKey"`
	Field string `gorm:"primaryKey"`
	Value string
}

type kvSetMember struct {
	Key    string `gorm:"primaryKey"`
	Member string `gorm:"primaryKey"`
}

type kvListItem struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	Key   string `gorm:"index"`
	Value string
}

type kvExpiry struct {
	Key       string `gorm:"primaryKey"`
	ExpiresAt time.Time
}

// OpenSQLite opens (or creates) the store file and migrates the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&kvString{}, &kvHashField{}, &kvSetMember{}, &kvListItem{}, &kvExpiry{}); err != nil {
		return nil, fmt.Errorf("migrate store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// purgeExpired deletes every record of a key whose TTL has passed.
// Returns true if the key was expired.
func (s *SQLite) purgeExpired(ctx context.Context, key string) bool {
	var exp kvExpiry
	err := s.conn(ctx).First(&exp, "key = ?", key).Error
	if err != nil || time.Now().Before(exp.ExpiresAt) {
		return false
	}
	s.deleteKey(ctx, key)
	return true
}

func (s *SQLite) deleteKey(ctx context.Context, key string) {
	db := s.conn(ctx)
	db.Delete(&kvString{}, "key = ?", key)
	db.Delete(&kvHashField{}, "key = ?", key)
	db.Delete(&kvSetMember{}, "key = ?", key)
	db.Delete(&kvListItem{}, "key = ?", key)
	db.Delete(&kvExpiry{}, "key = ?", key)
}

func (s *SQLite) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.purgeExpired(ctx, key)
	rows := make([]kvHashField, 0, len(fields))
	for f, v := range fields {
		rows = append(rows, kvHashField{Key: key, Field: f, Value: v})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
}

func (s *SQLite) HGet(ctx context.Context, key, field string) (string, error) {
	if s.purgeExpired(ctx, key) {
		return "", ErrNotFound
	}
	var row kvHashField
	err := s.conn(ctx).First(&row, "key = ? AND field = ?", key, field).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *SQLite) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if s.purgeExpired(ctx, key) {
		return map[string]string{}, nil
	}
	var rows []kvHashField
	if err := s.conn(ctx).Find(&rows, "key = ?", key).Error; err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *SQLite) SAdd(ctx context.Context, key string, members ...string) error {
	s.purgeExpired(ctx, key)
	rows := make([]kvSetMember, 0, len(members))
	for _, m := range members {
		rows = append(rows, kvSetMember{Key: key, Member: m})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *SQLite) SRem(ctx context.Context, key string, members ...string) error {
	return s.conn(ctx).Delete(&kvSetMember{}, "key = ? AND member IN ?", key, members).Error
}

func (s *SQLite) SMembers(ctx context.Context, key string) ([]string, error) {
	if s.purgeExpired(ctx, key) {
		return nil, nil
	}
	var rows []kvSetMember
	if err := s.conn(ctx).Find(&rows, "key = ?", key).Error; err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Member)
	}
	return out, nil
}

func (s *SQLite) LPush(ctx context.Context, key string, values ...string) error {
	s.purgeExpired(ctx, key)
	for _, v := range values {
		if err := s.conn(ctx).Create(&kvListItem{Key: key, Value: v}).Error; err != nil {
			return fmt.Errorf("lpush %s: %w", key, err)
		}
	}
	return nil
}

// LRange returns newest-first, matching LPush-prepend semantics.
func (s *SQLite) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	if s.purgeExpired(ctx, key) {
		return nil, nil
	}
	var rows []kvListItem
	if err := s.conn(ctx).Order("id DESC").Find(&rows, "key = ?", key).Error; err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	sIdx, eIdx, ok := rangeBounds(start, stop, len(rows))
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, eIdx-sIdx+1)
	for _, r := range rows[sIdx : eIdx+1] {
		out = append(out, r.Value)
	}
	return out, nil
}

func (s *SQLite) LTrim(ctx context.Context, key string, start, stop int) error {
	var rows []kvListItem
	if err := s.conn(ctx).Order("id DESC").Find(&rows, "key = ?", key).Error; err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	sIdx, eIdx, ok := rangeBounds(start, stop, len(rows))
	if !ok {
		return s.conn(ctx).Delete(&kvListItem{}, "key = ?", key).Error
	}
	keep := make(map[uint]struct{}, eIdx-sIdx+1)
	for _, r := range rows[sIdx : eIdx+1] {
		keep[r.ID] = struct{}{}
	}
	drop := make([]uint, 0, len(rows)-len(keep))
	for _, r := range rows {
		if _, ok := keep[r.ID]; !ok {
			drop = append(drop, r.ID)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	return s.conn(ctx).Delete(&kvListItem{}, "id IN ?", drop).Error
}

func (s *SQLite) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.purgeExpired(ctx, key)
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kvString{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if ttl > 0 {
		return s.Expire(ctx, key, ttl)
	}
	return nil
}

func (s *SQLite) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.purgeExpired(ctx, key)
	var existing kvString
	err := s.conn(ctx).First(&existing, "key = ?", key).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	if s.purgeExpired(ctx, key) {
		return "", ErrNotFound
	}
	var row kvString
	err := s.conn(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *SQLite) Del(ctx context.Context, key string) error {
	s.deleteKey(ctx, key)
	return nil
}

func (s *SQLite) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(&kvExpiry{Key: key, ExpiresAt: time.Now().Add(ttl)}).Error
}

// Atomic wraps fn in one sqlite transaction.
func (s *SQLite) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLite{db: tx})
	})
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
