package settings

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/models"
)

const (
	KeyCategorizerGroupSize = "categorizer_group_size"

	cacheTTL = 5 * time.Minute
)

// Cache is the slice of redisstore.Store the service needs.
type Cache interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string, ttl time.Duration) error
	DeleteSetting(ctx context.Context, key string) error
}

// Service resolves runtime-mutable configuration: redis cache first, then
// the app_settings table, then the compiled default.
type Service struct {
	db    *gorm.DB
	cache Cache
}

func NewService(db *gorm.DB, cache Cache) *Service {
	return &Service{db: db, cache: cache}
}

func (s *Service) GetInt(ctx context.Context, key string, def int) int {
	if s.cache != nil {
		if v, err := s.cache.GetSetting(ctx, key); err == nil {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				return n
			}
		} else if err != redis.Nil {
			// cache down: fall through to the DB
		}
	}

	var row models.AppSetting
	err := s.db.WithContext(ctx).First(&row, "`key` = ?", key).Error
	if err != nil {
		return def
	}
	n, convErr := strconv.Atoi(row.Value)
	if convErr != nil {
		return def
	}
	if s.cache != nil {
		_ = s.cache.SetSetting(ctx, key, row.Value, cacheTTL)
	}
	return n
}

func (s *Service) SetInt(ctx context.Context, key string, value int) error {
	row := models.AppSetting{Key: key, Value: strconv.Itoa(value)}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.DeleteSetting(ctx, key)
	}
	return nil
}
