package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CachedPayload is one cached response, keyed by uri.
type CachedPayload struct {
	URI       string `gorm:"primaryKey"`
	Data      []byte
	FetchedAt time.Time
}

func (CachedPayload) TableName() string {
	return "cached_payloads"
}

// CachedSource keeps every fetched payload in a sqlite database so a dataset can be streamed
// again offline. Entries never expire.
type CachedSource struct {
	Source ByteSource
	db     *gorm.DB
}

func NewCachedSource(source ByteSource, dbPath string) (*CachedSource, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&CachedPayload{}); err != nil {
		return nil, fmt.Errorf("migrate cache %s: %w", dbPath, err)
	}
	return &CachedSource{Source: source, db: db}, nil
}

func (s *CachedSource) FetchBytes(ctx context.Context, uri string, headers http.Header) ([]byte, error) {
	var cached CachedPayload
	err := s.db.WithContext(ctx).Where("uri = ?", uri).Take(&cached).Error
	if err == nil {
		return cached.Data, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		glog.Warningf("cache lookup %s: %v", uri, err)
	}

	data, err := s.Source.FetchBytes(ctx, uri, headers)
	if err != nil {
		return nil, err
	}
	entry := CachedPayload{URI: uri, Data: data, FetchedAt: time.Now()}
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		glog.Warningf("cache store %s: %v", uri, err)
	}
	return data, nil
}

// Len returns the number of cached payloads.
func (s *CachedSource) Len() (int64, error) {
	var n int64
	err := s.db.Model(&CachedPayload{}).Count(&n).Error
	return n, err
}

func (s *CachedSource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
