// internal/storage/db.go
package storage

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Corphon/ElementFusion/internal/models"
)

// OpenDB 连接Postgres并返回gorm句柄
func OpenDB(dsn string) (*gorm.DB, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接Postgres失败: %w", err)
	}

	return db, nil
}

// AutoMigrate 迁移元素与组合记录表结构
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Element{},
		&models.Combination{},
	); err != nil {
		return fmt.Errorf("迁移表结构失败: %w", err)
	}
	return nil
}
