package db

import (
	"fmt"

	"campus-chat/internal/model"
	"campus-chat/pkg/config"
	"campus-chat/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// 根据驱动名打开数据库连接并自动迁移
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 自动迁移模式
	if err := conn.AutoMigrate(&model.User{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return conn, nil
}

// 初始化全局数据库连接
func InitDB() error {
	conn, err := Open(config.GlobalConfig.Database)
	if err != nil {
		return err
	}
	DB = conn

	logger.L.Info("Database connected and migrated successfully", zap.String("driver", config.GlobalConfig.Database.Driver))
	return nil
}
