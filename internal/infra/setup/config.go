// Package setup 负责基础设施 (MySQL / Redis) 的初始化。
package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitDB 初始化数据库连接并配置连接池
func InitDB(user, password, host, port, name string) (*gorm.DB, error) {
	dsn, err := buildDSN(user, password, host, port, name)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("setup: failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("setup: failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logrus.Info("MySQL connected")
	return db, nil
}

// buildDSN 根据配置构建数据库连接字符串 (DSN)
func buildDSN(user, password, host, port, name string) (string, error) {
	if user == "" {
		return "", fmt.Errorf("setup: database user must be set")
	}
	if password == "" {
		// 不提供不安全的默认密码，强制要求配置
		return "", fmt.Errorf("setup: database password must be set")
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "3306"
	}
	if name == "" {
		name = "chatterbox_db"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, name)
	return dsn, nil
}

// InitRedis 初始化 Redis 连接并验证连通性
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("setup: failed to connect to Redis: %w", err)
	}
	logrus.Info("Redis connected")
	return client, nil
}
