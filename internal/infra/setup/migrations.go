package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
)

// MigrateDB handles all database migrations using the provided GORM DB instance.
// users 和 rooms 表用自定义 SQL 创建以控制索引长度和引擎参数，
// 其余模型交给 AutoMigrate。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := migrateUsersTable(db); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}

	if err := migrateRoomsTable(db); err != nil {
		return fmt.Errorf("failed to migrate rooms table: %w", err)
	}

	// 迁移剩余的模型 (消息、群成员)
	err := db.AutoMigrate(
		&domain.Message{},
		&domain.RoomMember{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate other tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateUsersTable 处理 users 表迁移
func migrateUsersTable(db *gorm.DB) error {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'users'").Count(&count)

	if count == 0 {
		return createUsersTable(db)
	}
	// 表已存在，交给 AutoMigrate 补齐列和索引
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		logrus.Errorf("Failed to auto-migrate User table: %v", err)
		return fmt.Errorf("failed to migrate user schema: %w", err)
	}
	logrus.Info("Users table schema checked/updated successfully")
	return nil
}

// createUsersTable 创建 users 表
func createUsersTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(191) NOT NULL, -- 限制长度以匹配索引
		password TEXT NOT NULL,
		email VARCHAR(191),
		created_at DATETIME(3),
		updated_at DATETIME(3),
		UNIQUE INDEX idx_username (username),
		UNIQUE INDEX idx_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
	`
	if err := db.Exec(sql).Error; err != nil {
		logrus.Errorf("Failed to create users table: %v", err)
		return fmt.Errorf("failed to create users table: %w", err)
	}
	logrus.Info("Users table created successfully")
	return nil
}

// migrateRoomsTable 处理 rooms 表迁移
func migrateRoomsTable(db *gorm.DB) error {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'rooms'").Count(&count)

	if count == 0 {
		return createRoomsTable(db)
	}
	if err := db.AutoMigrate(&domain.Room{}); err != nil {
		logrus.Errorf("Failed to auto-migrate Room table: %v", err)
		return fmt.Errorf("failed to migrate room schema: %w", err)
	}
	logrus.Info("Rooms table schema checked/updated successfully")
	return nil
}

// createRoomsTable 创建 rooms 表。
// room_key 上的唯一索引是并发 get-or-create 正确性的根基：
// 两个连接同时创建同一房间时只有一个 INSERT 成功。
func createRoomsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE rooms (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		room_key VARCHAR(191) NOT NULL, -- 限制长度以匹配索引
		kind VARCHAR(20) NOT NULL,
		user1_id BIGINT UNSIGNED,
		user2_id BIGINT UNSIGNED,
		name VARCHAR(191),
		created_at DATETIME(3),
		updated_at DATETIME(3),
		INDEX idx_user1_id (user1_id),
		INDEX idx_user2_id (user2_id),
		UNIQUE INDEX idx_room_key (room_key)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
	`
	if err := db.Exec(sql).Error; err != nil {
		logrus.Errorf("Failed to create rooms table: %v", err)
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	logrus.Info("Rooms table created successfully")
	return nil
}
