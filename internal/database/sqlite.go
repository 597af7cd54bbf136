package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/feed"
	"github.com/strivelabs/strive/internal/notifications"
	"github.com/strivelabs/strive/internal/profiles"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// TranslateError maps driver UNIQUE violations onto gorm.ErrDuplicatedKey,
	// which the claim and like writes rely on as their constraint backstop.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate applies the schema and the named data migrations. Split from
// OpenSQLite so tests can run it against their own connections.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	err := db.AutoMigrate(
		&activities.Activity{},
		&activities.ClaimedActivity{},
		&activities.ProgressRecord{},
		&profiles.Profile{},
		&feed.Like{},
		&feed.Comment{},
		&notifications.Notification{},
		&migrationRecord{},
	)
	if err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
