package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/activities"
)

const migrationSeedSharedCatalog = "2026-01-12_seed_shared_catalog"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedSharedCatalog, apply: seedSharedCatalog},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// The shared catalog every user sees. Administrators extend it through the
// migration list; users add personal entries through the API.
func seedSharedCatalog(db *gorm.DB) error {
	catalog := []activities.Activity{
		{ActivityID: "steps-10k", Name: "Walk 10,000 steps", Points: 10, Category: "fitness"},
		{ActivityID: "gym-session", Name: "Gym session", Points: 15, RequiresPhoto: true, Category: "fitness"},
		{ActivityID: "morning-run", Name: "Morning run", Points: 15, Category: "fitness"},
		{ActivityID: "water-8", Name: "Drink 8 glasses of water", Points: 8, IsProgressive: true, MaxProgress: 8, Category: "nutrition"},
		{ActivityID: "fruit-veg-5", Name: "Eat 5 portions of fruit and veg", Points: 10, IsProgressive: true, MaxProgress: 5, Category: "nutrition"},
		{ActivityID: "home-cooked", Name: "Cook a meal from scratch", Points: 8, RequiresPhoto: true, Category: "nutrition"},
		{ActivityID: "meditate-10", Name: "Meditate for 10 minutes", Points: 6, Category: "mindfulness"},
		{ActivityID: "gratitude-journal", Name: "Write a gratitude entry", Points: 5, Category: "mindfulness"},
		{ActivityID: "sleep-8h", Name: "Sleep 8 hours", Points: 8, Category: "recovery"},
		{ActivityID: "screen-free-hour", Name: "Screen-free hour before bed", Points: 5, Category: "recovery"},
	}

	for _, activity := range catalog {
		var existing activities.Activity
		err := db.Where("activity_id = ?", activity.ActivityID).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&activity).Error; err != nil {
			return err
		}
	}
	return nil
}
