package database

import (
	"fmt"

	"bbot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the sqlite database and migrates the schema. Unlike a
// scratch backtest store, this database is durable: bots, trades and
// indicator history survive restarts.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the tables for all persisted entities.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Bot{}, &models.Trade{}, &models.Indicator{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
