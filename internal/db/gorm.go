package db

import (
	"fmt"
	"log"

	"notesync/internal/config"
	"notesync/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the Postgres connection and migrates the note schema.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// Migrate creates or updates the tables this service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Note{},
		&models.Share{},
		&models.NoteRevision{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
