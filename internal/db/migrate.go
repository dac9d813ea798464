package db

import (
	"fmt"

	"github.com/zulandar/pneumaticqc/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model of the QC schema, live tables first.
func AllModels() []interface{} {
	return []interface{}{
		&models.ProductModel{},
		&models.SystemState{},
		&models.AlertPhone{},
		&models.Cycle{},
		&models.QRCode{},
		&models.CyclePrintLog{},
		&models.SmsQueueEntry{},
		&models.CycleArchive{},
		&models.QRCodeArchive{},
		&models.CyclePrintLogArchive{},
		&models.SmsQueueArchive{},
		&models.PurgeRun{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedSystemState inserts the singleton system_state row if it is missing.
// An existing row, and its active model, is left untouched.
func SeedSystemState(db *gorm.DB) error {
	state := models.SystemState{ID: models.SystemStateID}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&state)
	if result.Error != nil {
		return fmt.Errorf("db: seed system_state: %w", result.Error)
	}
	return nil
}

// Migrate runs AutoMigrate and seeds the system_state row.
func Migrate(db *gorm.DB) error {
	if err := AutoMigrate(db); err != nil {
		return err
	}
	return SeedSystemState(db)
}

// productionTables lists the tables cleared by Truncate, children first.
// Models, alert phones and system_state are configuration and are kept.
var productionTables = []string{
	"cycle_print_log",
	"cycle_print_log_archive",
	"qr_codes",
	"qr_codes_archive",
	"sms_queue",
	"sms_queue_archive",
	"cycles",
	"cycles_archive",
	"purge_runs",
}

// Truncate permanently deletes all production and archive rows in one
// transaction. It returns the number of rows removed per table.
func Truncate(db *gorm.DB) (map[string]int64, error) {
	counts := make(map[string]int64, len(productionTables))
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, table := range productionTables {
			result := tx.Exec(fmt.Sprintf("DELETE FROM %s", table))
			if result.Error != nil {
				return fmt.Errorf("clear %s: %w", table, result.Error)
			}
			counts[table] = result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db: truncate: %w", err)
	}
	return counts, nil
}
