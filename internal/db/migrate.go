package db

import (
	"fmt"

	"github.com/modelrelay/modelrelay/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
		return autoMigrate(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// autoMigrate applies the gateway schema.
func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Provider{},
		&models.Model{},
		&models.SubscriptionCredit{},
		&models.CreditLot{},
		&models.CreditDebt{},
		&models.DailyCredit{},
		&models.CreditGrant{},
		&models.Usage{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}
