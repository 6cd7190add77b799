package main

import (
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"zapmaster-backend/internal/config"
	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/models"
)

// Copies a local sqlite database into the PostgreSQL instance configured via
// DB_HOST. One-time tool for promoting a dev setup to a hosted one.
func main() {
	cfg := config.LoadConfig()
	if cfg.DBHost == "" {
		log.Fatal("DB_HOST must be set: the migration target is PostgreSQL")
	}

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to SQLite: %v", err)
	}
	log.Printf("Connected to SQLite at %s", cfg.DBPath)

	// 2. Connect to PostgreSQL (Destination)
	database.InitDB(cfg)
	pgDB := database.GormDB

	log.Println("Starting data migration...")

	migrateTable := func(tableName string, source interface{}) {
		log.Printf("Migrating table: %s", tableName)

		if err := sqliteDB.Find(source).Error; err != nil {
			log.Printf("Error reading %s from SQLite: %v", tableName, err)
			return
		}

		err := pgDB.Transaction(func(tx *gorm.DB) error {
			return tx.Create(source).Error
		})
		if err != nil {
			log.Printf("Error writing %s to Postgres: %v", tableName, err)
		} else {
			log.Printf("Successfully migrated %s", tableName)
		}
	}

	var contacts []models.Contact
	migrateTable("contacts", &contacts)

	var accounts []models.Account
	migrateTable("accounts", &accounts)

	var messages []models.Message
	migrateTable("messages", &messages)

	var chats []models.Chat
	migrateTable("chats", &chats)

	var campaigns []models.Campaign
	migrateTable("campaigns", &campaigns)

	var stats []models.DailyStat
	migrateTable("daily_stats", &stats)

	var settings []models.DispatchSettings
	migrateTable("dispatch_settings", &settings)

	log.Println("Migration completed!")
}
