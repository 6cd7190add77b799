package main

import (
	"log"

	"zapmaster-backend/internal/config"
	"zapmaster-backend/internal/database"
)

// Realigns PostgreSQL id sequences after an id-preserving migration.
func main() {
	cfg := config.LoadConfig()
	if cfg.DBHost == "" {
		log.Fatal("DB_HOST must be set: sequences only exist in PostgreSQL")
	}
	database.InitDB(cfg)
	db := database.GormDB

	tables := []string{
		"accounts",
		"messages",
		"chats",
		"campaigns",
		"dispatch_settings",
	}

	log.Println("Syncing PostgreSQL sequences...")

	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			log.Printf("Error syncing sequence for %s: %v", table, err)
		} else {
			log.Printf("Successfully synced sequence for %s", table)
		}
	}

	log.Println("DONE!")
}
