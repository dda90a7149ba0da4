package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/database"
)

// signin-migrate applies schema migrations; run it from deploy hooks when AUTH_DB_RUN_MIGRATIONS is off.
func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	if *down {
		if err := database.RollbackMigrations(db, cfg.Database.Driver); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("migrations rolled back")
		return
	}
	if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	version, _, err := database.MigrationVersion(db, cfg.Database.Driver)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("migrations completed, schema version %d", version)
}
