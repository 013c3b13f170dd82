package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/swapmeet/swapmeet-backend/internal/config"
	"github.com/swapmeet/swapmeet-backend/internal/migration"
)

func main() {
	// CLI flags
	configPath := flag.String("config", config.Path(), "config file path")
	seed := flag.Bool("seed", false, "insert demo listings when the table is empty")
	verify := flag.Bool("verify", false, "report row counts and integrity problems")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	defer sqlDB.Close()

	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Schema up to date")

	if *seed {
		if err := migration.SeedDemo(db); err != nil {
			log.Fatalf("Seed failed: %v", err)
		}
		log.Println("Demo listings seeded")
	}

	if *verify {
		r, err := migration.Verify(db)
		if err != nil {
			log.Fatalf("Verify failed: %v", err)
		}
		log.Printf("messages=%d listings=%d orphaned=%d self_messages=%d",
			r.Messages, r.Listings, r.Orphaned, r.SelfMessages)
		if r.SelfMessages > 0 {
			log.Printf("WARNING: %d messages have sender == receiver", r.SelfMessages)
		}
	}
}
