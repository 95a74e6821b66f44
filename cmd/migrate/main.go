package main

import (
	"flag"

	"github.com/joho/godotenv"

	"github.com/dfall/chantier-app/internal/config"
	"github.com/dfall/chantier-app/internal/db"
)

var sqlOnlyFlag = flag.Bool("sql-only", false, "Run golang-migrate SQL migrations and exit without opening a gorm session")

func main() {
	flag.Parse()
	_ = godotenv.Load()
	cfg := config.Load()
	log := cfg.Logger()

	if *sqlOnlyFlag {
		if err := db.RunMigrations(log); err != nil {
			log.WithError(err).Fatal("sql migrations failed")
		}
		log.Info("sql migrations completed")
		return
	}

	if _, err := db.ConnectAndMigrate(log); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.WithField("env", cfg.Env).Info("schema up to date")
}
