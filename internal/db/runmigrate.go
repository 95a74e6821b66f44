package db

import (
	"os"

	"github.com/sirupsen/logrus"
)

// RunMigrations is a lightweight entry point you can invoke from tests or a
// small main. It respects the MIGRATIONS env var just like ConnectAndMigrate.
func RunMigrations(log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dsn := GetNormalizedDSN()
	if dsn == "" {
		return nil
	}
	if v := os.Getenv("MIGRATIONS"); v == "" {
		log.Info("MIGRATIONS env not set; skipping sql migrations (AutoMigrate path used at app start)")
		return nil
	}
	log.Info("running explicit SQL migrations")
	return runSQLMigrations(dsn)
}
