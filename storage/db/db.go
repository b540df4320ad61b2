// Package db provides the relational store: election catalog, sealed blocks
// and voter registrations in PostgreSQL through GORM.
package db

import (
	"fmt"
	stdlog "log"
	"net/url"
	"os"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a database connection. An empty url disables the relational
// store and returns nil, nil.
func Open(databaseURL string) (*gorm.DB, error) {
	// Silent: only errors surface, through returned values
	newLogger := logger.New(
		stdlog.New(os.Stdout, "", stdlog.LstdFlags),
		logger.Config{
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}

	dsn, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
}

// parseDatabaseURL accepts postgres:// and postgresql:// URLs.
func parseDatabaseURL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return databaseURL, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&ElectionRow{},
		&PositionRow{},
		&CandidateRow{},
		&BlockRow{},
		&TransactionRow{},
		&VoterRow{},
	)
}
