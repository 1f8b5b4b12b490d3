package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"report-match-engine/config"
)

// Database wraps the MySQL connection used for reports (read-mostly)
// and match_candidates (owned by this service).
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	var waitInterval time.Duration = 1 * time.Second
	const maxWait = 30 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break
		} else {
			log.WithError(err).Warnf("Database connection failed, retrying in %v", waitInterval)
		}
		time.Sleep(waitInterval)
		if waitInterval < maxWait {
			waitInterval *= 2
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the underlying sql.DB for direct queries
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// CreateTables creates the tables owned by this service if they don't
// exist. The reports table belongs to the report-authoring service and
// is never created or altered here.
func (d *Database) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS match_candidates (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			pair_lo VARCHAR(64) NOT NULL,
			pair_hi VARCHAR(64) NOT NULL,
			source_report_id VARCHAR(64) NOT NULL,
			candidate_report_id VARCHAR(64) NOT NULL,
			status ENUM('candidate', 'promoted', 'suppressed', 'dismissed') NOT NULL DEFAULT 'candidate',
			score_total FLOAT NOT NULL DEFAULT 0.0,
			score_text FLOAT,
			score_image FLOAT,
			score_geo FLOAT,
			score_time FLOAT,
			score_color FLOAT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_match_pair (pair_lo, pair_hi),
			INDEX idx_match_source (source_report_id),
			INDEX idx_match_candidate (candidate_report_id),
			INDEX idx_match_status (status),
			INDEX idx_match_score (score_total DESC)
		)`,
		`CREATE TABLE IF NOT EXISTS moderation_events (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			actor VARCHAR(255),
			action VARCHAR(64) NOT NULL,
			target_type VARCHAR(64) NOT NULL,
			target_id VARCHAR(64) NOT NULL,
			details JSON,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_moderation_target (target_type, target_id),
			INDEX idx_moderation_action (action)
		)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Info("match engine tables created/verified")
	return nil
}
