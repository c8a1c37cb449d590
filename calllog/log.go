// Package calllog keeps an append-only record of outbound LLM API calls.
package calllog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one logged API call attempt.
type Entry struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	Endpoint  string    `gorm:"size:500"`
	Request   string    `gorm:"type:text"`
	Response  string    `gorm:"type:text"`
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
}

// TableName overrides the default table name.
func (Entry) TableName() string {
	return "call_logs"
}

// Log is an append-only call log backed by a single SQLite table.
type Log struct {
	db *gorm.DB
}

// Open opens the call log database at path, creating it and its parent
// directory if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	// The pure-Go driver supports one writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate call log: %w", err)
	}

	return &Log{db: db}, nil
}

// Append records one call attempt. The timestamp is derived here.
func (l *Log) Append(endpoint, request, response string, status int) error {
	entry := Entry{
		CreatedAt: time.Now(),
		Endpoint:  endpoint,
		Request:   request,
		Response:  response,
		Status:    status,
	}
	if err := l.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("append call log: %w", err)
	}
	return nil
}

// Recent returns at most limit entries, newest first. A non-positive limit
// returns all entries.
func (l *Log) Recent(limit int) ([]Entry, error) {
	q := l.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []Entry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("read call log: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
