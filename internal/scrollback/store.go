package scrollback

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one persisted scrollback cache row. The key is derived from the
// configured prefix and the session id, so no session ever reads or writes
// another session's row.
type Entry struct {
	Key       string `gorm:"primaryKey"`
	Data      []byte
	UpdatedAt time.Time
}

// TableName sets the SQLite table name for scrollback rows.
func (Entry) TableName() string { return "scrollback_cache" }

// DefaultPrefix is the cache key prefix used when none is configured.
const DefaultPrefix = "termbridge"

// Store persists scrollback per session id in a local SQLite database.
type Store struct {
	db     *gorm.DB
	prefix string
	cron   *cron.Cron
}

// OpenStore opens (or creates) the scrollback database at path. The prefix
// scopes cache keys; pass "" for DefaultPrefix.
func OpenStore(path, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open scrollback db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate scrollback schema: %w", err)
	}

	return &Store{db: db, prefix: prefix}, nil
}

// NewStoreWithDB wraps an existing gorm DB. Intended for testing.
func NewStoreWithDB(db *gorm.DB, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate scrollback schema: %w", err)
	}
	return &Store{db: db, prefix: prefix}, nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Load returns the cached scrollback for a session, or nil when the session
// has never produced output.
func (s *Store) Load(sessionID string) []byte {
	var e Entry
	err := s.db.First(&e, "key = ?", s.key(sessionID)).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[scrollback] load %s: %v", sessionID, err)
		}
		return nil
	}
	return e.Data
}

// Save upserts the cached scrollback for a session.
func (s *Store) Save(sessionID string, data []byte) error {
	e := Entry{Key: s.key(sessionID), Data: data, UpdatedAt: time.Now()}
	err := s.db.Save(&e).Error
	if err != nil {
		return fmt.Errorf("save scrollback for %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes the cached scrollback for a session.
func (s *Store) Delete(sessionID string) error {
	return s.db.Delete(&Entry{}, "key = ?", s.key(sessionID)).Error
}

// PruneStale deletes rows not touched within ttl and returns the number of
// rows removed.
func (s *Store) PruneStale(ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	res := s.db.Delete(&Entry{}, "updated_at < ?", cutoff)
	if res.Error != nil {
		return 0, fmt.Errorf("prune scrollback: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StartJanitor schedules hourly pruning of rows older than ttl. Call
// StopJanitor (or Close) to stop it.
func (s *Store) StartJanitor(ttl time.Duration) {
	if s.cron != nil {
		return
	}
	s.cron = cron.New()
	s.cron.AddFunc("@hourly", func() {
		n, err := s.PruneStale(ttl)
		if err != nil {
			log.Printf("[scrollback] janitor: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[scrollback] janitor pruned %d stale entries", n)
		}
	})
	s.cron.Start()
}

// StopJanitor stops the pruning schedule if it is running.
func (s *Store) StopJanitor() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Close stops the janitor and closes the underlying database.
func (s *Store) Close() error {
	s.StopJanitor()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
