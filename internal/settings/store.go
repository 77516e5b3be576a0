package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"chattriage/internal/models"
)

const (
	keyChatFilters = "chat_filters"
	keyTTLMinutes  = "ttl_minutes"
)

// Store is a sqlite-backed settings Provider. Settings live in a simple
// key/value table so new settings never need a schema migration. Values are
// cached in memory after the first read; Save* calls keep the memory copy in
// sync.
type Store struct {
	db       *sql.DB
	defaults *Static

	mu      sync.RWMutex
	filters *models.ChatFilters
	ttls    map[string]int
}

// Open opens (creating if necessary) the settings database at path.
// defaults supplies values for settings that were never saved.
func Open(path string, defaults *Static) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	if defaults == nil {
		defaults = &Static{}
	}
	return &Store{db: db, defaults: defaults}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// ChatFilters returns the saved filters, or the defaults if none were saved
func (s *Store) ChatFilters() models.ChatFilters {
	s.mu.RLock()
	if s.filters != nil {
		f := *s.filters
		s.mu.RUnlock()
		return f
	}
	s.mu.RUnlock()

	var filters models.ChatFilters
	if ok, err := s.load(keyChatFilters, &filters); err != nil || !ok {
		return s.defaults.ChatFilters()
	}

	s.mu.Lock()
	s.filters = &filters
	s.mu.Unlock()
	return filters
}

// SaveChatFilters persists the global chat filters
func (s *Store) SaveChatFilters(filters models.ChatFilters) error {
	if err := s.save(keyChatFilters, filters); err != nil {
		return err
	}
	s.mu.Lock()
	s.filters = &filters
	s.mu.Unlock()
	return nil
}

// TTLMinutes returns the saved TTL for an entity, falling back to defaults
func (s *Store) TTLMinutes(entity string) int {
	s.mu.RLock()
	ttls := s.ttls
	s.mu.RUnlock()

	if ttls == nil {
		loaded := make(map[string]int)
		if ok, err := s.load(keyTTLMinutes, &loaded); err == nil && ok {
			s.mu.Lock()
			s.ttls = loaded
			s.mu.Unlock()
			ttls = loaded
		}
	}

	if ttl, ok := ttls[entity]; ok && ttl > 0 {
		return ttl
	}
	return s.defaults.TTLMinutes(entity)
}

// SaveTTLMinutes persists the TTL for a single entity
func (s *Store) SaveTTLMinutes(entity string, minutes int) error {
	ttls := make(map[string]int)
	if _, err := s.load(keyTTLMinutes, &ttls); err != nil {
		return err
	}
	ttls[entity] = minutes

	if err := s.save(keyTTLMinutes, ttls); err != nil {
		return err
	}
	s.mu.Lock()
	s.ttls = ttls
	s.mu.Unlock()
	return nil
}

func (s *Store) save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize setting %s: %w", key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s', 'now')`,
		key, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) load(key string, out any) (bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to parse setting %s: %w", key, err)
	}
	return true, nil
}
