// Package settingsstore persists versioned Settings in a bbolt database:
// the live settings value under a fixed key, plus every accepted patch
// appended to a history bucket keyed by zero-padded version, so the
// control surface can answer both "what is the current configuration"
// and "how did it get there" across process restarts.
package settingsstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/scanord/engine/pkg/types"
)

var (
	bucketLive    = []byte("settings_live")
	bucketHistory = []byte("settings_history")

	keyCurrent = []byte("current")
)

// Store is a bbolt-backed, mutex-guarded holder of the live Settings
// plus its version history. It satisfies pkg/scheduler.SettingsProvider.
type Store struct {
	mu      sync.RWMutex
	db      *bolt.DB
	current types.Settings
}

// Open opens (creating if necessary) the settings database at
// <dataDir>/settings.db, creates its buckets, and loads the live
// Settings if one was previously persisted. If none exists, seed is
// written (as version 1 when its Version is 0, otherwise under its own
// Version) and returned as the current value.
func Open(dataDir string, seed types.Settings) (*Store, error) {
	dbPath := filepath.Join(dataDir, "settings.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("settingsstore: opening %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLive); err != nil {
			return fmt.Errorf("creating %s bucket: %w", bucketLive, err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketHistory); err != nil {
			return fmt.Errorf("creating %s bucket: %w", bucketHistory, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}

	loaded, err := s.load()
	if err != nil {
		db.Close()
		return nil, err
	}
	if loaded != nil {
		s.current = *loaded
		return s, nil
	}

	if seed.Version == 0 {
		seed.Version = 1
	}
	if err := s.persist(seed); err != nil {
		db.Close()
		return nil, err
	}
	s.current = seed
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Current returns the live Settings value. It satisfies
// pkg/scheduler.SettingsProvider.
func (s *Store) Current() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply replaces the live Settings with next, assigning it the next
// monotonic version, and durably records both the new live value and a
// history entry before returning. Settings changes are an infrequent
// operator action, not a hot path, so this blocks on disk I/O under the
// store's lock by design.
func (s *Store) Apply(next types.Settings) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next.Version = s.current.Version + 1
	if err := s.persist(next); err != nil {
		return types.Settings{}, err
	}
	s.current = next
	return next, nil
}

// History returns every persisted Settings version, oldest first.
func (s *Store) History() ([]types.Settings, error) {
	var out []types.Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		return b.ForEach(func(_, v []byte) error {
			var entry types.Settings
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decoding history entry: %w", err)
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) load() (*types.Settings, error) {
	var loaded *types.Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLive)
		data := b.Get(keyCurrent)
		if data == nil {
			return nil
		}
		var v types.Settings
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decoding live settings: %w", err)
		}
		loaded = &v
		return nil
	})
	return loaded, err
}

func (s *Store) persist(v types.Settings) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settingsstore: encoding settings: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketLive).Put(keyCurrent, data); err != nil {
			return fmt.Errorf("writing live settings: %w", err)
		}
		historyKey := []byte(fmt.Sprintf("%010d", v.Version))
		if err := tx.Bucket(bucketHistory).Put(historyKey, data); err != nil {
			return fmt.Errorf("writing settings history entry: %w", err)
		}
		return nil
	})
}
