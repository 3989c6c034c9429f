// Package session persists the per-room Local Order View between runs,
// the way the original web client mirrored it into page attributes: pure
// write-through, read exactly once at startup.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"

	"github.com/gosuda/market-chat/ordersync"
)

// Store is a PebbleDB-backed view store keyed by room id. A nil *Store is
// a valid no-op store, so persistence stays optional.
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &Store{db: db}, nil
}

func viewKey(roomID string) []byte {
	return []byte("view/" + roomID)
}

// SaveView writes the room's view snapshot. Called on every reconcile.
func (s *Store) SaveView(roomID string, v ordersync.View) error {
	if s == nil || s.db == nil {
		return nil
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(viewKey(roomID), val, pebble.Sync)
}

// LoadView reads the room's persisted view. ok is false when no snapshot
// exists, which is a fresh session, not an error.
func (s *Store) LoadView(roomID string) (v ordersync.View, ok bool, err error) {
	if s == nil || s.db == nil {
		return ordersync.View{}, false, nil
	}
	val, closer, err := s.db.Get(viewKey(roomID))
	if err == pebble.ErrNotFound {
		return ordersync.View{}, false, nil
	}
	if err != nil {
		return ordersync.View{}, false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, &v); err != nil {
		return ordersync.View{}, false, fmt.Errorf("decode persisted view: %w", err)
	}
	return v, true, nil
}

// ForRoom binds the store to one room as an ordersync.Persister.
func (s *Store) ForRoom(roomID string) ordersync.Persister {
	return roomPersister{store: s, roomID: roomID}
}

type roomPersister struct {
	store  *Store
	roomID string
}

func (p roomPersister) Save(v ordersync.View) error {
	return p.store.SaveView(p.roomID, v)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
