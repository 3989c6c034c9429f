package marketdev

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/gosuda/market-chat/chatwire"
)

// messageLog persists chat frames per room in PebbleDB. Keys are the room
// id, a zero byte, then an 8-byte big-endian sequence number, so a prefix
// iteration yields one room's history in order. A nil log is a no-op.
type messageLog struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
}

func openMessageLog(dir string) (*messageLog, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	l := &messageLog{db: db}
	// Resume the sequence past the highest one written by any room; keys
	// sort by room first, so the last key alone is not enough.
	it, err := db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		if key := it.Key(); len(key) >= 8 {
			if seq := binary.BigEndian.Uint64(key[len(key)-8:]); seq >= l.next {
				l.next = seq + 1
			}
		}
	}
	return l, nil
}

func (l *messageLog) key(roomID string, seq uint64) []byte {
	key := make([]byte, 0, len(roomID)+9)
	key = append(key, roomID...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

func (l *messageLog) Append(roomID string, f chatwire.Frame) error {
	if l == nil || l.db == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.next
	l.next++
	val, _ := json.Marshal(f)
	return l.db.Set(l.key(roomID, seq), val, pebble.Sync)
}

func (l *messageLog) LoadRoom(roomID string) ([]chatwire.Frame, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	prefix := append([]byte(roomID), 0)
	it, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append([]byte(roomID), 1),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	out := make([]chatwire.Frame, 0, 64)
	for it.First(); it.Valid(); it.Next() {
		var f chatwire.Frame
		if err := json.Unmarshal(it.Value(), &f); err == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

func (l *messageLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
