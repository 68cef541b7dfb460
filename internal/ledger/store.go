package ledger

import (
	"context"
	"encoding/json"
	"log"
)

// schemaVersion tags every persisted value so malformed or legacy-shaped data
// is detected instead of silently misread.
const schemaVersion = 1

type envelope struct {
	Version int             `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// Store loads and saves single JSON values under fixed keys. Reads degrade to
// the zero value on missing, corrupt, or unreachable storage; writes are
// logged and swallowed so callers stay responsive even when persistence
// fails. Writers in separate processes race last-write-wins on the same key;
// in-process callers are serialized by the components built on top.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Load reads the value at key into dst. dst is left untouched when the key is
// absent or the payload cannot be decoded.
func (s *Store) Load(ctx context.Context, key string, dst any) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		log.Printf("ledger: load %s: %v", key, err)
		return
	}
	if !ok || len(raw) == 0 {
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version == 0 {
		// Bare payload written before the envelope existed; migrated on the
		// next save.
		if err := json.Unmarshal(raw, dst); err != nil {
			log.Printf("ledger: corrupt value at %s, starting empty: %v", key, err)
		}
		return
	}
	if env.Version != schemaVersion {
		log.Printf("ledger: unknown schema version %d at %s, starting empty", env.Version, key)
		return
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		log.Printf("ledger: corrupt value at %s, starting empty: %v", key, err)
	}
}

// Save writes v under key. Failures are logged, never surfaced: the caller's
// in-memory state remains the answer it already returned.
func (s *Store) Save(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ledger: marshal %s: %v", key, err)
		return
	}
	wrapped, err := json.Marshal(envelope{Version: schemaVersion, Data: data})
	if err != nil {
		log.Printf("ledger: wrap %s: %v", key, err)
		return
	}
	if err := s.backend.Set(ctx, key, wrapped); err != nil {
		log.Printf("ledger: save %s: %v", key, err)
	}
}
