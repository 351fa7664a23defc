package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mkells/chatsync/internal/model/chat"
	"github.com/mkells/chatsync/internal/store"
)

// Cache holds the ordered in-memory history of exchanged records, mirrored
// to the store after every mutation. The persisted sequence is always a
// prefix-consistent reflection of the in-memory one: each write replaces
// the stored history wholesale, so a subsequent LoadHistory can never
// observe a partial state.
type Cache struct {
	mu      sync.Mutex
	store   store.Store
	log     zerolog.Logger
	records []chat.MessageRecord
}

// NewCache creates an empty cache backed by the given store.
func NewCache(st store.Store, log zerolog.Logger) *Cache {
	return &Cache{store: st, log: log}
}

// LoadHistory reads the persisted history into memory and returns it.
// Missing or corrupt data yields an empty history; corruption is discarded
// rather than propagated.
func (c *Cache) LoadHistory() []chat.MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = nil
	value, ok, err := c.store.Get(store.KeyMessageHistory)
	if err != nil {
		c.log.Warn().Err(err).Msg("message history unreadable, starting empty")
		return nil
	}
	if !ok {
		return nil
	}

	var records []chat.MessageRecord
	if err := json.Unmarshal(value, &records); err != nil {
		c.log.Warn().Err(err).Msg("discarding corrupt message history")
		return nil
	}

	c.records = records
	return c.copyLocked()
}

// Append adds a record to the history and persists the updated sequence.
func (c *Cache) Append(rec chat.MessageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, rec)
	c.persistLocked()
}

// Resolve fills in the answer and duration of the trailing unanswered
// record and persists atomically with the mutation. It reports whether a
// pending record existed; the returned record is the updated one.
func (c *Cache) Resolve(answer string, duration *float64) (chat.MessageRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.records) == 0 {
		return chat.MessageRecord{}, false
	}
	last := &c.records[len(c.records)-1]
	if last.Resolved() {
		return chat.MessageRecord{}, false
	}

	last.Answer = answer
	last.Duration = duration
	c.persistLocked()
	return *last, true
}

// ReplaceAll adopts the given records as the entire history. Used only
// during reconciliation when the local cache is empty and the server
// supplies its canonical history.
func (c *Cache) ReplaceAll(records []chat.MessageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make([]chat.MessageRecord, len(records))
	copy(c.records, records)
	c.persistLocked()
}

// Clear wipes the in-memory and persisted history.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = nil
	if err := c.store.Delete(store.KeyMessageHistory); err != nil {
		c.log.Warn().Err(err).Msg("persisted history not cleared")
	}
}

// Records returns a copy of the ordered history.
func (c *Cache) Records() []chat.MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) copyLocked() []chat.MessageRecord {
	copied := make([]chat.MessageRecord, len(c.records))
	copy(copied, c.records)
	return copied
}

func (c *Cache) persistLocked() {
	data, err := json.Marshal(c.records)
	if err != nil {
		c.log.Warn().Err(err).Msg("message history not serializable")
		return
	}
	if err := c.store.Set(store.KeyMessageHistory, data); err != nil {
		c.log.Warn().Err(err).Msg("message history not persisted, continuing in memory")
	}
}
