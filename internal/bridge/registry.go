package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the transport handle of one connected client. Send must be safe to
// call from multiple goroutines; implementations serialize writes.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// ClientRecord describes one registered client.
type ClientRecord struct {
	ID          string
	Conn        Conn
	Mode        Mode
	ConnectedAt time.Time
}

// ClientSummary is the status view of a client.
type ClientSummary struct {
	ClientID     string  `json:"client_id"`
	Mode         Mode    `json:"mode"`
	ConnectedAt  float64 `json:"connected_at"`
	ConnectedFor float64 `json:"connected_for"`
}

// Registry is the set of live clients keyed by id. It is the only shared
// mutable structure of the bridge.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientRecord
	seq     atomic.Uint64
	now     func() time.Time
}

// NewRegistry creates an empty registry. A nil clock defaults to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		clients: make(map[string]*ClientRecord),
		now:     now,
	}
}

// Register stores a new client and returns its id. Invalid modes become
// ModeBoth.
func (r *Registry) Register(conn Conn, mode Mode) string {
	if !mode.Valid() {
		mode = ModeBoth
	}
	now := r.now()
	// The counter alone keeps ids unique; the timestamp keeps them distinct
	// across process restarts.
	id := fmt.Sprintf("client_%d_%d", r.seq.Add(1), now.Unix())

	r.mu.Lock()
	r.clients[id] = &ClientRecord{
		ID:          id,
		Conn:        conn,
		Mode:        mode,
		ConnectedAt: now,
	}
	r.mu.Unlock()
	return id
}

// Unregister removes id. It reports whether a record was removed; removing an
// unknown id is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[id]
	if !ok {
		return ClientRecord{}, false
	}
	return *rec, true
}

// SetMode changes the mode of id. Unknown ids and invalid modes are ignored;
// the return value reports whether the record changed.
func (r *Registry) SetMode(id string, mode Mode) bool {
	if !mode.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok {
		return false
	}
	rec.Mode = mode
	return true
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns a point-in-time copy of all clients ordered by connect
// time, then id.
func (r *Registry) Snapshot() []ClientSummary {
	now := r.now()
	records := r.records(FilterAll)
	out := make([]ClientSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, ClientSummary{
			ClientID:     rec.ID,
			Mode:         rec.Mode,
			ConnectedAt:  UnixSeconds(rec.ConnectedAt),
			ConnectedFor: now.Sub(rec.ConnectedAt).Seconds(),
		})
	}
	return out
}

// records copies the records accepted by filter. The lock is released before
// the caller touches any connection.
func (r *Registry) records(filter Mode) []ClientRecord {
	r.mu.RLock()
	out := make([]ClientRecord, 0, len(r.clients))
	for _, rec := range r.clients {
		if rec.Mode.Accepts(filter) {
			out = append(out, *rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
