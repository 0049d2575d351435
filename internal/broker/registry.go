package broker

import (
	"sync"
	"time"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// Record is a request record. Values handed out by the Registry are copies
// and never alias registry state.
type Record struct {
	ID     string
	User   string
	Host   string
	Port   int
	Status Status

	// Progress holds one worker label per command slot while collecting
	Progress []string

	// Result is the final payload once the request completed or timed out
	Result *types.Delivery

	Created time.Time
	Updated time.Time
}

func (r *Record) clone() Record {
	c := *r
	if r.Progress != nil {
		c.Progress = append([]string(nil), r.Progress...)
	}
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return c
}

// Data is the payload attached to a transition. A nil Data keeps the
// record's current payload.
type Data struct {
	Progress []string
	Result   *types.Delivery
}

// Registry is the authoritative store of request records. A single mutex
// serializes every operation.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Create inserts a new record in ReceivedRequest.
func (r *Registry) Create(id, user, host string, port int) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return Record{}, herrors.Newf(herrors.ErrCategoryRequest, herrors.CodeDuplicateRequest,
			"duplicate request id: %s", id)
	}
	now := r.now()
	rec := &Record{
		ID:      id,
		User:    user,
		Host:    host,
		Port:    port,
		Status:  StatusReceivedRequest,
		Created: now,
		Updated: now,
	}
	r.records[id] = rec
	metrics.RegistryRecords.Set(float64(len(r.records)))
	return rec.clone(), nil
}

// Advance moves a record to status under the transition table and
// replaces its payload with data when data is non-nil. The record is
// replaced by a modified copy so earlier snapshots are unaffected.
func (r *Registry) Advance(id string, status Status, data *Data) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, herrors.NewUnknownRequest(id)
	}
	if rec.Status.Terminal() {
		return Record{}, herrors.NewProtocolError(herrors.CodeTerminalRequest,
			"request %s already finished: %s", id, rec.Status)
	}
	if !rec.Status.CanAdvance(status) {
		return Record{}, herrors.NewProtocolError(herrors.CodeIllegalTransition,
			"request %s: illegal transition %s -> %s", id, rec.Status, status)
	}

	next := rec.clone()
	next.Status = status
	next.Updated = r.now()
	if data != nil {
		next.Progress = append([]string(nil), data.Progress...)
		if data.Result != nil {
			res := *data.Result
			next.Result = &res
		}
	}
	r.records[id] = &next
	return next.clone(), nil
}

// Snapshot returns a copy of one record.
func (r *Registry) Snapshot(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, herrors.NewUnknownRequest(id)
	}
	return rec.clone(), nil
}

// Snapshots returns copies of every record in no particular order.
func (r *Registry) Snapshots() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	return out
}

// Delete removes a record. It reports whether the record existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	metrics.RegistryRecords.Set(float64(len(r.records)))
	return true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
