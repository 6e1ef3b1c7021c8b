package streammgr

import (
	"sync"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
)

// registry is the StreamRegistry of spec.md §3: a mapping from direction
// to the set of live StreamRecords. A record lives in exactly one
// registry while live and in none after termination. Go's goroutines are
// true OS threads (unlike the source program's single-threaded
// cooperative event loop) so, unlike spec.md §5's "serialized by never
// yielding between decide-to-insert and inserted", this registry uses a
// real mutex to get the same effective guarantee.
type registry struct {
	mu      sync.Mutex
	streams map[model.Direction]map[uint64]*model.StreamRecord
}

func newRegistry() *registry {
	return &registry{
		streams: map[model.Direction]map[uint64]*model.StreamRecord{
			model.Download: {},
			model.Upload:   {},
		},
	}
}

func (r *registry) insert(rec *model.StreamRecord) {
	r.mu.Lock()
	r.streams[rec.Direction][rec.ID] = rec
	r.mu.Unlock()
}

func (r *registry) remove(dir model.Direction, id uint64) (*model.StreamRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[dir][id]
	if ok {
		delete(r.streams[dir], id)
	}
	return rec, ok
}

func (r *registry) get(dir model.Direction, id uint64) (*model.StreamRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[dir][id]
	return rec, ok
}

// ids returns a snapshot of active ids for dir.
func (r *registry) ids(dir model.Direction) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.streams[dir]))
	for id := range r.streams[dir] {
		out = append(out, id)
	}
	return out
}

// all returns a snapshot of every live record across both directions.
func (r *registry) all() []*model.StreamRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.StreamRecord, 0, len(r.streams[model.Download])+len(r.streams[model.Upload]))
	for _, m := range r.streams {
		for _, rec := range m {
			out = append(out, rec)
		}
	}
	return out
}

// counts returns the live count per direction plus the total.
type Counts struct {
	Download int
	Upload   int
	Total    int
}

func (r *registry) counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Counts{
		Download: len(r.streams[model.Download]),
		Upload:   len(r.streams[model.Upload]),
	}
	c.Total = c.Download + c.Upload
	return c
}

// clear drops every record without waiting for its worker to exit — the
// emergency path used only by the phase barrier (resetRegistry).
func (r *registry) clear() []*model.StreamRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []*model.StreamRecord
	for dir, m := range r.streams {
		for _, rec := range m {
			dropped = append(dropped, rec)
		}
		r.streams[dir] = map[uint64]*model.StreamRecord{}
	}
	return dropped
}
