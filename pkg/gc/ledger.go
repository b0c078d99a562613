package gc

import (
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
)

// Orphan is an object known to have no metadata record, usually left behind
// by an upload whose record and cleanup both failed.
type Orphan struct {
	StorageType backend.StorageType
	Path        string
	Hint        backend.DeleteHint
	LastError   string
	RecordedAt  time.Time
	Attempts    int
}

// Ledger remembers orphans until a collection run manages to delete them.
//
// It is the orchestrator's OrphanRecorder. Entries live in process memory;
// anything lost on restart is still found by the listing sweep on
// backends that support it.
//
// Thread Safety: Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*Orphan
	now     func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*Orphan), now: time.Now}
}

func ledgerKey(t backend.StorageType, path string) string {
	return string(t) + "\x00" + path
}

// RecordOrphan adds (or refreshes) an entry.
func (l *Ledger) RecordOrphan(t backend.StorageType, path string, hint *backend.DeleteHint, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(t, path)
	o, ok := l.entries[key]
	if !ok {
		o = &Orphan{StorageType: t, Path: path, RecordedAt: l.now()}
		l.entries[key] = o
	}
	if hint != nil {
		o.Hint = *hint
	}
	if cause != nil {
		o.LastError = cause.Error()
	}
}

// Entries returns a snapshot of the ledger ordered by recording time.
func (l *Ledger) Entries() []Orphan {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Orphan, 0, len(l.entries))
	for _, o := range l.entries {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Len returns the number of outstanding orphans.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) resolve(t backend.StorageType, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ledgerKey(t, path))
}

func (l *Ledger) failed(t backend.StorageType, path string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.entries[ledgerKey(t, path)]; ok {
		o.Attempts++
		o.LastError = err.Error()
	}
}
