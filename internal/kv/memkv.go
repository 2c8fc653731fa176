package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemBackend is an in-process, sorted, copy-on-write KV backend. It is the
// default backend for unit tests and the property-based tests (spec §4.8):
// snapshot isolation is implemented directly rather than via a versioned
// skip list, trading raw throughput for an implementation short enough to
// audit by hand.
type MemBackend struct {
	mu      sync.Mutex
	keys    []string // sorted
	values  map[string][]byte
	verOf   map[string]int64 // last committing version that touched this key
	version int64
}

func NewMemBackend() *MemBackend {
	return &MemBackend{
		values: make(map[string][]byte),
		verOf:  make(map[string]int64),
	}
}

func (b *MemBackend) Begin(ctx context.Context, iso Isolation) (Txn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &memTxn{
		backend: b,
		iso:     iso,
		snapVer: b.version,
		reads:   make(map[string]struct{}),
		writes:  make(map[string]*writeOp),
	}
	if iso != ReadCommitted {
		t.snapKeys = append([]string(nil), b.keys...)
		t.snapValues = make(map[string][]byte, len(b.values))
		for k, v := range b.values {
			t.snapValues[k] = v
		}
	}
	return t, nil
}

type writeOp struct {
	val     []byte
	deleted bool
}

type memTxn struct {
	backend *MemBackend
	iso     Isolation
	snapVer int64

	// snapshot taken at Begin, used by RepeatableRead/Serializable reads
	snapKeys   []string
	snapValues map[string][]byte

	reads map[string]struct{}

	writeOrder []string
	writeLog   []*writeOp // writeLog[i] is the operation recorded at writeOrder[i]
	writes     map[string]*writeOp
	savepoints map[string]savepointMark
	done       bool
}

type savepointMark struct {
	order int
}

func (t *memTxn) liveValues() (map[string][]byte, []string) {
	if t.iso == ReadCommitted {
		t.backend.mu.Lock()
		defer t.backend.mu.Unlock()
		vals := make(map[string][]byte, len(t.backend.values))
		for k, v := range t.backend.values {
			vals[k] = v
		}
		return vals, append([]string(nil), t.backend.keys...)
	}
	return t.snapValues, t.snapKeys
}

func (t *memTxn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, fmt.Errorf("kv: transaction already closed")
	}
	k := string(key)
	if w, ok := t.writes[k]; ok {
		t.reads[k] = struct{}{}
		if w.deleted {
			return nil, false, nil
		}
		return w.val, true, nil
	}
	vals, _ := t.liveValues()
	t.reads[k] = struct{}{}
	v, ok := vals[k]
	return v, ok, nil
}

func (t *memTxn) Scan(ctx context.Context, start, end []byte, limit int, reverse bool) (Iterator, error) {
	if t.done {
		return nil, fmt.Errorf("kv: transaction already closed")
	}
	vals, keys := t.liveValues()
	merged := make(map[string][]byte, len(vals))
	for k, v := range vals {
		merged[k] = v
	}
	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keySet[k] = struct{}{}
	}
	for k, w := range t.writes {
		if w.deleted {
			delete(merged, k)
			delete(keySet, k)
		} else {
			merged[k] = w.val
			keySet[k] = struct{}{}
		}
	}
	all := make([]string, 0, len(keySet))
	for k := range keySet {
		all = append(all, k)
	}
	sort.Strings(all)

	lo := sort.Search(len(all), func(i int) bool { return all[i] >= string(start) })
	hi := len(all)
	if end != nil {
		hi = sort.Search(len(all), func(i int) bool { return all[i] >= string(end) })
	}
	if lo > hi {
		lo = hi
	}
	window := append([]string(nil), all[lo:hi]...)
	if reverse {
		for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
			window[i], window[j] = window[j], window[i]
		}
	}
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}

	entries := make([]Entry, len(window))
	for i, k := range window {
		t.reads[k] = struct{}{}
		entries[i] = Entry{Key: []byte(k), Value: merged[k]}
	}
	return &sliceIterator{entries: entries, idx: -1}, nil
}

func (t *memTxn) Put(ctx context.Context, key, value []byte) error {
	if t.done {
		return fmt.Errorf("kv: transaction already closed")
	}
	k := string(key)
	op := &writeOp{val: append([]byte(nil), value...)}
	t.writeOrder = append(t.writeOrder, k)
	t.writeLog = append(t.writeLog, op)
	t.writes[k] = op
	return nil
}

func (t *memTxn) Delete(ctx context.Context, key []byte) error {
	if t.done {
		return fmt.Errorf("kv: transaction already closed")
	}
	k := string(key)
	op := &writeOp{deleted: true}
	t.writeOrder = append(t.writeOrder, k)
	t.writeLog = append(t.writeLog, op)
	t.writes[k] = op
	return nil
}

func (t *memTxn) Increment(ctx context.Context, key []byte, delta int64) (int64, error) {
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	k := string(key)
	var cur int64
	if v, ok := t.backend.values[k]; ok {
		cur = decodeCounter(v)
	}
	cur += delta
	if _, existed := t.backend.values[k]; !existed {
		t.backend.insertKeyLocked(k)
	}
	t.backend.values[k] = encodeCounter(cur)
	t.backend.version++
	t.backend.verOf[k] = t.backend.version
	return cur, nil
}

func (t *memTxn) Savepoint(ctx context.Context, id string) error {
	if t.savepoints == nil {
		t.savepoints = make(map[string]savepointMark)
	}
	t.savepoints[id] = savepointMark{order: len(t.writeOrder)}
	return nil
}

func (t *memTxn) RollbackTo(ctx context.Context, id string) error {
	mark, ok := t.savepoints[id]
	if !ok {
		return fmt.Errorf("kv: unknown savepoint %q", id)
	}
	keep := t.writeOrder[:mark.order]
	undone := t.writeOrder[mark.order:]
	t.writeOrder = keep

	// Rebuild the write set from the kept prefix so a key written both
	// before and after the savepoint resolves to its pre-savepoint value.
	t.writeLog = t.writeLog[:mark.order]
	newWrites := make(map[string]*writeOp, len(keep))
	for i, k := range keep {
		newWrites[k] = t.writeLog[i]
	}
	for _, k := range undone {
		if _, stillWritten := newWrites[k]; !stillWritten {
			delete(t.writes, k)
		}
	}
	t.writes = newWrites
	for name, m := range t.savepoints {
		if m.order > mark.order {
			delete(t.savepoints, name)
		}
	}
	return nil
}

func (t *memTxn) Release(ctx context.Context, id string) error {
	delete(t.savepoints, id)
	return nil
}

func (t *memTxn) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("kv: transaction already closed")
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	t.done = true

	if t.iso != ReadCommitted {
		for k := range t.reads {
			if v, ok := t.backend.verOf[k]; ok && v > t.snapVer {
				return &ConflictError{Reason: fmt.Sprintf("key %q modified after snapshot", k)}
			}
		}
	}

	t.backend.version++
	newVer := t.backend.version
	for _, k := range t.writeOrder {
		w := t.writes[k]
		if w == nil {
			continue
		}
		if w.deleted {
			if _, existed := t.backend.values[k]; existed {
				delete(t.backend.values, k)
				t.backend.removeKeyLocked(k)
			}
		} else {
			if _, existed := t.backend.values[k]; !existed {
				t.backend.insertKeyLocked(k)
			}
			t.backend.values[k] = w.val
		}
		t.backend.verOf[k] = newVer
	}
	return nil
}

func (t *memTxn) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

func (b *MemBackend) insertKeyLocked(k string) {
	i := sort.SearchStrings(b.keys, k)
	if i < len(b.keys) && b.keys[i] == k {
		return
	}
	b.keys = append(b.keys, "")
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = k
}

func (b *MemBackend) removeKeyLocked(k string) {
	i := sort.SearchStrings(b.keys, k)
	if i < len(b.keys) && b.keys[i] == k {
		b.keys = append(b.keys[:i], b.keys[i+1:]...)
	}
}

type sliceIterator struct {
	entries []Entry
	idx     int
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}
func (it *sliceIterator) Entry() Entry { return it.entries[it.idx] }
func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
