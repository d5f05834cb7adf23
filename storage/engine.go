package storage

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
)

// Well-known relations the world-state layer stores through. Additional
// ad-hoc relations (e.g. per-feature extension tables) may be opened with
// any RelationID string; these are just the ones the built-in world model
// depends on.
const (
	RelObjects     RelationID = "objects"
	RelParent      RelationID = "parent"
	RelLocation    RelationID = "location"
	RelContents    RelationID = "contents"
	RelVerbDefs    RelationID = "verbdefs"
	RelVerbProgram RelationID = "verb_program"
	RelPropDefs    RelationID = "propdefs"
	RelPropValue   RelationID = "prop_value"
	RelPropPerms   RelationID = "prop_perms"
	RelSequences   RelationID = "sequences"
	RelTasks       RelationID = "tasks"
)

const defaultCacheSize = 8192

// Engine owns the durable goleveldb handle, the write-ahead log, and the
// set of relations layered on top of them. It is the single point of
// serialization for commits: only one transaction validates and applies at
// a time, though any number of transactions may read concurrently against
// their own snapshots under snapshot isolation with conflict detection on
// commit.
type Engine struct {
	mu        sync.Mutex // serializes Commit
	relMu     sync.RWMutex
	relations map[RelationID]*relation
	db        *leveldb.DB
	wal       *wal
	clock     atomic.Uint64 // monotonic commit-ts counter
	dir       string
}

// Open creates or reopens an Engine rooted at dir, replaying the WAL to
// rebuild any relation state goleveldb itself didn't retain (goleveldb is
// already crash-safe for keys it acknowledged, so replay here is mostly
// belt-and-suspenders for entries written between a WAL append and the
// corresponding goleveldb batch — see commit()).
func Open(dir string) (*Engine, error) {
	db, err := leveldb.OpenFile(filepath.Join(dir, "relations"), nil)
	if err != nil {
		return nil, newErr(KindDatabaseError, "open relation store: %v", err)
	}
	w, err := openWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		relations: make(map[RelationID]*relation),
		db:        db,
		wal:       w,
		dir:       dir,
	}

	var maxTS uint64
	err = replayWAL(filepath.Join(dir, "wal.log"), func(entry walEntry) {
		if entry.action == walSequenceSync {
			return
		}
		r := e.relation(entry.relation)
		batch := new(leveldb.Batch)
		r.apply(batch, entry.domain, entry.value, entry.action == walDelete, entry.timestamp)
		_ = e.db.Write(batch, nil)
		if entry.timestamp > maxTS {
			maxTS = entry.timestamp
		}
	})
	if err != nil {
		db.Close()
		w.close()
		return nil, err
	}
	// Every relation key ends in its 8-byte commit timestamp; tuples written
	// before a WAL truncation (see Checkpoint) still advance the clock.
	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		if k := iter.Key(); len(k) >= 8 {
			if ts := beUint64(k[len(k)-8:]); ts > maxTS {
				maxTS = ts
			}
		}
	}
	iter.Release()
	e.clock.Store(maxTS)

	return e, nil
}

func (e *Engine) relation(id RelationID) *relation {
	e.relMu.RLock()
	r, ok := e.relations[id]
	e.relMu.RUnlock()
	if ok {
		return r
	}

	e.relMu.Lock()
	defer e.relMu.Unlock()
	if r, ok := e.relations[id]; ok {
		return r
	}
	r = newRelation(id, e.db, defaultCacheSize)
	e.relations[id] = r
	return r
}

// NewTransaction opens a transaction whose reads observe every commit that
// completed before this call returns.
func (e *Engine) NewTransaction() *Transaction {
	return newTransaction(e, e.clock.Load())
}

// Snapshot is a read-only view fixed at the commit timestamp it was
// created at, used for checkpoint export and for `eval`/introspection
// builtins that must not take a write lock.
type Snapshot struct {
	engine *Engine
	readTS uint64
}

// CreateSnapshot pins the current commit timestamp. The returned Snapshot
// remains valid even as later transactions commit; its Seek never observes
// their writes (Scan does, see below).
func (e *Engine) CreateSnapshot() *Snapshot {
	return &Snapshot{engine: e, readTS: e.clock.Load()}
}

// Seek reads rel/domain as of the snapshot's fixed timestamp.
func (s *Snapshot) Seek(rel RelationID, domain string) ([]byte, bool) {
	t, ok := s.engine.relation(rel).get(domain, s.readTS)
	if !ok {
		return nil, false
	}
	return t.value, true
}

// Scan returns every live domain/value pair in rel. It is not filtered by
// the snapshot's timestamp: scanPrefix returns the newest stored version of
// each domain, so values committed after the snapshot was taken are
// included.
func (s *Snapshot) Scan(rel RelationID) map[string][]byte {
	return s.engine.relation(rel).scanPrefix()
}

// commit is invoked by Transaction.Commit. It holds the engine's single
// commit lock for the duration of validation+apply, giving the engine
// serializable commit ordering even though reads are fully concurrent.
func (e *Engine) commit(tx *Transaction) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for relID, domains := range tx.touched {
		r := e.relation(relID)
		for domain, t := range domains {
			if r.currentVersion(domain) != t.version {
				return 0, ErrConflictRetry
			}
		}
	}

	commitTS := e.clock.Add(1)

	var entries []walEntry
	batch := new(leveldb.Batch)
	for relID, writes := range tx.writes {
		r := e.relation(relID)
		for domain, w := range writes {
			r.apply(batch, domain, w.value, w.deleted, commitTS)
			action := walUpdate
			if w.deleted {
				action = walDelete
			} else if _, existed := tx.touched[relID][domain]; !existed || tx.touched[relID][domain].version == 0 {
				action = walInsert
			}
			entries = append(entries, walEntry{
				timestamp: commitTS,
				action:    action,
				relation:  relID,
				domain:    domain,
				value:     w.value,
			})
		}
	}

	if len(entries) > 0 {
		if err := e.wal.appendBatch(entries); err != nil {
			return 0, err
		}
		if err := e.db.Write(batch, nil); err != nil {
			return 0, newErr(KindDatabaseError, "apply commit batch: %v", err)
		}
	}

	return commitTS, nil
}

// NextSequence atomically allocates the next value of a named sequence
// (the object-id allocator and the task-id allocator both use this), and
// durably records the new value so restarts never reissue an id.
func (e *Engine) NextSequence(name string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.relation(RelSequences)
	var next uint64
	if raw, ok := r.get(name, e.clock.Load()); ok && len(raw.value) == 8 {
		next = beUint64(raw.value) + 1
	}
	buf := beBytes(next)

	batch := new(leveldb.Batch)
	commitTS := e.clock.Add(1)
	r.apply(batch, name, buf, false, commitTS)
	if err := e.wal.append(walEntry{timestamp: commitTS, action: walSequenceSync, relation: RelSequences, domain: name, value: buf}); err != nil {
		return 0, err
	}
	if err := e.db.Write(batch, nil); err != nil {
		return 0, newErr(KindDatabaseError, "apply sequence: %v", err)
	}
	return next, nil
}

// Checkpoint reopens the WAL and truncates it to a fresh, empty log,
// shrinking restart-replay time; it writes no relation data itself, since
// goleveldb already holds every committed tuple. Operates beneath the
// object-level checkpoint, at the tuple-store level.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wal.close(); err != nil {
		return err
	}
	w, err := openWAL(filepath.Join(e.dir, "wal.log"))
	if err != nil {
		return err
	}
	// Truncate: goleveldb already holds every committed tuple durably, so
	// a fresh empty WAL is correct — replay only needs to cover entries
	// written after this point.
	if err := w.f.Truncate(0); err != nil {
		return newErr(KindDatabaseError, "truncate wal: %v", err)
	}
	e.wal = w
	return nil
}

// Close flushes and releases all engine resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.wal.close(); err != nil {
		return err
	}
	return e.db.Close()
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
