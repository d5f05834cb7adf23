package storage

import "fmt"

// writeEntry is one pending mutation staged in a transaction's working set,
// not yet visible to any other transaction until Commit succeeds.
type writeEntry struct {
	value   []byte
	deleted bool
}

// touched records the version of a domain as observed by this transaction,
// either because it read that domain or because it is about to write it.
// Commit re-checks every touched domain's current version against this
// value; any mismatch means some other transaction committed a newer
// version first, and this transaction must retry.
type touched struct {
	version uint64
}

// Transaction is a snapshot-isolated view over an Engine. All reads are as
// of readTS; all writes are staged locally and only become visible to
// other transactions atomically at Commit. A Transaction is not safe for
// concurrent use by multiple goroutines — the scheduler gives each task
// its own Transaction.
type Transaction struct {
	engine  *Engine
	readTS  uint64
	writes  map[RelationID]map[string]writeEntry
	touched map[RelationID]map[string]touched
	done    bool
}

func newTransaction(e *Engine, readTS uint64) *Transaction {
	return &Transaction{
		engine:  e,
		readTS:  readTS,
		writes:  make(map[RelationID]map[string]writeEntry),
		touched: make(map[RelationID]map[string]touched),
	}
}

func (tx *Transaction) recordTouch(rel RelationID, domain string, version uint64) {
	m, ok := tx.touched[rel]
	if !ok {
		m = make(map[string]touched)
		tx.touched[rel] = m
	}
	if _, already := m[domain]; !already {
		m[domain] = touched{version: version}
	}
}

// Seek reads the current value of domain within relation as of this
// transaction's snapshot, checking the local working set first so a
// transaction always sees its own uncommitted writes.
func (tx *Transaction) Seek(rel RelationID, domain string) ([]byte, bool, error) {
	if tx.done {
		return nil, false, newErr(KindDatabaseError, "seek on finished transaction")
	}
	if w, ok := tx.writes[rel][domain]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.value, true, nil
	}

	r := tx.engine.relation(rel)
	version := r.currentVersion(domain)
	tx.recordTouch(rel, domain, version)

	t, ok := r.get(domain, tx.readTS)
	if !ok {
		return nil, false, nil
	}
	return t.value, true, nil
}

func (tx *Transaction) stage(rel RelationID, domain string, value []byte, deleted bool) {
	m, ok := tx.writes[rel]
	if !ok {
		m = make(map[string]writeEntry)
		tx.writes[rel] = m
	}
	m[domain] = writeEntry{value: value, deleted: deleted}

	if _, already := tx.touched[rel][domain]; !already {
		version := tx.engine.relation(rel).currentVersion(domain)
		tx.recordTouch(rel, domain, version)
	}
}

// Insert adds domain -> value, failing with ErrDuplicateTuple if a live
// tuple already exists there (visible to this transaction's snapshot).
func (tx *Transaction) Insert(rel RelationID, domain string, value []byte) error {
	if _, found, err := tx.Seek(rel, domain); err != nil {
		return err
	} else if found {
		return fmt.Errorf("storage: insert %s/%s: %w", rel, domain, ErrDuplicateTuple)
	}
	tx.stage(rel, domain, value, false)
	return nil
}

// Update replaces the value at domain, failing with ErrTupleNotFound if no
// live tuple exists there.
func (tx *Transaction) Update(rel RelationID, domain string, value []byte) error {
	if _, found, err := tx.Seek(rel, domain); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("storage: update %s/%s: %w", rel, domain, ErrTupleNotFound)
	}
	tx.stage(rel, domain, value, false)
	return nil
}

// Upsert sets domain -> value regardless of prior existence.
func (tx *Transaction) Upsert(rel RelationID, domain string, value []byte) error {
	tx.stage(rel, domain, value, false)
	return nil
}

// Remove tombstones domain. Removing an absent domain is not an error —
// world-state callers routinely attempt speculative removal (e.g. clearing
// a property override that may never have been set).
func (tx *Transaction) Remove(rel RelationID, domain string) error {
	tx.stage(rel, domain, nil, true)
	return nil
}

// Scan returns every live domain/value pair in relation visible as of this
// transaction's snapshot, local writes overlaid on the engine's committed
// state. Used for enumeration (list all verbs on an object, list all
// sequences) where the working set is expected to be small.
func (tx *Transaction) Scan(rel RelationID) map[string][]byte {
	out := tx.engine.relation(rel).scanPrefix()
	for domain, w := range tx.writes[rel] {
		if w.deleted {
			delete(out, domain)
		} else {
			out[domain] = w.value
		}
	}
	return out
}

// Commit validates every domain this transaction touched against the
// engine's latest committed state; if nothing changed underneath it, the
// working set is applied atomically and a new commit timestamp is
// assigned. On conflict, returns ErrConflictRetry and leaves the engine
// state untouched — the caller (scheduler) is expected to retry the whole
// task from its initial activation.
func (tx *Transaction) Commit() (uint64, error) {
	if tx.done {
		return 0, newErr(KindDatabaseError, "commit on finished transaction")
	}
	tx.done = true
	return tx.engine.commit(tx)
}

// Rollback discards the transaction's working set without touching engine
// state. Safe to call even if Commit already ran.
func (tx *Transaction) Rollback() {
	tx.done = true
	tx.writes = nil
	tx.touched = nil
}
