package world

import (
	"barn/storage"
	"barn/types"
)

// World is the durable, transactional home of the object graph. Store
// holds the materialized, committed view that verb code reads directly;
// engine is the MVCC/WAL layer beneath it that gives every Transaction
// real conflict detection and crash recovery. The textdump Reader/Writer
// in reader.go/writer.go remain the import/export path for LambdaMOO-
// format database files; engine is a separate, binary durability tier
// consulted only at Begin (materializing Store from the last checkpoint)
// and at Commit.
type World struct {
	store  *Store
	engine *storage.Engine
}

// Open creates or reopens a World rooted at dir, replaying engine state
// (which itself already replayed its own WAL) into an in-memory Store.
func Open(dir string) (*World, error) {
	engine, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}

	w := &World{store: NewStore(), engine: engine}
	if err := w.materialize(); err != nil {
		engine.Close()
		return nil, err
	}
	return w, nil
}

// OpenInMemory wraps an already-populated Store (e.g. one just loaded from
// a textdump file by Reader) with a fresh, empty storage.Engine rooted at
// dir — used by the `-import` startup path, which seeds the durable
// engine from the textdump exactly once rather than replaying an engine
// history that doesn't exist yet.
func OpenInMemory(dir string, store *Store) (*World, error) {
	engine, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}
	w := &World{store: store, engine: engine}
	if err := w.seedEngine(); err != nil {
		engine.Close()
		return nil, err
	}
	return w, nil
}

// materialize rebuilds the in-memory Store from every object the engine
// has durably recorded. Called once at startup.
func (w *World) materialize() error {
	snap := w.engine.CreateSnapshot()
	for domain, raw := range snap.Scan(storage.RelObjects) {
		obj, err := decodeObject(raw)
		if err != nil {
			return err
		}
		_ = domain
		if err := w.store.Add(obj); err != nil {
			return err
		}
	}
	w.store.ResetMaxObject()
	return nil
}

// seedEngine durably records every object currently in Store, used once
// right after a textdump import so the engine's state matches Store
// before any transaction runs against it.
func (w *World) seedEngine() error {
	tx := w.engine.NewTransaction()
	for _, obj := range w.store.All() {
		encoded, err := encodeObject(obj)
		if err != nil {
			return err
		}
		if err := tx.Upsert(storage.RelObjects, objDomain(obj.ID), encoded); err != nil {
			return err
		}
	}
	_, err := tx.Commit()
	return err
}

// Store returns the shared, committed object view. Read-only callers that
// don't need transactional isolation (console tools, the verb-cache-stats
// builtins, introspection commands run outside any task) may use it
// directly; task execution must go through Begin.
func (w *World) Store() *Store {
	return w.store
}

// Begin opens a new snapshot-isolated Transaction for one task's
// execution. The scheduler calls this once per task attempt — a
// ConflictRetry discards the Transaction entirely and calls Begin again
// before replaying the task from its initial activation.
func (w *World) Begin() *Transaction {
	return newTransaction(w)
}

// NextObjectID durably allocates the next object id via the engine's
// sequence counter, so restarts never reissue an id even though Store's
// own highWaterID is reconstructed from whatever was materialized.
func (w *World) NextObjectID() (types.ObjID, error) {
	n, err := w.engine.NextSequence("object_ids")
	if err != nil {
		return 0, err
	}
	return types.ObjID(n), nil
}

// Checkpoint asks the storage engine to compact its WAL. The textdump
// CheckpointManager in checkpoint.go remains the operator-facing "dump the
// whole database to a .db file" mechanism; this is the lower-level
// engine housekeeping that keeps restart replay fast regardless of
// whether/when a textdump checkpoint runs.
func (w *World) Checkpoint() error {
	return w.engine.Checkpoint()
}

// Close releases the engine's file handles.
func (w *World) Close() error {
	return w.engine.Close()
}
