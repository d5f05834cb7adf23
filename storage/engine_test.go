package storage

import (
	"errors"
	"testing"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestTransactionInsertAndCommit(t *testing.T) {
	e := openTestEngine(t)

	tx := e.NewTransaction()
	if err := tx.Insert(RelObjects, "obj:0", []byte("alice")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	tx2 := e.NewTransaction()
	val, found, err := tx2.Seek(RelObjects, "obj:0")
	if err != nil {
		t.Fatalf("Seek() failed: %v", err)
	}
	if !found {
		t.Fatal("Seek() did not find committed tuple")
	}
	if string(val) != "alice" {
		t.Errorf("Seek() = %q, want %q", val, "alice")
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	e := openTestEngine(t)

	tx := e.NewTransaction()
	if err := tx.Insert(RelObjects, "obj:0", []byte("alice")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	tx2 := e.NewTransaction()
	err := tx2.Insert(RelObjects, "obj:0", []byte("bob"))
	if !errors.Is(err, ErrDuplicateTuple) {
		t.Errorf("Insert() over existing domain = %v, want ErrDuplicateTuple", err)
	}
}

func TestUpdateMissingRejected(t *testing.T) {
	e := openTestEngine(t)

	tx := e.NewTransaction()
	err := tx.Update(RelObjects, "obj:99", []byte("ghost"))
	if !errors.Is(err, ErrTupleNotFound) {
		t.Errorf("Update() on missing domain = %v, want ErrTupleNotFound", err)
	}
}

func TestReadYourOwnWrites(t *testing.T) {
	e := openTestEngine(t)

	tx := e.NewTransaction()
	if err := tx.Upsert(RelObjects, "obj:0", []byte("alice")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	val, found, err := tx.Seek(RelObjects, "obj:0")
	if err != nil {
		t.Fatalf("Seek() failed: %v", err)
	}
	if !found || string(val) != "alice" {
		t.Errorf("Seek() of own write = (%q, %v), want (alice, true)", val, found)
	}
}

func TestConcurrentWriteConflictRetries(t *testing.T) {
	e := openTestEngine(t)

	seed := e.NewTransaction()
	if err := seed.Insert(RelObjects, "obj:0", []byte("alice")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := seed.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	txA := e.NewTransaction()
	txB := e.NewTransaction()

	if _, _, err := txA.Seek(RelObjects, "obj:0"); err != nil {
		t.Fatalf("Seek() failed: %v", err)
	}
	if _, _, err := txB.Seek(RelObjects, "obj:0"); err != nil {
		t.Fatalf("Seek() failed: %v", err)
	}

	if err := txA.Update(RelObjects, "obj:0", []byte("alice-A")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if err := txB.Update(RelObjects, "obj:0", []byte("alice-B")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if _, err := txA.Commit(); err != nil {
		t.Fatalf("first committer Commit() failed: %v", err)
	}

	if _, err := txB.Commit(); !errors.Is(err, ErrConflictRetry) {
		t.Errorf("second committer Commit() = %v, want ErrConflictRetry", err)
	}
}

func TestSequenceAllocationIsMonotonicAndDurable(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	first, err := e.NextSequence("object_ids")
	if err != nil {
		t.Fatalf("NextSequence() failed: %v", err)
	}
	second, err := e.NextSequence("object_ids")
	if err != nil {
		t.Fatalf("NextSequence() failed: %v", err)
	}
	if second != first+1 {
		t.Errorf("NextSequence() sequence = %d, %d, want consecutive", first, second)
	}
	e.Close()

	e2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open() failed: %v", err)
	}
	defer e2.Close()
	third, err := e2.NextSequence("object_ids")
	if err != nil {
		t.Fatalf("NextSequence() after reopen failed: %v", err)
	}
	if third != second+1 {
		t.Errorf("NextSequence() after restart = %d, want %d", third, second+1)
	}
}

func TestSnapshotIsolatedFromLaterCommits(t *testing.T) {
	e := openTestEngine(t)

	tx := e.NewTransaction()
	if err := tx.Insert(RelObjects, "obj:0", []byte("v1")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	snap := e.CreateSnapshot()

	tx2 := e.NewTransaction()
	if err := tx2.Update(RelObjects, "obj:0", []byte("v2")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if _, err := tx2.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	val, ok := snap.Seek(RelObjects, "obj:0")
	if !ok || string(val) != "v1" {
		t.Errorf("Snapshot.Seek() = (%q, %v), want (v1, true) — snapshot must not see later commits", val, ok)
	}
}

func TestRemoveThenScanExcludesTombstone(t *testing.T) {
	e := openTestEngine(t)

	tx := e.NewTransaction()
	if err := tx.Insert(RelPropValue, "obj:0.name", []byte("alice")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := tx.Insert(RelPropValue, "obj:0.age", []byte("30")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	tx2 := e.NewTransaction()
	if err := tx2.Remove(RelPropValue, "obj:0.age"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, err := tx2.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	tx3 := e.NewTransaction()
	scan := tx3.Scan(RelPropValue)
	if _, found := scan["obj:0.age"]; found {
		t.Error("Scan() still includes removed domain")
	}
	if _, found := scan["obj:0.name"]; !found {
		t.Error("Scan() missing live domain")
	}
}
