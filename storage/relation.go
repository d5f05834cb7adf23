package storage

import (
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// RelationID names one of the fixed relations the world-state layer stores
// through (objects, parent, location, contents, verbdefs, verb_program,
// propdefs, prop_value, prop_perms, sequences, tasks).
type RelationID string

// tuple is one versioned (domain -> codomain) value as held in memory and
// on disk. Every write creates a new version rather than overwriting the
// previous one, which is what lets a Snapshot taken before a later commit
// keep reading its own point-in-time value.
type tuple struct {
	value    []byte
	commitTS uint64
	deleted  bool
}

// relation is one named versioned tuple set. On disk, every version of a
// domain is a distinct goleveldb key (relation:domain:commitTS, commitTS
// big-endian so lexicographic key order is also version order); the LRU
// cache holds only the newest version of recently touched domains, which
// covers the overwhelmingly common case of transactions reading current
// state. A request for an older version (Seek/Snapshot against a readTS
// that predates the newest write) falls back to a bounded range scan.
type relation struct {
	id    RelationID
	mu    sync.RWMutex
	cache *lru.Cache[string, tuple]
	db    *leveldb.DB
}

func newRelation(id RelationID, db *leveldb.DB, cacheSize int) *relation {
	c, _ := lru.New[string, tuple](cacheSize)
	return &relation{id: id, cache: c, db: db}
}

func (r *relation) keyPrefix(domain string) []byte {
	key := make([]byte, 0, len(r.id)+1+len(domain)+1)
	key = append(key, r.id...)
	key = append(key, ':')
	key = append(key, domain...)
	key = append(key, ':')
	return key
}

func (r *relation) dbKey(domain string, ts uint64) []byte {
	key := r.keyPrefix(domain)
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, ts)
	return append(key, tsBuf...)
}

// findVersion scans the on-disk versions of domain for the newest one with
// commitTS <= asOf. Versions are iterated oldest-first and the scan stops
// as soon as it passes asOf, so cost is proportional to how many versions
// of this one domain are older than the requested snapshot — not to the
// size of the relation.
func (r *relation) findVersion(domain string, asOf uint64) (tuple, bool) {
	prefix := r.keyPrefix(domain)
	iter := r.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var best tuple
	found := false
	for iter.Next() {
		ts := binary.BigEndian.Uint64(iter.Key()[len(prefix):])
		if ts > asOf {
			break
		}
		t, ok := decodeTuple(iter.Value())
		if !ok {
			continue
		}
		t.commitTS = ts
		best = t
		found = true
	}
	return best, found
}

// get returns the newest tuple version with commitTS <= asOf, or !ok if no
// such version exists or the newest such version is a tombstone.
func (r *relation) get(domain string, asOf uint64) (tuple, bool) {
	r.mu.RLock()
	cached, cok := r.cache.Get(domain)
	r.mu.RUnlock()

	var t tuple
	var ok bool
	if cok && cached.commitTS <= asOf {
		t, ok = cached, true
	} else {
		t, ok = r.findVersion(domain, asOf)
	}
	if !ok || t.deleted {
		return tuple{}, false
	}
	return t, true
}

// currentVersion returns the commit timestamp of the newest write to
// domain regardless of asOf, used purely for conflict validation at
// commit time: compare the relation's current version timestamp against
// the timestamp this transaction observed when it first touched the
// domain.
func (r *relation) currentVersion(domain string) uint64 {
	r.mu.RLock()
	t, ok := r.cache.Get(domain)
	r.mu.RUnlock()
	if ok {
		return t.commitTS
	}

	t, ok = r.findVersion(domain, ^uint64(0))
	if !ok {
		return 0
	}
	r.mu.Lock()
	r.cache.Add(domain, t)
	r.mu.Unlock()
	return t.commitTS
}

// apply writes a new version (insert/update/upsert/tombstone) to both the
// durable store and the cache. Called only by Engine.commit, under the
// engine's commit lock, so commitTS values arrive in increasing order per
// domain and the cache always ends up holding the newest version.
func (r *relation) apply(batch *leveldb.Batch, domain string, value []byte, deleted bool, commitTS uint64) {
	t := tuple{value: value, commitTS: commitTS, deleted: deleted}
	batch.Put(r.dbKey(domain, commitTS), encodeTuple(t))
	r.mu.Lock()
	r.cache.Add(domain, t)
	r.mu.Unlock()
}

// scanPrefix returns every live domain's newest value in this relation.
// Used for full enumeration (snapshot export, listing all verbs/props on
// an object, listing sequences) rather than point lookups.
func (r *relation) scanPrefix() map[string][]byte {
	out := make(map[string][]byte)
	latestTS := make(map[string]uint64)

	prefix := append([]byte(r.id), ':')
	iter := r.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		rest := key[len(prefix):]
		if len(rest) < 9 {
			continue
		}
		domain := string(rest[:len(rest)-9])
		ts := binary.BigEndian.Uint64(rest[len(rest)-8:])
		if ts < latestTS[domain] {
			continue
		}
		t, ok := decodeTuple(iter.Value())
		if !ok {
			continue
		}
		latestTS[domain] = ts
		if t.deleted {
			delete(out, domain)
		} else {
			out[domain] = t.value
		}
	}
	return out
}
