package world

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"barn/storage"
	"barn/types"
)

// Transaction is a snapshot-isolated view over a World's Store, given to
// exactly one task by the scheduler. Every object a task's verbs touch is
// copy-on-write cloned into the transaction's local overlay the first time
// it's reached through Get; the task's verb code continues to mutate that
// *Object through ordinary field writes exactly as it always has, but
// those writes are invisible to every other transaction until Commit
// succeeds. This preserves the familiar db.Store.Get()-then-mutate
// pattern used throughout vm/ and builtins/ while adding real conflict
// detection: Commit delegates to storage.Transaction, which validates
// every domain this transaction touched against what's currently
// committed.
type Transaction struct {
	world *World
	tx    *storage.Transaction
	cow   map[types.ObjID]*Object
	// touchedIDs preserves insertion order so Commit applies writes in a
	// stable, deterministic order (useful for WAL entry ordering, and for
	// tests that assert on it).
	touchedIDs []types.ObjID

	// highWater/highWaterSet track object-id allocation local to this
	// transaction: NextID must never hand out the same id twice to two
	// create() calls made within the same still-uncommitted transaction,
	// which a bare peek at the committed Store cannot guarantee. Seeded
	// lazily from the committed Store's own high-water mark on first use.
	highWater    types.ObjID
	highWaterSet bool
}

func init() {
	// gob needs every concrete types.Value implementation registered up
	// front since Property.Value is stored as the Value interface.
	gob.Register(types.BoolValue{})
	gob.Register(types.ErrValue{})
	gob.Register(types.FloatValue{})
	gob.Register(types.IntValue{})
	gob.Register(types.ListValue{})
	gob.Register(types.MapValue{})
	gob.Register(types.ObjValue{})
	gob.Register(types.StrValue{})
	gob.Register(types.UnboundValue{})
	gob.Register(types.WaifValue{})
}

func newTransaction(w *World) *Transaction {
	return &Transaction{
		world: w,
		tx:    w.engine.NewTransaction(),
		cow:   make(map[types.ObjID]*Object),
	}
}

// Get returns the transaction-local, mutable view of id: a clone made on
// first access within this transaction, and the same clone on every
// subsequent call. Returns nil under the same conditions Store.Get does
// (missing, recycled, or invalidated).
func (tx *Transaction) Get(id types.ObjID) *Object {
	if obj, ok := tx.cow[id]; ok {
		return obj
	}

	committed := tx.world.store.Get(id)
	if committed == nil {
		return nil
	}

	clone := cloneObject(committed)
	tx.cow[id] = clone
	tx.touchedIDs = append(tx.touchedIDs, id)
	// Register the read with the underlying storage transaction so
	// Commit's validation catches a concurrent committer even if this
	// transaction never itself writes to id (e.g. it only read a
	// property for permission checking).
	if _, _, err := tx.tx.Seek(storage.RelObjects, objDomain(id)); err != nil {
		// A seek error here means the engine itself is unhealthy; surface
		// nothing to Get's nil-returning contract, the error resurfaces
		// at Commit via the same engine.
		_ = err
	}
	return clone
}

// GetUnsafe mirrors Store.GetUnsafe within the transaction's overlay,
// bypassing recycled/invalid checks — used by Recycle/Renumber bookkeeping
// that must still see a freshly-recycled object this same transaction.
func (tx *Transaction) GetUnsafe(id types.ObjID) *Object {
	if obj, ok := tx.cow[id]; ok {
		return obj
	}
	committed := tx.world.store.GetUnsafe(id)
	if committed == nil {
		return nil
	}
	clone := cloneObject(committed)
	tx.cow[id] = clone
	tx.touchedIDs = append(tx.touchedIDs, id)
	return clone
}

// ensureHighWater seeds the transaction-local allocation counter from the
// committed Store the first time this transaction allocates or stages an
// object id.
func (tx *Transaction) ensureHighWater() {
	if tx.highWaterSet {
		return
	}
	tx.highWater = tx.world.store.NextID() - 1
	tx.highWaterSet = true
}

// NextID returns the next object id available to this transaction. Unlike
// Store.NextID (a pure peek), this also accounts for every object this same
// transaction has already staged via Add, so two create() calls in one
// uncommitted task never collide.
func (tx *Transaction) NextID() types.ObjID {
	tx.ensureHighWater()
	return tx.highWater + 1
}

// MaxObject, All, Players, GetAnonymousObjects, LowestFreeID, the waif
// registry, and the verb-cache counters all read and mutate store-wide,
// cross-transaction bookkeeping that was never made per-object. The
// scheduler runs one task at a time (see server/scheduler.go's run loop), so
// there is never a concurrent transaction for these global reads to race
// against; they delegate straight to the committed Store rather than
// reimplementing copy-on-write isolation for state that has no per-object
// owner. A transaction's own not-yet-committed creates/recycles are
// invisible to these until Commit — a known, narrow gap from full isolation,
// documented in DESIGN.md.
func (tx *Transaction) MaxObject() types.ObjID                    { return tx.world.store.MaxObject() }
func (tx *Transaction) All() []*Object                            { return tx.world.store.All() }
func (tx *Transaction) Players() []types.ObjID                    { return tx.world.store.Players() }
func (tx *Transaction) GetAnonymousObjects() []*Object            { return tx.world.store.GetAnonymousObjects() }
func (tx *Transaction) LowestFreeID() types.ObjID                 { return tx.world.store.LowestFreeID() }
func (tx *Transaction) RegisterWaif(classID types.ObjID, waif *types.WaifValue) {
	tx.world.store.RegisterWaif(classID, waif)
}
func (tx *Transaction) WaifCount() int                          { return tx.world.store.WaifCount() }
func (tx *Transaction) WaifCountByClass() map[types.ObjID]int   { return tx.world.store.WaifCountByClass() }
func (tx *Transaction) NoteVerbCacheClear()                     { tx.world.store.NoteVerbCacheClear() }
func (tx *Transaction) NoteVerbCacheMiss()                      { tx.world.store.NoteVerbCacheMiss() }
func (tx *Transaction) ConsumeVerbCacheStats() []int64          { return tx.world.store.ConsumeVerbCacheStats() }
func (tx *Transaction) ResetMaxObject()                         { tx.world.store.ResetMaxObject() }

// Valid checks the copy-on-write overlay first so an object created or
// recycled earlier in this same transaction is seen consistently, falling
// back to the committed Store for anything this transaction hasn't touched.
func (tx *Transaction) Valid(id types.ObjID) bool {
	if id < 0 {
		return false
	}
	if obj, ok := tx.cow[id]; ok {
		return !obj.Recycled && !obj.Flags.Has(FlagInvalid)
	}
	return tx.world.store.Valid(id)
}

// IsRecycled mirrors Valid's overlay-first lookup for the recycled flag.
func (tx *Transaction) IsRecycled(id types.ObjID) bool {
	if id < 0 {
		return false
	}
	if obj, ok := tx.cow[id]; ok {
		return obj.Recycled
	}
	return tx.world.store.IsRecycled(id)
}

// Add stages a newly created object into this transaction's overlay. It
// becomes visible to every subsequent Get/Valid call in this transaction but
// is invisible anywhere else until Commit.
func (tx *Transaction) Add(obj *Object) error {
	if _, exists := tx.cow[obj.ID]; exists {
		return fmt.Errorf("object #%d already exists", obj.ID)
	}
	if committed := tx.world.store.GetUnsafe(obj.ID); committed != nil {
		return fmt.Errorf("object #%d already exists", obj.ID)
	}

	tx.ensureHighWater()
	tx.cow[obj.ID] = obj
	tx.touchedIDs = append(tx.touchedIDs, obj.ID)
	if obj.ID > tx.highWater {
		tx.highWater = obj.ID
	}
	return nil
}

// invalidateAnonymousChildren is Store.invalidateAnonymousChildrenLocked
// rewritten to fault every visited object through Get, so it only ever
// mutates this transaction's own clones.
func (tx *Transaction) invalidateAnonymousChildren(rootID types.ObjID) {
	queue := []types.ObjID{rootID}
	visited := make(map[types.ObjID]bool)

	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]
		if visited[currentID] {
			continue
		}
		visited[currentID] = true

		current := tx.Get(currentID)
		if current == nil || current.Recycled {
			continue
		}

		for _, childID := range current.AnonymousChildren {
			child := tx.Get(childID)
			if child != nil && child.Anonymous {
				child.Flags = child.Flags.Set(FlagInvalid)
			}
		}
		current.AnonymousChildren = nil

		queue = append(queue, current.Children...)
	}
}

// InvalidateAnonymousChildren is the exported entry point builtins call
// directly (add_property/delete_property/chparent(s) invalidation).
func (tx *Transaction) InvalidateAnonymousChildren(parentID types.ObjID) {
	tx.invalidateAnonymousChildren(parentID)
}

// Recycle marks id as recycled within this transaction's overlay.
func (tx *Transaction) Recycle(id types.ObjID) error {
	obj := tx.Get(id)
	if obj == nil {
		return fmt.Errorf("object #%d does not exist", id)
	}
	if obj.Recycled {
		return fmt.Errorf("object #%d already recycled", id)
	}

	tx.invalidateAnonymousChildren(id)

	obj.Recycled = true
	obj.Flags = obj.Flags.Set(FlagRecycled | FlagInvalid)
	return nil
}

// Recreate resets a recycled slot to a fresh object within this
// transaction's overlay (wizard-only recreate()).
func (tx *Transaction) Recreate(id types.ObjID, parent types.ObjID, owner types.ObjID) error {
	obj := tx.Get(id)
	if obj == nil {
		return fmt.Errorf("object #%d does not exist", id)
	}
	if !obj.Recycled {
		return fmt.Errorf("object #%d is not recycled", id)
	}

	newObj := NewObject(id, owner)
	newObj.Parents = []types.ObjID{parent}
	tx.cow[id] = newObj
	return nil
}

// referencesObject reports whether o holds any field that points at id,
// used by Renumber to find which objects need their references rewritten
// without cloning the whole store.
func referencesObject(o *Object, id types.ObjID) bool {
	if o == nil || o.Recycled {
		return false
	}
	for _, p := range o.Parents {
		if p == id {
			return true
		}
	}
	for _, c := range o.Children {
		if c == id {
			return true
		}
	}
	for _, c := range o.Contents {
		if c == id {
			return true
		}
	}
	if o.Location == id || o.Owner == id {
		return true
	}
	if o.ChparentChildren != nil && o.ChparentChildren[id] {
		return true
	}
	return false
}

// Renumber moves oldID's object to newID within this transaction's overlay,
// rewriting every reference it can find in the committed store or in this
// transaction's own overlay. The vacated oldID slot is left as a recycled
// tombstone so allocation bookkeeping and Commit's encoding still account
// for it, matching Store.Renumber's behavior.
func (tx *Transaction) Renumber(oldID, newID types.ObjID) error {
	obj := tx.Get(oldID)
	if obj == nil || obj.Recycled {
		return fmt.Errorf("object #%d does not exist", oldID)
	}
	if oldID == newID {
		return nil
	}
	if existing := tx.Get(newID); existing != nil {
		return fmt.Errorf("object #%d already exists", newID)
	}

	tx.invalidateAnonymousChildren(oldID)

	obj.ID = newID
	delete(tx.cow, oldID)
	tx.cow[newID] = obj
	for i, id := range tx.touchedIDs {
		if id == oldID {
			tx.touchedIDs[i] = newID
		}
	}

	referents := make(map[types.ObjID]bool)
	for _, committed := range tx.world.store.All() {
		if referencesObject(committed, oldID) {
			referents[committed.ID] = true
		}
	}
	for id, cowed := range tx.cow {
		if id == newID {
			continue
		}
		if referencesObject(cowed, oldID) {
			referents[id] = true
		}
	}
	delete(referents, oldID)
	delete(referents, newID)

	for id := range referents {
		other := tx.Get(id)
		if other == nil {
			continue
		}
		for i, pid := range other.Parents {
			if pid == oldID {
				other.Parents[i] = newID
			}
		}
		for i, cid := range other.Children {
			if cid == oldID {
				other.Children[i] = newID
			}
		}
		if other.ChparentChildren != nil && other.ChparentChildren[oldID] {
			delete(other.ChparentChildren, oldID)
			other.ChparentChildren[newID] = true
		}
		if other.Location == oldID {
			other.Location = newID
		}
		for i, cid := range other.Contents {
			if cid == oldID {
				other.Contents[i] = newID
			}
		}
		if other.Owner == oldID {
			other.Owner = newID
		}
	}

	tombstone := NewObject(oldID, types.ObjNothing)
	tombstone.Recycled = true
	tombstone.Flags = tombstone.Flags.Set(FlagRecycled | FlagInvalid)
	tx.cow[oldID] = tombstone
	tx.touchedIDs = append(tx.touchedIDs, oldID)

	return nil
}

// FindVerb mirrors Store.FindVerb's breadth-first ancestor search, but
// sources every visited object through Get so a verb added earlier in this
// same transaction (not yet committed) is found.
func (tx *Transaction) FindVerb(objID types.ObjID, verbName string) (*Verb, types.ObjID, error) {
	visited := make(map[types.ObjID]bool)
	queue := []types.ObjID{objID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		obj := tx.Get(current)
		if obj == nil {
			continue
		}

		if verb, ok := obj.Verbs[verbName]; ok {
			return verb, current, nil
		}
		if verb, ok := obj.Verbs[":"+verbName]; ok {
			return verb, current, nil
		}
		for _, verb := range obj.Verbs {
			for _, alias := range verb.Names {
				if matchVerbName(alias, verbName) {
					return verb, current, nil
				}
			}
		}

		queue = append(queue, obj.Parents...)
	}

	return nil, types.ObjNothing, fmt.Errorf("verb not found: %s", verbName)
}

// Store exposes the committed, shared Store for read paths that must see
// global structure unaffected by this transaction's own speculative edits
// (e.g. NextID/MaxObject allocation, which the scheduler serializes around
// commit anyway). Object-level mutation must always go through Get.
func (tx *Transaction) Store() *Store {
	return tx.world.store
}

// Commit validates this transaction's touched objects against the
// underlying storage.Transaction and, if nothing conflicted, publishes
// every copy-on-write clone into the shared Store and durably records the
// change. On ErrConflictRetry the caller (scheduler) must discard this
// Transaction and retry the task from its initial activation — no
// partial state is ever published.
func (tx *Transaction) Commit() error {
	for _, id := range tx.touchedIDs {
		obj := tx.cow[id]
		encoded, err := encodeObject(obj)
		if err != nil {
			return fmt.Errorf("world: encode object #%d: %w", id, err)
		}
		if err := tx.tx.Upsert(storage.RelObjects, objDomain(id), encoded); err != nil {
			return err
		}
	}

	if _, err := tx.tx.Commit(); err != nil {
		return err
	}

	tx.world.store.publish(tx.cow)
	return nil
}

// Rollback discards every copy-on-write clone without touching the shared
// Store or the durable engine.
func (tx *Transaction) Rollback() {
	tx.tx.Rollback()
	tx.cow = nil
	tx.touchedIDs = nil
}

func objDomain(id types.ObjID) string {
	return fmt.Sprintf("obj:%d", id)
}

// cloneObject makes a deep-enough copy for copy-on-write semantics: every
// field a verb can mutate in place (maps, slices) is copied so writes
// under this transaction never alias the committed object.
func cloneObject(o *Object) *Object {
	clone := *o

	clone.Parents = append([]types.ObjID(nil), o.Parents...)
	clone.Children = append([]types.ObjID(nil), o.Children...)
	clone.Contents = append([]types.ObjID(nil), o.Contents...)
	clone.AnonymousChildren = append([]types.ObjID(nil), o.AnonymousChildren...)
	clone.PropOrder = append([]string(nil), o.PropOrder...)

	clone.Properties = make(map[string]*Property, len(o.Properties))
	for name, p := range o.Properties {
		pc := *p
		clone.Properties[name] = &pc
	}

	clone.Verbs = make(map[string]*Verb, len(o.Verbs))
	clone.VerbList = make([]*Verb, 0, len(o.VerbList))
	verbClones := make(map[*Verb]*Verb, len(o.Verbs))
	for name, v := range o.Verbs {
		vc, ok := verbClones[v]
		if !ok {
			tmp := *v
			tmp.Names = append([]string(nil), v.Names...)
			tmp.Code = append([]string(nil), v.Code...)
			vc = &tmp
			verbClones[v] = vc
		}
		clone.Verbs[name] = vc
	}
	for _, v := range o.VerbList {
		clone.VerbList = append(clone.VerbList, verbClones[v])
	}

	if o.ChparentChildren != nil {
		clone.ChparentChildren = make(map[types.ObjID]bool, len(o.ChparentChildren))
		for k, v := range o.ChparentChildren {
			clone.ChparentChildren[k] = v
		}
	}

	return &clone
}

// objectWire is the gob-friendly projection of Object used by the storage
// engine. BytecodeCache and Program are excluded: both are runtime-only
// derived state, recompiled from Verb.Code on first execution after
// restart, matching how checkpoint.go already treats BytecodeCache as
// non-serialized.
type objectWire struct {
	ID               types.ObjID
	Name             string
	Owner            types.ObjID
	Parents          []types.ObjID
	Children         []types.ObjID
	Location         types.ObjID
	Contents         []types.ObjID
	Flags            ObjectFlags
	Properties       map[string]*Property
	PropDefsCount    int
	PropOrder        []string
	VerbsWire        []verbWire
	Recycled         bool
	Anonymous        bool
	ChparentChildren map[types.ObjID]bool
	AnonymousChildren []types.ObjID
}

type verbWire struct {
	Name    string
	Names   []string
	Owner   types.ObjID
	Perms   VerbPerms
	ArgSpec VerbArgs
	Code    []string
}

func encodeObject(o *Object) ([]byte, error) {
	w := objectWire{
		ID:                o.ID,
		Name:              o.Name,
		Owner:             o.Owner,
		Parents:           o.Parents,
		Children:          o.Children,
		Location:          o.Location,
		Contents:          o.Contents,
		Flags:             o.Flags,
		Properties:        o.Properties,
		PropDefsCount:     o.PropDefsCount,
		PropOrder:         o.PropOrder,
		Recycled:          o.Recycled,
		Anonymous:         o.Anonymous,
		ChparentChildren:  o.ChparentChildren,
		AnonymousChildren: o.AnonymousChildren,
	}
	for _, v := range o.VerbList {
		w.VerbsWire = append(w.VerbsWire, verbWire{
			Name: v.Name, Names: v.Names, Owner: v.Owner,
			Perms: v.Perms, ArgSpec: v.ArgSpec, Code: v.Code,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeObject(raw []byte) (*Object, error) {
	var w objectWire
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&w); err != nil {
		return nil, err
	}

	o := &Object{
		ID:                w.ID,
		Name:              w.Name,
		Owner:             w.Owner,
		Parents:           w.Parents,
		Children:          w.Children,
		Location:          w.Location,
		Contents:          w.Contents,
		Flags:             w.Flags,
		Properties:        w.Properties,
		PropDefsCount:     w.PropDefsCount,
		PropOrder:         w.PropOrder,
		Verbs:             make(map[string]*Verb, len(w.VerbsWire)),
		Recycled:          w.Recycled,
		Anonymous:         w.Anonymous,
		ChparentChildren:  w.ChparentChildren,
		AnonymousChildren: w.AnonymousChildren,
	}
	for _, vw := range w.VerbsWire {
		v := &Verb{Name: vw.Name, Names: vw.Names, Owner: vw.Owner, Perms: vw.Perms, ArgSpec: vw.ArgSpec, Code: vw.Code}
		o.VerbList = append(o.VerbList, v)
		for _, alias := range vw.Names {
			o.Verbs[alias] = v
		}
		o.Verbs[vw.Name] = v
	}
	return o, nil
}
