package types

import "strings"

// slotPair is a single (symbol, value) entry in a flyweight's slot list.
type slotPair struct {
	key SymValue
	val Value
}

// NamedSlot is the exported form of a flyweight slot, used by callers
// (e.g. the flyweight() builtin) that build slots from a plain name string.
type NamedSlot struct {
	Name  string
	Value Value
}

// NewFlyweightFromSlots creates an unsealed flyweight from plain-string
// slot names, interning each as it builds the slot list.
func NewFlyweightFromSlots(delegate ObjID, slots []NamedSlot, contents ListValue) FlyweightValue {
	pairs := make([]slotPair, len(slots))
	for i, s := range slots {
		pairs[i] = slotPair{key: NewSym(s.Name), val: s.Value}
	}
	return FlyweightValue{delegate: delegate, slots: pairs, contents: contents}
}

// SlotNames returns the names of an unsealed flyweight's slots in order,
// or nil while sealed.
func (f FlyweightValue) SlotNames() []string {
	if f.seal != "" {
		return nil
	}
	names := make([]string, len(f.slots))
	for i, s := range f.slots {
		names[i] = s.key.name
	}
	return names
}

// FlyweightValue is the immutable `< delegate, slots, contents >` value:
// a lightweight object-shaped value that dispatches verb calls to delegate
// and resolves property access through slots first, falling through to
// delegate's own properties. A sealed flyweight hides its
// slots/delegate/contents from everything but unseal() with the matching
// secret, and never compares equal to anything -- including itself -- to
// avoid leaking what it guards.
type FlyweightValue struct {
	delegate ObjID
	slots    []slotPair
	contents ListValue
	seal     string // "" means unsealed
}

// NewFlyweight creates an unsealed flyweight.
func NewFlyweight(delegate ObjID, slots []slotPair, contents ListValue) FlyweightValue {
	return FlyweightValue{delegate: delegate, slots: slots, contents: contents}
}

// NewSlot builds a (symbol, value) slot pair for NewFlyweight.
func NewSlot(name string, val Value) slotPair {
	return slotPair{key: NewSym(name), val: val}
}

func (f FlyweightValue) Type() TypeCode { return TYPE_FLYWEIGHT }

func (f FlyweightValue) String() string {
	if f.seal != "" {
		return "<sealed flyweight>"
	}
	var b strings.Builder
	b.WriteString("< ")
	b.WriteString(ObjValue{id: f.delegate}.String())
	b.WriteString(", [")
	for i, s := range f.slots {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.key.String())
		b.WriteString(" -> ")
		b.WriteString(s.val.String())
	}
	b.WriteString("], ")
	b.WriteString(f.contents.String())
	b.WriteString(" >")
	return b.String()
}

// Truthy: flyweights are never truthy, matching waif/object semantics.
func (f FlyweightValue) Truthy() bool { return false }

// Equal: sealed flyweights are never equal, even to an identical copy
// of themselves.
func (f FlyweightValue) Equal(other Value) bool {
	if f.seal != "" {
		return false
	}
	o, ok := other.(FlyweightValue)
	if !ok || o.seal != "" {
		return false
	}
	if f.delegate != o.delegate || len(f.slots) != len(o.slots) {
		return false
	}
	for i, s := range f.slots {
		if s.key.name != o.slots[i].key.name || !s.val.Equal(o.slots[i].val) {
			return false
		}
	}
	return f.contents.Equal(o.contents)
}

// Delegate returns the object verb calls and unresolved property lookups
// fall through to. Returns ObjNothing if sealed.
func (f FlyweightValue) Delegate() ObjID {
	if f.seal != "" {
		return ObjNothing
	}
	return f.delegate
}

// Slot looks up a named slot, falling through to delegate property
// resolution (handled by the caller) when found is false. Always fails
// closed while sealed.
func (f FlyweightValue) Slot(name string) (val Value, found bool) {
	if f.seal != "" {
		return nil, false
	}
	for _, s := range f.slots {
		if s.key.name == name {
			return s.val, true
		}
	}
	return nil, false
}

// Contents returns the flyweight's sequence payload, or an empty list
// while sealed.
func (f FlyweightValue) Contents() ListValue {
	if f.seal != "" {
		return NewEmptyList()
	}
	return f.contents
}

// IsSealed reports whether unseal() is required to inspect this value.
func (f FlyweightValue) IsSealed() bool { return f.seal != "" }

// Seal returns a copy signed with secret; slots/delegate/contents become
// invisible until Unseal is called with the same secret.
func (f FlyweightValue) Seal(secret string) FlyweightValue {
	cp := f
	cp.seal = secret
	return cp
}

// Unseal returns the underlying flyweight if secret matches, or the
// still-sealed value otherwise.
func (f FlyweightValue) Unseal(secret string) FlyweightValue {
	if f.seal == secret {
		cp := f
		cp.seal = ""
		return cp
	}
	return f
}

// Len implements the sequence capability over contents.
func (f FlyweightValue) Len() int {
	if f.seal != "" {
		return 0
	}
	return f.contents.Len()
}
