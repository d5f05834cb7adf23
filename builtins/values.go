package builtins

import (
	"barn/types"
)

// builtinTosym converts a string (or an existing symbol) to an interned
// symbol value.
// tosym(str) -> sym
func builtinTosym(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	switch v := args[0].(type) {
	case types.SymValue:
		return types.Ok(v)
	case types.StrValue:
		return types.Ok(types.NewSym(v.Value()))
	default:
		return types.Err(types.E_TYPE)
	}
}

// builtinTobin converts a string to a binary value, decoding the
// ToastStunt `~XX~` escape convention.
// tobin(str) -> binary
func builtinTobin(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	str, ok := args[0].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	decoded, err := decodeBinaryLiteral(str.Value())
	if err != nil {
		return types.Err(types.E_INVARG)
	}
	return types.Ok(types.NewBin(decoded))
}

func decodeBinaryLiteral(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '~' {
			out = append(out, s[i])
			continue
		}
		if i+3 >= len(s) || s[i+3] != '~' {
			return nil, errInvalidBinaryLiteral
		}
		b, err := hexByte(s[i+1], s[i+2])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		i += 3
	}
	return out, nil
}

var errInvalidBinaryLiteral = &binaryLiteralError{}

type binaryLiteralError struct{}

func (*binaryLiteralError) Error() string { return "invalid binary literal" }

func hexByte(hi, lo byte) (byte, error) {
	h, ok1 := binHexDigit(hi)
	l, ok2 := binHexDigit(lo)
	if !ok1 || !ok2 {
		return 0, errInvalidBinaryLiteral
	}
	return h<<4 | l, nil
}

func binHexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// builtinBinaryLength returns the byte length of a binary value.
// binary_length(binary) -> int
func builtinBinaryLength(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	b, ok := args[0].(types.BinValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	return types.Ok(types.NewInt(int64(b.Len())))
}

// builtinFlyweight constructs an unsealed flyweight from a delegate object,
// a map of slot name -> value, and a contents list.
// flyweight(delegate, slots, contents) -> flyweight
func builtinFlyweight(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 3 {
		return types.Err(types.E_ARGS)
	}
	delegate, ok := args[0].(types.ObjValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	slotsMap, ok := args[1].(types.MapValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	contents, ok := args[2].(types.ListValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	pairs := slotsMap.Pairs()
	built := make([]types.NamedSlot, 0, len(pairs))
	for _, p := range pairs {
		name, ok := p[0].(types.SymValue)
		if !ok {
			if str, ok2 := p[0].(types.StrValue); ok2 {
				name = types.NewSym(str.Value())
			} else {
				return types.Err(types.E_TYPE)
			}
		}
		built = append(built, types.NamedSlot{Name: name.Name(), Value: p[1]})
	}

	return types.Ok(types.NewFlyweightFromSlots(delegate.ID(), built, contents))
}

// builtinFlyweightSlots returns the (name, value) slot pairs of an
// unsealed flyweight as a list of {sym, value} pairs.
// flyweight_slots(fw) -> list
func builtinFlyweightSlots(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	fw, ok := args[0].(types.FlyweightValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	if fw.IsSealed() {
		return types.Err(types.E_PERM)
	}
	names := fw.SlotNames()
	elems := make([]types.Value, 0, len(names))
	for _, n := range names {
		v, _ := fw.Slot(n)
		elems = append(elems, types.NewList([]types.Value{types.NewSym(n), v}))
	}
	return types.Ok(types.NewList(elems))
}

// builtinSeal seals a flyweight with secret, hiding its slots/delegate/
// contents until unseal() is called with the same secret.
// seal(fw, secret) -> flyweight
func builtinSeal(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 2 {
		return types.Err(types.E_ARGS)
	}
	fw, ok := args[0].(types.FlyweightValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	secret, ok := args[1].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	return types.Ok(fw.Seal(secret.Value()))
}

// builtinUnseal reveals a sealed flyweight's contents if secret matches.
// unseal(fw, secret) -> flyweight
func builtinUnseal(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 2 {
		return types.Err(types.E_ARGS)
	}
	fw, ok := args[0].(types.FlyweightValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	secret, ok := args[1].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	return types.Ok(fw.Unseal(secret.Value()))
}
