package vm

import (
	"barn/builtins"
	"barn/world"
)

// BuildVMRegistry constructs a fresh builtin registry bound to tx. Builtin
// ids are assigned by Register() in the exact order below every time this
// runs, so bytecode compiled against one registry instance's ids stays
// valid when executed against a different instance built by this same
// function. The scheduler calls this once per task attempt (see
// server/scheduler.go's beginAttempt) rather than sharing one registry
// across transactions, since each attempt's builtins need to see that
// attempt's own transaction.
func BuildVMRegistry(tx *world.Transaction) *builtins.Registry {
	r := builtins.NewRegistry()
	r.RegisterObjectBuiltins(tx)
	r.RegisterPropertyBuiltins(tx)
	r.RegisterVerbBuiltins(tx)
	r.RegisterCryptoBuiltins(tx)
	r.RegisterSystemBuiltins(tx)
	r.RegisterStubBuiltins()
	return r
}
