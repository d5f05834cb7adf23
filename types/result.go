package types

import "time"

// ControlFlow represents the control flow state of evaluation
type ControlFlow int

const (
	FlowNormal    ControlFlow = iota // Normal execution
	FlowReturn                       // Return statement
	FlowBreak                        // Break statement
	FlowContinue                     // Continue statement
	FlowException                    // MOO error being raised
	FlowFork                         // fork statement yielded to the scheduler
	FlowSuspend                      // suspend()/read() yielded to the scheduler
)

// ForkInfo carries everything the scheduler needs to create a forked child
// task from a FlowFork result: where the forked bytecode lives, the
// activation context it inherits, and the variable bindings captured at
// the fork point.
type ForkInfo struct {
	Delay   time.Duration          // Time until the forked task should run
	VarName string                 // Name bound to the child's task id, if any ("fork x (...)")
	Body    interface{}            // [3]interface{}{*vm.Program, bodyIP, bodyLen}
	ThisObj ObjID
	Player  ObjID
	Caller  ObjID
	Verb    string
	VerbLoc ObjID

	Variables   map[string]Value // Locals snapshot at the fork point
	SourceLines []string         // Source text for the forked body, for checkpoint serialization
}

// Result represents the outcome of evaluating an expression or statement
// This unifies normal values, control flow (return/break/continue), and errors
type Result struct {
	Val      Value       // The value (if Flow == FlowNormal or FlowReturn)
	Flow     ControlFlow // Control flow state
	Error    ErrorCode   // Only set when Flow == FlowException
	Label    string      // Loop label for break/continue (empty = innermost loop)
	ForkInfo *ForkInfo   // Only set when Flow == FlowFork
}

// Ok creates a Result for normal execution with a value
func Ok(v Value) Result {
	return Result{Val: v, Flow: FlowNormal}
}

// Return creates a Result for a return statement
func Return(v Value) Result {
	return Result{Val: v, Flow: FlowReturn}
}

// Ret creates a Result for a return statement (alias for backward compatibility)
func Ret(v Value) Result {
	return Return(v)
}

// Err creates a Result for an error/exception
func Err(e ErrorCode) Result {
	return Result{Flow: FlowException, Error: e}
}

// Break creates a Result for a break statement
func Break(label string) Result {
	return Result{Flow: FlowBreak, Label: label}
}

// Continue creates a Result for a continue statement
func Continue(label string) Result {
	return Result{Flow: FlowContinue, Label: label}
}

// IsNormal returns true if this is normal execution
func (r Result) IsNormal() bool {
	return r.Flow == FlowNormal
}

// IsError returns true if this is an exception
func (r Result) IsError() bool {
	return r.Flow == FlowException
}

// IsReturn returns true if this is a return statement
func (r Result) IsReturn() bool {
	return r.Flow == FlowReturn
}

// IsBreak returns true if this is a break statement
func (r Result) IsBreak() bool {
	return r.Flow == FlowBreak
}

// IsContinue returns true if this is a continue statement
func (r Result) IsContinue() bool {
	return r.Flow == FlowContinue
}
