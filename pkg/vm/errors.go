// Package vm implements the ZAM execution engine.
//
// Fatal errors are modeled as a single Fault type carrying the violated
// precondition's category (spec.md §7) and the program counter at the
// time of the fault, rather than as ad-hoc fmt.Errorf strings — callers
// that want to report or categorize a failure don't have to parse one.
package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Fault categories, matching the taxonomy in spec.md §7.
const (
	CategoryType      = "type mismatch"
	CategoryArity     = "arity violation"
	CategoryLabel     = "bad label"
	CategoryOpcode    = "unknown opcode"
	CategoryPrimitive = "unknown primitive"
	CategoryUnderflow = "stack underflow"
)

// Fault is a fatal runtime error. The engine never retries or recovers
// from one; the first Fault unwinds the main loop straight to the caller.
type Fault struct {
	Category string
	PC       int
	Detail   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at pc=%d: %s", f.Category, f.PC, f.Detail)
}

// fault builds a Fault and wraps it with a stack trace, so a top-level
// handler can print where in the engine the precondition was caught.
func fault(pc int, category, format string, args ...interface{}) error {
	return errors.WithStack(&Fault{Category: category, PC: pc, Detail: fmt.Sprintf(format, args...)})
}
