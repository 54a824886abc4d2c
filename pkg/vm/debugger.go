package vm

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mewkiz/pkg/term"
	log "github.com/sirupsen/logrus"

	"github.com/kristofer/zam/pkg/bytecode"
)

// Debugger renders the optional trace and step modes from spec.md §5 and
// §6.3. Per §6.1 there are no CLI flags for this: the host toggles it by
// setting ZAM_DEBUG and/or ZAM_STEP in the process environment before
// the engine starts.
type Debugger struct {
	m      *Machine
	trace  bool
	step   bool
	reader *bufio.Reader
	prefix string
}

// NewDebugger wires a Debugger to m, reading ZAM_DEBUG/ZAM_STEP once.
func NewDebugger(m *Machine) *Debugger {
	d := &Debugger{
		m:      m,
		trace:  os.Getenv("ZAM_DEBUG") != "",
		step:   os.Getenv("ZAM_STEP") != "",
		reader: bufio.NewReader(os.Stdin),
		prefix: term.MagentaBold("zam:") + " ",
	}
	if d.trace || d.step {
		log.SetLevel(log.DebugLevel)
	}
	return d
}

// beforeStep logs stack/env/accu/extra_args and the instruction about to
// run (spec.md §6.3), then blocks for one byte of stdin if step mode is
// on. This is the machine's only suspension point (spec.md §5) — it does
// not affect scheduling, only when the next trace line is emitted.
func (d *Debugger) beforeStep(inst bytecode.Instruction) {
	if !d.trace && !d.step {
		return
	}

	log.WithFields(log.Fields{
		"pc":         d.m.pc,
		"accu":       fmt.Sprint(d.m.accu),
		"extra_args": d.m.extraArgs,
		"stack":      d.formatStack(),
		"env":        d.m.env.String(),
	}).Debugf("%s%s", d.prefix, bytecode.Line{Inst: inst}.String())

	if d.step {
		fmt.Fprint(os.Stderr, d.prefix+"press any key to step... ")
		d.reader.ReadByte()
	}
}

func (d *Debugger) formatStack() string {
	if len(d.m.stack) == 0 {
		return "[]"
	}
	parts := make([]string, len(d.m.stack))
	for i, v := range d.m.stack {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprint(parts)
}
