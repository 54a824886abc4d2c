// Package vm implements the ZAM execution engine.
//
// The Machine holds the state spec.md §3 defines — code, labels, pc,
// accu, stack, env, extra_args — and Run drives the fetch/decode/execute
// loop until a Stop instruction or a Fault. Calling convention (Apply,
// Return, AppTerm, Grab, Restart) is the one genuinely tricky part: it
// implements curried n-ary application and proper tail calls over a
// three-slot call frame pushed in a fixed order (Env, Return-PC,
// Extra-Args), and every opcode handler below is written to match that
// order exactly — spec.md §9 notes that two variants in the system this
// was modeled on disagree about it, and getting it wrong silently
// mis-decodes every Return.
package vm

import (
	"fmt"

	"github.com/kristofer/zam/pkg/bytecode"
	"github.com/kristofer/zam/pkg/value"
)

// Machine is one ZAM execution context: a code vector, its label index,
// and the five pieces of mutable state the engine steps through.
type Machine struct {
	code   []bytecode.Line
	labels map[string]int

	pc        int
	accu      value.Value
	stack     []value.Value
	env       value.Env
	extraArgs int64

	debugger *Debugger
}

// New builds a Machine over an already loaded and peephole-optimized
// program, validating every branch/closure target up front so a Fault
// with CategoryLabel is reported before a single instruction runs.
func New(code []bytecode.Line) (*Machine, error) {
	labels := make(map[string]int, len(code))
	for i, line := range code {
		if line.Label != "" {
			labels[line.Label] = i
		}
	}

	m := &Machine{
		code:   code,
		labels: labels,
		accu:   value.Int(0),
	}
	if err := m.checkLabels(); err != nil {
		return nil, err
	}
	m.debugger = NewDebugger(m)
	return m, nil
}

func (m *Machine) checkLabels() error {
	for i, line := range m.code {
		switch line.Inst.Op {
		case bytecode.Branch, bytecode.BranchIfNot, bytecode.Closure, bytecode.ClosureRec:
			if _, ok := m.labels[line.Inst.Label]; !ok {
				return fault(i, CategoryLabel, "undefined label %q", line.Inst.Label)
			}
		}
	}
	return nil
}

// Run executes the program from pc=0 until Stop or the first Fault.
func (m *Machine) Run() error {
	for {
		if m.pc < 0 || m.pc >= len(m.code) {
			return fault(m.pc, CategoryLabel, "program counter %d out of range", m.pc)
		}

		inst := m.code[m.pc].Inst
		m.debugger.beforeStep(inst)

		stop, err := m.step(inst)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Accu exposes the final accumulator value after Run returns, mainly for
// tests that check an end-to-end scenario's result without parsing the
// Stop diagnostic line.
func (m *Machine) Accu() value.Value {
	return m.accu
}

func (m *Machine) step(inst bytecode.Instruction) (bool, error) {
	switch inst.Op {
	case bytecode.Const:
		m.accu = value.Int(inst.N)
		m.pc++

	case bytecode.Prim:
		if err := m.execPrim(inst.PrimName); err != nil {
			return false, err
		}
		m.pc++

	case bytecode.Push:
		m.push(m.accu)
		if _, ok := m.accu.(*value.Block); ok {
			m.accu = value.BlockRef{StackIndex: len(m.stack) - 1}
		}
		m.pc++

	case bytecode.Pop:
		if _, err := m.pop(); err != nil {
			return false, err
		}
		m.pc++

	case bytecode.Acc:
		idx := len(m.stack) - 1 - int(inst.N)
		if idx < 0 || idx >= len(m.stack) {
			return false, fault(m.pc, CategoryUnderflow, "ACC %d: stack index %d out of range", inst.N, idx)
		}
		v := m.stack[idx]
		if _, ok := v.(*value.Block); ok {
			m.accu = value.BlockRef{StackIndex: idx}
		} else {
			m.accu = v
		}
		m.pc++

	case bytecode.Envacc:
		idx := int(inst.N)
		if idx < 0 || idx >= len(m.env) {
			return false, fault(m.pc, CategoryType, "ENVACC %d: env index out of range (len %d)", inst.N, len(m.env))
		}
		v := m.env[idx]
		if _, ok := v.(*value.Block); ok {
			m.accu = value.EnvRef{Index: idx}
		} else {
			m.accu = v
		}
		m.pc++

	case bytecode.Assign:
		idx := len(m.stack) - 1 - int(inst.N)
		if idx < 0 || idx >= len(m.stack) {
			return false, fault(m.pc, CategoryUnderflow, "ASSIGN %d: stack index %d out of range", inst.N, idx)
		}
		m.stack[idx] = m.accu
		m.accu = value.Int(0)
		m.pc++

	case bytecode.Branch:
		target, ok := m.labels[inst.Label]
		if !ok {
			return false, fault(m.pc, CategoryLabel, "undefined label %q", inst.Label)
		}
		m.pc = target

	case bytecode.BranchIfNot:
		accuInt, ok := m.accu.(value.Int)
		if !ok {
			return false, fault(m.pc, CategoryType, "BRANCHIFNOT: accu is %T, not Int", m.accu)
		}
		if accuInt == 0 {
			target, ok := m.labels[inst.Label]
			if !ok {
				return false, fault(m.pc, CategoryLabel, "undefined label %q", inst.Label)
			}
			m.pc = target
		} else {
			m.pc++
		}

	case bytecode.Closure:
		env, err := m.buildEnv(inst.N)
		if err != nil {
			return false, err
		}
		target, ok := m.labels[inst.Label]
		if !ok {
			return false, fault(m.pc, CategoryLabel, "undefined label %q", inst.Label)
		}
		m.accu = &value.Closure{PC: target, Env: env}
		m.pc++

	case bytecode.ClosureRec:
		env, err := m.buildEnv(inst.N)
		if err != nil {
			return false, err
		}
		target, ok := m.labels[inst.Label]
		if !ok {
			return false, fault(m.pc, CategoryLabel, "undefined label %q", inst.Label)
		}
		full := make(value.Env, 0, len(env)+1)
		full = append(full, value.Int(target))
		full = append(full, env...)
		m.accu = &value.Closure{PC: target, Env: full}
		m.push(m.accu)
		m.pc++

	case bytecode.OffSetClosure:
		if len(m.env) == 0 {
			return false, fault(m.pc, CategoryType, "OFFSETCLOSURE: env is empty")
		}
		codeIdx, err := asInt(m.env[0], m.pc, "OFFSETCLOSURE env[0]")
		if err != nil {
			return false, err
		}
		m.accu = &value.Closure{PC: int(codeIdx), Env: m.env}
		m.pc++

	case bytecode.Apply:
		if err := m.execApply(inst.N); err != nil {
			return false, err
		}

	case bytecode.Return:
		if err := m.execReturn(inst.N); err != nil {
			return false, err
		}

	case bytecode.AppTerm:
		if err := m.execAppTerm(inst.N, inst.M); err != nil {
			return false, err
		}

	case bytecode.Grab:
		if err := m.execGrab(inst.N); err != nil {
			return false, err
		}

	case bytecode.Restart:
		m.execRestart()
		m.pc++

	case bytecode.Stop:
		fmt.Println(m.accu.String())
		return true, nil

	case bytecode.MakeBlock:
		if err := m.execMakeBlock(inst.N); err != nil {
			return false, err
		}
		m.pc++

	case bytecode.GetField:
		if err := m.execGetField(inst.N); err != nil {
			return false, err
		}
		m.pc++

	case bytecode.SetField:
		if err := m.execSetField(inst.N); err != nil {
			return false, err
		}
		m.pc++

	case bytecode.VecLength:
		b, err := m.resolveBlock(m.accu)
		if err != nil {
			return false, err
		}
		m.accu = value.Int(len(b.Fields))
		m.pc++

	case bytecode.GetVectItem:
		idxVal, err := m.pop()
		if err != nil {
			return false, err
		}
		idx, err := asInt(idxVal, m.pc, "GETVECTITEM index")
		if err != nil {
			return false, err
		}
		if err := m.execGetField(idx); err != nil {
			return false, err
		}
		m.pc++

	case bytecode.SetVectItem:
		idxVal, err := m.pop()
		if err != nil {
			return false, err
		}
		idx, err := asInt(idxVal, m.pc, "SETVECTITEM index")
		if err != nil {
			return false, err
		}
		v, err := m.pop()
		if err != nil {
			return false, err
		}
		if err := m.setFieldValue(idx, v); err != nil {
			return false, err
		}
		m.accu = value.Int(0)
		m.pc++

	default:
		return false, fault(m.pc, CategoryOpcode, "unknown opcode %v", inst.Op)
	}

	return false, nil
}

// --- stack helpers ---

func (m *Machine) push(v value.Value) {
	m.stack = append(m.stack, v)
}

func (m *Machine) pop() (value.Value, error) {
	if len(m.stack) == 0 {
		return nil, fault(m.pc, CategoryUnderflow, "pop on empty stack")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// popN pops n values in pop order: the returned slice's first element is
// whatever was on top of the stack.
func (m *Machine) popN(n int64) ([]value.Value, error) {
	out := make([]value.Value, n)
	for i := int64(0); i < n; i++ {
		v, err := m.pop()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Machine) pushAll(vs []value.Value) {
	for _, v := range vs {
		m.push(v)
	}
}

// buildEnv implements the shared prefix of Closure(L,n) and
// ClosureRec(L,n): push accu when n>0, then pop n values in pop order
// into the new environment (spec.md §4.6).
func (m *Machine) buildEnv(n int64) (value.Env, error) {
	if n > 0 {
		m.push(m.accu)
	}
	popped, err := m.popN(n)
	if err != nil {
		return nil, err
	}
	return value.Env(popped), nil
}

// --- type coercions ---

func asInt(v value.Value, pc int, what string) (int64, error) {
	i, ok := v.(value.Int)
	if !ok {
		return 0, fault(pc, CategoryType, "%s: expected Int, got %T", what, v)
	}
	return int64(i), nil
}

func asEnv(v value.Value, pc int, what string) (value.Env, error) {
	e, ok := v.(value.Env)
	if !ok {
		return nil, fault(pc, CategoryType, "%s: expected Env frame slot, got %T", what, v)
	}
	return e, nil
}

func asClosure(v value.Value, pc int, what string) (*value.Closure, error) {
	c, ok := v.(*value.Closure)
	if !ok {
		return nil, fault(pc, CategoryType, "%s: expected Closure, got %T", what, v)
	}
	return c, nil
}

func boolOf(i value.Int, pc int, what string) (bool, error) {
	if i != 0 && i != 1 {
		return false, fault(pc, CategoryType, "%s: %d is not a boolean Int", what, int64(i))
	}
	return i.Bool(), nil
}

// resolveBlock follows BlockRef/EnvRef aliasing down to the underlying
// *value.Block, the way Acc and Envacc rebind accu to an alias instead
// of copying the block out (spec.md §4.4, §9).
func (m *Machine) resolveBlock(v value.Value) (*value.Block, error) {
	switch b := v.(type) {
	case *value.Block:
		return b, nil
	case value.BlockRef:
		if b.StackIndex < 0 || b.StackIndex >= len(m.stack) {
			return nil, fault(m.pc, CategoryUnderflow, "blockref stack index %d out of range", b.StackIndex)
		}
		return m.resolveBlock(m.stack[b.StackIndex])
	case value.EnvRef:
		if b.Index < 0 || b.Index >= len(m.env) {
			return nil, fault(m.pc, CategoryType, "envref index %d out of range", b.Index)
		}
		return m.resolveBlock(m.env[b.Index])
	default:
		return nil, fault(m.pc, CategoryType, "expected Block/BlockRef/EnvRef, got %T", v)
	}
}

// --- arithmetic ---

func (m *Machine) execPrim(name string) error {
	switch name {
	case "not":
		accuInt, ok := m.accu.(value.Int)
		if !ok {
			return fault(m.pc, CategoryType, "PRIM not: accu is %T, not Int", m.accu)
		}
		b, err := boolOf(accuInt, m.pc, "PRIM not")
		if err != nil {
			return err
		}
		m.accu = value.FromBool(!b)
		return nil

	case "print":
		accuInt, ok := m.accu.(value.Int)
		if !ok {
			return fault(m.pc, CategoryType, "PRIM print: accu is %T, not Int", m.accu)
		}
		fmt.Printf("%c", byte(uint64(accuInt)&0xFF))
		return nil
	}

	a0V, err := m.pop()
	if err != nil {
		return err
	}
	a0, ok := a0V.(value.Int)
	if !ok {
		return fault(m.pc, CategoryType, "PRIM %s: stack operand is %T, not Int", name, a0V)
	}
	accuInt, ok := m.accu.(value.Int)
	if !ok {
		return fault(m.pc, CategoryType, "PRIM %s: accu is %T, not Int", name, m.accu)
	}

	switch name {
	case "+":
		m.accu = accuInt + a0
	case "-":
		m.accu = accuInt - a0
	case "*":
		m.accu = accuInt * a0
	case "/":
		if a0 == 0 {
			return fault(m.pc, CategoryType, "PRIM /: division by zero")
		}
		m.accu = accuInt / a0
	case "<":
		m.accu = value.FromBool(accuInt < a0)
	case ">":
		m.accu = value.FromBool(accuInt > a0)
	case "=":
		m.accu = value.FromBool(accuInt == a0)
	case "<=":
		m.accu = value.FromBool(accuInt <= a0)
	case ">=":
		m.accu = value.FromBool(accuInt >= a0)
	case "and":
		l, err := boolOf(accuInt, m.pc, "PRIM and")
		if err != nil {
			return err
		}
		r, err := boolOf(a0, m.pc, "PRIM and")
		if err != nil {
			return err
		}
		m.accu = value.FromBool(l && r)
	case "or":
		l, err := boolOf(accuInt, m.pc, "PRIM or")
		if err != nil {
			return err
		}
		r, err := boolOf(a0, m.pc, "PRIM or")
		if err != nil {
			return err
		}
		m.accu = value.FromBool(l || r)
	default:
		return fault(m.pc, CategoryPrimitive, "unknown primitive %q", name)
	}
	return nil
}

// --- calling convention ---

func (m *Machine) execApply(n int64) error {
	if n <= 0 {
		return fault(m.pc, CategoryArity, "APPLY %d: arity must be positive", n)
	}
	closure, err := asClosure(m.accu, m.pc, "APPLY")
	if err != nil {
		return err
	}

	args, err := m.popN(n)
	if err != nil {
		return err
	}

	m.push(value.Env(m.env))
	m.push(value.Int(m.pc + 1))
	m.push(value.Int(m.extraArgs))
	m.pushAll(args)

	m.pc = closure.PC
	m.env = closure.Env
	m.extraArgs = n - 1
	return nil
}

func (m *Machine) execReturn(n int64) error {
	if n < 0 {
		return fault(m.pc, CategoryArity, "RETURN %d: arity must be non-negative", n)
	}
	if _, err := m.popN(n); err != nil {
		return err
	}

	if m.extraArgs == 0 {
		extraArgs, pc, env, err := m.popFrame()
		if err != nil {
			return err
		}
		m.extraArgs = extraArgs
		m.pc = pc
		m.env = env
		return nil
	}

	m.extraArgs--
	closure, err := asClosure(m.accu, m.pc, "RETURN resume")
	if err != nil {
		return err
	}
	m.pc = closure.PC
	m.env = closure.Env
	return nil
}

func (m *Machine) execAppTerm(n, mOperand int64) error {
	if n < 1 || n > mOperand {
		return fault(m.pc, CategoryArity, "APPTERM %d,%d: require 1 <= n <= m", n, mOperand)
	}

	args, err := m.popN(n)
	if err != nil {
		return err
	}
	if _, err := m.popN(mOperand - n); err != nil {
		return err
	}
	m.pushAll(args)

	closure, err := asClosure(m.accu, m.pc, "APPTERM")
	if err != nil {
		return err
	}
	m.pc = closure.PC
	m.env = closure.Env
	m.extraArgs += n - 1
	return nil
}

func (m *Machine) execGrab(n int64) error {
	if n < 0 {
		return fault(m.pc, CategoryArity, "GRAB %d: arity must be non-negative", n)
	}

	if m.extraArgs >= n {
		m.extraArgs -= n
		m.pc++
		return nil
	}

	k := m.extraArgs + 1
	popped, err := m.popN(k)
	if err != nil {
		return err
	}

	partial := make(value.Env, 0, len(m.env)+len(popped))
	partial = append(partial, m.env...)
	partial = append(partial, popped...)
	m.accu = &value.Closure{PC: m.pc - 1, Env: partial}

	extraArgs, pc, env, err := m.popFrame()
	if err != nil {
		return err
	}
	m.extraArgs = extraArgs
	m.pc = pc
	m.env = env
	return nil
}

// popFrame pops the three-slot call frame in reverse push order
// (Extra-Args, Return-PC, Env), the shared tail of Return's
// zero-extra-args path and Grab's partial-application path.
func (m *Machine) popFrame() (extraArgs int64, pc int, env value.Env, err error) {
	extraArgsV, err := m.pop()
	if err != nil {
		return 0, 0, nil, err
	}
	extraArgs, err = asInt(extraArgsV, m.pc, "call frame: extra_args slot")
	if err != nil {
		return 0, 0, nil, err
	}

	pcV, err := m.pop()
	if err != nil {
		return 0, 0, nil, err
	}
	pc64, err := asInt(pcV, m.pc, "call frame: pc slot")
	if err != nil {
		return 0, 0, nil, err
	}

	envV, err := m.pop()
	if err != nil {
		return 0, 0, nil, err
	}
	env, err = asEnv(envV, m.pc, "call frame: env slot")
	if err != nil {
		return 0, 0, nil, err
	}

	return extraArgs, int(pc64), env, nil
}

func (m *Machine) execRestart() {
	k := len(m.env)
	if k > 0 {
		for i := 1; i < k; i++ {
			m.push(m.env[i])
		}
		m.extraArgs += int64(k - 1)
		m.env = value.Env{m.env[0]}
		return
	}
	m.extraArgs--
}

// --- blocks and vectors ---

func (m *Machine) execMakeBlock(n int64) error {
	fields := make([]value.Value, n)
	if n > 0 {
		fields[0] = m.accu
		popped, err := m.popN(n - 1)
		if err != nil {
			return err
		}
		for i, v := range popped {
			fields[i+1] = v
		}
	}
	m.accu = &value.Block{Fields: fields}
	return nil
}

func (m *Machine) execGetField(k int64) error {
	b, err := m.resolveBlock(m.accu)
	if err != nil {
		return err
	}
	if k < 0 || int(k) >= len(b.Fields) {
		return fault(m.pc, CategoryType, "GETFIELD %d: out of range for block of arity %d", k, len(b.Fields))
	}
	m.accu = b.Fields[k]
	return nil
}

func (m *Machine) execSetField(k int64) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	return m.setFieldValue(k, v)
}

func (m *Machine) setFieldValue(k int64, v value.Value) error {
	b, err := m.resolveBlock(m.accu)
	if err != nil {
		return err
	}
	if k < 0 || int(k) >= len(b.Fields) {
		return fault(m.pc, CategoryType, "SETFIELD %d: out of range for block of arity %d", k, len(b.Fields))
	}
	b.Fields[k] = v
	return nil
}
