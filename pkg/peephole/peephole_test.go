package peephole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/zam/pkg/bytecode"
)

func TestFusesApplyReturn(t *testing.T) {
	in := []bytecode.Line{
		{Inst: bytecode.Instruction{Op: bytecode.Apply, N: 1}},
		{Label: "ret", Inst: bytecode.Instruction{Op: bytecode.Return, N: 2}},
		{Inst: bytecode.Instruction{Op: bytecode.Stop}},
	}
	out := Fuse(in)
	require.Len(t, out, 2)
	assert.Equal(t, bytecode.Instruction{Op: bytecode.AppTerm, N: 1, M: 3}, out[0].Inst)
	assert.Equal(t, "", out[0].Label, "unreferenced label should be dropped")
	assert.Equal(t, bytecode.Stop, out[1].Inst.Op)
}

func TestKeepsLabelWhenStillBranchedTo(t *testing.T) {
	in := []bytecode.Line{
		{Inst: bytecode.Instruction{Op: bytecode.Branch, Label: "ret"}},
		{Inst: bytecode.Instruction{Op: bytecode.Apply, N: 1}},
		{Label: "ret", Inst: bytecode.Instruction{Op: bytecode.Return, N: 0}},
	}
	out := Fuse(in)
	require.Len(t, out, 2)
	assert.Equal(t, "ret", out[1].Label, "a still-referenced label must survive fusion")
	assert.Equal(t, bytecode.Instruction{Op: bytecode.AppTerm, N: 1, M: 1}, out[1].Inst)
}

func TestLeavesUnfusablePairsAlone(t *testing.T) {
	in := []bytecode.Line{
		{Inst: bytecode.Instruction{Op: bytecode.Apply, N: 1}},
		{Inst: bytecode.Instruction{Op: bytecode.Push}},
		{Inst: bytecode.Instruction{Op: bytecode.Return, N: 0}},
	}
	out := Fuse(in)
	require.Len(t, out, 3)
	assert.Equal(t, bytecode.Apply, out[0].Inst.Op)
}

func TestOutputNeverLongerThanInput(t *testing.T) {
	in := []bytecode.Line{
		{Inst: bytecode.Instruction{Op: bytecode.Const, N: 1}},
		{Inst: bytecode.Instruction{Op: bytecode.Apply, N: 1}},
		{Inst: bytecode.Instruction{Op: bytecode.Return, N: 0}},
	}
	out := Fuse(in)
	assert.LessOrEqual(t, len(out), len(in))
}
