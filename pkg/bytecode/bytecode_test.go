package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpcodeString(t *testing.T) {
	cases := map[Opcode]string{
		Const:       "CONST",
		Prim:        "PRIM",
		Push:        "PUSH",
		Acc:         "ACC",
		Branch:      "BRANCH",
		Closure:     "CLOSURE",
		ClosureRec:  "CLOSUREREC",
		Apply:       "APPLY",
		Return:      "RETURN",
		AppTerm:     "APPTERM",
		Grab:        "GRAB",
		Restart:     "RESTART",
		Stop:        "STOP",
		MakeBlock:   "MAKEBLOCK",
		GetField:    "GETFIELD",
		SetField:    "SETFIELD",
		VecLength:   "VECTLENGTH",
		GetVectItem: "GETVECTITEM",
		SetVectItem: "SETVECTITEM",
		Assign:      "ASSIGN",
	}
	for op, want := range cases {
		assert.Equal(t, want, op.String())
	}
	assert.Equal(t, "UNKNOWN", Opcode(9999).String())
}

func TestLineString(t *testing.T) {
	labeled := Line{Label: "main", Inst: Instruction{Op: Const, N: 42}}
	assert.Equal(t, "main: CONST 42", labeled.String())

	unlabeled := Line{Inst: Instruction{Op: Pop}}
	assert.Equal(t, "\tPOP", unlabeled.String())

	closure := Line{Inst: Instruction{Op: Closure, Label: "body", N: 2}}
	assert.Equal(t, "\tCLOSURE body,2", closure.String())

	appterm := Line{Inst: Instruction{Op: AppTerm, N: 1, M: 2}}
	assert.Equal(t, "\tAPPTERM 1,2", appterm.String())

	prim := Line{Inst: Instruction{Op: Prim, PrimName: "+"}}
	assert.Equal(t, "\tPRIM +", prim.String())
}
