package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/zam/pkg/bytecode"
)

func TestLoadConstantProgram(t *testing.T) {
	lines, err := Load(strings.NewReader("main:  CONST 42\n\tSTOP\n"))
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, bytecode.Line{Label: "main", Inst: bytecode.Instruction{Op: bytecode.Const, N: 42}}, lines[0])
	assert.Equal(t, bytecode.Line{Inst: bytecode.Instruction{Op: bytecode.Stop}}, lines[1])
}

func TestLoadCompositeOperands(t *testing.T) {
	listing := "\tCLOSURE body,0\n" +
		"\tAPPTERM 1,2\n" +
		"body:\tACC 0\n" +
		"\tRETURN 1\n"
	lines, err := Load(strings.NewReader(listing))
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.Equal(t, bytecode.Instruction{Op: bytecode.Closure, Label: "body", N: 0}, lines[0].Inst)
	assert.Equal(t, bytecode.Instruction{Op: bytecode.AppTerm, N: 1, M: 2}, lines[1].Inst)
	assert.Equal(t, "body", lines[2].Label)
}

func TestLoadSkipsBlankLines(t *testing.T) {
	lines, err := Load(strings.NewReader("\tCONST 1\n\n\tSTOP\n"))
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestLoadUnknownOpcodeIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("\tFROB 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown opcode")
}

func TestLoadMissingLabelColonIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("main CONST 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label")
}

func TestLoadGrabWithoutRestartIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("\tGRAB 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESTART")
}

func TestLoadGrabAfterRestartIsAccepted(t *testing.T) {
	lines, err := Load(strings.NewReader("\tRESTART\n\tGRAB 1\n"))
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}
