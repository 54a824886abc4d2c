package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeListing(t *testing.T, listing string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.zam")
	require.NoError(t, os.WriteFile(path, []byte(listing), 0o644))
	return path
}

func TestRunExitsZeroOnCleanStop(t *testing.T) {
	path := writeListing(t, "main: CONST 42\n\tSTOP\n")
	assert.Equal(t, 0, run(path))
}

func TestRunExitsNonZeroOnFault(t *testing.T) {
	path := writeListing(t, "\tPOP\n\tSTOP\n")
	assert.NotEqual(t, 0, run(path))
}

func TestRunExitsNonZeroOnMissingFile(t *testing.T) {
	assert.NotEqual(t, 0, run(filepath.Join(t.TempDir(), "nope.zam")))
}

func TestRunExitsNonZeroOnUndefinedLabel(t *testing.T) {
	path := writeListing(t, "\tBRANCH nowhere\n\tSTOP\n")
	assert.NotEqual(t, 0, run(path))
}
