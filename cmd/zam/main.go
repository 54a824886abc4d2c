// Command zam runs a ZAM bytecode listing to completion.
//
// Usage: zam <listing-path>
//
// There are no flags (spec.md §6.1): debug and single-step tracing are
// toggled by setting ZAM_DEBUG and/or ZAM_STEP in the environment before
// invocation, and are read directly by pkg/vm.
package main

import (
	"fmt"
	"os"

	"github.com/mewkiz/pkg/term"

	"github.com/kristofer/zam/pkg/loader"
	"github.com/kristofer/zam/pkg/peephole"
	"github.com/kristofer/zam/pkg/vm"
)

var fatalPrefix = term.RedBold("zam:") + " "

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: zam <listing-path>")
		os.Exit(1)
	}
	os.Exit(run(os.Args[1]))
}

// run loads, peephole-fuses and executes the listing at path, returning the
// process exit code: 0 on a clean Stop, non-zero on any load or runtime
// fault.
func run(path string) int {
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s%v\n", fatalPrefix, err)
		return 1
	}
	defer file.Close()

	lines, err := loader.Load(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sload error: %v\n", fatalPrefix, err)
		return 1
	}

	m, err := vm.New(peephole.Fuse(lines))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s%v\n", fatalPrefix, err)
		return 1
	}

	if err := m.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s%v\n", fatalPrefix, err)
		return 1
	}
	return 0
}
