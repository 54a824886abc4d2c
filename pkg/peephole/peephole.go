// Package peephole implements the single ZAM optimization pass: fusing an
// Apply(n) immediately followed by Return(k) into one AppTerm(n, k+n).
//
// spec.md §4.3 describes the textbook version of this rewrite, which drops
// whatever label sat on the Return. spec.md §9 flags that as unsafe when
// some other instruction still branches to that label — the fused AppTerm
// would then be unreachable by name. Fuse resolves this the way the design
// notes suggest: it keeps the label on the fused instruction instead of
// refusing to fuse, so every branch target in the program keeps resolving
// and the pass still fires on every fusable pair.
package peephole

import "github.com/kristofer/zam/pkg/bytecode"

// Fuse walks lines once and returns the peephole-optimized program. Output
// length is never greater than len(lines).
func Fuse(lines []bytecode.Line) []bytecode.Line {
	used := usedLabels(lines)

	out := make([]bytecode.Line, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		cur := lines[i]
		if cur.Inst.Op == bytecode.Apply && i+1 < len(lines) {
			next := lines[i+1]
			if next.Inst.Op == bytecode.Return {
				fused := bytecode.Line{
					Inst: bytecode.Instruction{
						Op: bytecode.AppTerm,
						N:  cur.Inst.N,
						M:  next.Inst.N + cur.Inst.N,
					},
				}
				if next.Label != "" && used[next.Label] {
					fused.Label = next.Label
				}
				out = append(out, fused)
				i++ // consume the Return too
				continue
			}
		}
		out = append(out, cur)
	}
	return out
}

// usedLabels collects every label named as a branch or closure target
// anywhere in the program.
func usedLabels(lines []bytecode.Line) map[string]bool {
	used := make(map[string]bool)
	for _, line := range lines {
		switch line.Inst.Op {
		case bytecode.Branch, bytecode.BranchIfNot, bytecode.Closure, bytecode.ClosureRec:
			used[line.Inst.Label] = true
		}
	}
	return used
}
