// Package loader reads a textual ZAM listing (spec.md §6.2) into an
// ordered sequence of bytecode.Line values.
//
// Grammar: a line without a leading tab begins a label — its first token
// ends with ':', which is stripped before the opcode is read. A tab-led
// line is unlabeled. Scalar operands are a single token; composite
// operands (CLOSURE, CLOSUREREC, APPTERM) are a comma-joined pair with no
// internal whitespace. Any other non-empty line is instruction-bearing;
// blank lines are skipped.
package loader

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/kristofer/zam/pkg/bytecode"
	"github.com/kristofer/zam/pkg/lexer"
)

// Load parses a complete listing from r.
func Load(r io.Reader) ([]bytecode.Line, error) {
	var lines []bytecode.Line

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}

		line, err := parseLine(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "listing line %d", lineNo)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading listing")
	}

	if err := checkGrabRestart(lines); err != nil {
		return nil, err
	}

	return lines, nil
}

// parseLine decodes one non-blank line into a bytecode.Line.
func parseLine(raw string) (bytecode.Line, error) {
	labeled := !strings.HasPrefix(raw, "\t")

	l := lexer.New(raw)
	words := tokenWords(l)
	if len(words) == 0 {
		return bytecode.Line{}, errors.New("empty instruction line")
	}

	var label string
	if labeled {
		first := words[0]
		if !strings.HasSuffix(first, ":") {
			return bytecode.Line{}, errors.Errorf("expected label ending in ':', got %q", first)
		}
		label = strings.TrimSuffix(first, ":")
		words = words[1:]
		if len(words) == 0 {
			return bytecode.Line{}, errors.Errorf("label %q has no instruction", label)
		}
	}

	inst, err := parseInstruction(words)
	if err != nil {
		return bytecode.Line{}, err
	}
	return bytecode.Line{Label: label, Inst: inst}, nil
}

func tokenWords(l *lexer.Lexer) []string {
	var words []string
	for {
		tok := l.NextToken()
		if tok.Type == lexer.TokenEOF {
			return words
		}
		words = append(words, tok.Literal)
	}
}

// parseInstruction decodes an opcode token plus its operand token(s).
func parseInstruction(words []string) (bytecode.Instruction, error) {
	op := words[0]
	operand := ""
	if len(words) > 1 {
		operand = words[1]
	}

	switch op {
	case "CONST":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Const, N: n}, err
	case "PRIM":
		if operand == "" {
			return bytecode.Instruction{}, errors.New("PRIM requires a primitive name")
		}
		return bytecode.Instruction{Op: bytecode.Prim, PrimName: operand}, nil
	case "PUSH":
		return bytecode.Instruction{Op: bytecode.Push}, nil
	case "POP":
		return bytecode.Instruction{Op: bytecode.Pop}, nil
	case "ACC":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Acc, N: n}, err
	case "ENVACC":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Envacc, N: n}, err
	case "BRANCH":
		if operand == "" {
			return bytecode.Instruction{}, errors.New("BRANCH requires a label")
		}
		return bytecode.Instruction{Op: bytecode.Branch, Label: operand}, nil
	case "BRANCHIFNOT":
		if operand == "" {
			return bytecode.Instruction{}, errors.New("BRANCHIFNOT requires a label")
		}
		return bytecode.Instruction{Op: bytecode.BranchIfNot, Label: operand}, nil
	case "CLOSURE":
		label, n, err := labelAndInt(operand)
		return bytecode.Instruction{Op: bytecode.Closure, Label: label, N: n}, err
	case "CLOSUREREC":
		label, n, err := labelAndInt(operand)
		return bytecode.Instruction{Op: bytecode.ClosureRec, Label: label, N: n}, err
	case "OFFSETCLOSURE":
		return bytecode.Instruction{Op: bytecode.OffSetClosure}, nil
	case "APPLY":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Apply, N: n}, err
	case "RETURN":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Return, N: n}, err
	case "APPTERM":
		n, m, err := intPair(operand)
		return bytecode.Instruction{Op: bytecode.AppTerm, N: n, M: m}, err
	case "GRAB":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Grab, N: n}, err
	case "RESTART":
		return bytecode.Instruction{Op: bytecode.Restart}, nil
	case "STOP":
		return bytecode.Instruction{Op: bytecode.Stop}, nil
	case "MAKEBLOCK":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.MakeBlock, N: n}, err
	case "GETFIELD":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.GetField, N: n}, err
	case "SETFIELD":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.SetField, N: n}, err
	case "VECTLENGTH":
		return bytecode.Instruction{Op: bytecode.VecLength}, nil
	case "GETVECTITEM":
		return bytecode.Instruction{Op: bytecode.GetVectItem}, nil
	case "SETVECTITEM":
		return bytecode.Instruction{Op: bytecode.SetVectItem}, nil
	case "ASSIGN":
		n, err := scalarInt(operand)
		return bytecode.Instruction{Op: bytecode.Assign, N: n}, err
	default:
		return bytecode.Instruction{}, errors.Errorf("unknown opcode %q", op)
	}
}

func scalarInt(tok string) (int64, error) {
	if tok == "" {
		return 0, errors.New("missing integer operand")
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid integer operand %q", tok)
	}
	return n, nil
}

func labelAndInt(tok string) (string, int64, error) {
	parts := strings.SplitN(tok, ",", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, errors.Errorf("expected LABEL,n operand, got %q", tok)
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid arity in %q", tok)
	}
	return parts[0], n, nil
}

func intPair(tok string) (int64, int64, error) {
	parts := strings.SplitN(tok, ",", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("expected n,m operand, got %q", tok)
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid first operand in %q", tok)
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid second operand in %q", tok)
	}
	return n, m, nil
}

// checkGrabRestart enforces the invariant spec.md §9 calls out explicitly:
// a Grab instruction resumes execution one instruction before itself, which
// only makes sense if that instruction is a Restart.
func checkGrabRestart(lines []bytecode.Line) error {
	for i, line := range lines {
		if line.Inst.Op != bytecode.Grab {
			continue
		}
		if i == 0 || lines[i-1].Inst.Op != bytecode.Restart {
			return errors.Errorf("GRAB at code index %d must be immediately preceded by RESTART", i)
		}
	}
	return nil
}
