/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package compiler turns register VM assembly into an executable program together
// with the initial register and memory state.
//
// The source format is line oriented:
//
//	; comments run to the end of the line
//	.registers 4          ; size of the register file (default 16)
//	.memory 1 2 0x10      ; initial memory words, may be repeated
//	.init r0 5            ; initial register value
//	loop:                 ; label, may prefix an instruction
//	    add r1 r1 r0
//	    jmpif r1 loop
//	    stop
//
// The address of an instruction is its position in the program, starting at 0.
package compiler

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/microsoft/vmdbg/internal/regvm"
)

const (
	DefaultRegisters = 16
	MaxRegisters     = 1024
)

// Artifact is the result of a successful compilation.
type Artifact struct {
	Source    string
	Program   regvm.Program
	Registers []uint256.Int
	Memory    []uint256.Int
}

// Compile reads and assembles the file at path.
func Compile(path string) (*Artifact, error) {
	src, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, &DiagnosticsError{Diagnostics: []Diagnostic{{
			File:    path,
			Message: fmt.Sprintf("could not read source file: %v", readErr),
		}}}
	}
	return CompileSource(path, src)
}

type pendingTarget struct {
	index int
	label string
	line  int
}

type assembler struct {
	file         string
	program      regvm.Program
	numRegisters int
	registersSet bool
	inits        map[int]uint256.Int
	initLines    map[int]int
	memory       []uint256.Int
	labels       map[string]uint64
	targets      []pendingTarget
	diags        []Diagnostic
}

// CompileSource assembles src; name is used in diagnostics.
// All problems found in the source are reported together.
func CompileSource(name string, src []byte) (*Artifact, error) {
	a := &assembler{
		file:         name,
		numRegisters: DefaultRegisters,
		inits:        map[int]uint256.Int{},
		initLines:    map[int]int{},
		labels:       map[string]uint64{},
	}

	scanner := bufio.NewScanner(bytes.NewReader(src))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		a.line(lineNo, scanner.Text())
	}
	if scanErr := scanner.Err(); scanErr != nil {
		a.errorf(lineNo, "could not read source: %v", scanErr)
	}

	a.resolveTargets()
	a.checkRegisters()

	if len(a.program) == 0 && len(a.diags) == 0 {
		a.errorf(0, "program has no instructions")
	}

	if len(a.diags) > 0 {
		return nil, &DiagnosticsError{Diagnostics: a.diags}
	}

	registers := make([]uint256.Int, a.numRegisters)
	for r, v := range a.inits {
		registers[r] = v
	}

	return &Artifact{
		Source:    name,
		Program:   a.program,
		Registers: registers,
		Memory:    a.memory,
	}, nil
}

func (a *assembler) errorf(line int, format string, args ...any) {
	a.diags = append(a.diags, Diagnostic{File: a.file, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (a *assembler) line(lineNo int, text string) {
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if i := strings.IndexByte(text, ':'); i > 0 && isIdentifier(text[:i]) {
		label := text[:i]
		if _, dup := a.labels[label]; dup {
			a.errorf(lineNo, "label '%s' is defined more than once", label)
		} else {
			a.labels[label] = uint64(len(a.program))
		}
		text = strings.TrimSpace(text[i+1:])
		if text == "" {
			return
		}
	}

	fields := strings.Fields(text)
	if strings.HasPrefix(fields[0], ".") {
		a.directive(lineNo, fields)
		return
	}

	in, ok := a.instruction(lineNo, fields)
	if ok {
		in.Line = lineNo
		a.program = append(a.program, in)
	}
}

func (a *assembler) directive(lineNo int, fields []string) {
	switch fields[0] {
	case ".registers":
		if len(fields) != 2 {
			a.errorf(lineNo, ".registers expects exactly one argument")
			return
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 || n > MaxRegisters {
			a.errorf(lineNo, "register count must be between 1 and %d, got '%s'", MaxRegisters, fields[1])
			return
		}
		if a.registersSet {
			a.errorf(lineNo, ".registers may only be given once")
			return
		}
		a.numRegisters = n
		a.registersSet = true

	case ".memory":
		for _, f := range fields[1:] {
			v, ok := a.immediate(lineNo, f)
			if !ok {
				return
			}
			a.memory = append(a.memory, v)
		}
		if len(a.memory) > regvm.MaxMemory {
			a.errorf(lineNo, "initial memory exceeds %d words", regvm.MaxMemory)
		}

	case ".init":
		if len(fields) != 3 {
			a.errorf(lineNo, ".init expects a register and a value")
			return
		}
		r, ok := a.register(lineNo, fields[1])
		if !ok {
			return
		}
		v, ok := a.immediate(lineNo, fields[2])
		if !ok {
			return
		}
		a.inits[r] = v
		a.initLines[r] = lineNo

	default:
		a.errorf(lineNo, "unknown directive '%s'", fields[0])
	}
}

func (a *assembler) instruction(lineNo int, fields []string) (regvm.Instruction, bool) {
	op, found := regvm.LookupOpCode(fields[0])
	if !found {
		a.errorf(lineNo, "unknown opcode '%s'", fields[0])
		return regvm.Instruction{}, false
	}

	in := regvm.Instruction{Op: op, Dst: regvm.NoRegister, A: regvm.NoRegister, B: regvm.NoRegister}
	args := fields[1:]
	ok := true

	expect := func(n int, form string) bool {
		if len(args) != n {
			a.errorf(lineNo, "'%s' expects %s", op, form)
			return false
		}
		return true
	}
	reg := func(s string) int {
		r, valid := a.register(lineNo, s)
		ok = ok && valid
		return r
	}

	switch {
	case op == regvm.CONST:
		if !expect(2, "a register and a value") {
			return in, false
		}
		in.Dst = reg(args[0])
		v, valid := a.immediate(lineNo, args[1])
		in.Value = v
		ok = ok && valid

	case op == regvm.MOV || op == regvm.NOT || op == regvm.LOAD:
		if !expect(2, "two registers") {
			return in, false
		}
		in.Dst = reg(args[0])
		in.A = reg(args[1])

	case op == regvm.STORE:
		if !expect(2, "an address register and a value register") {
			return in, false
		}
		in.A = reg(args[0])
		in.B = reg(args[1])

	case op.IsBinary():
		if !expect(3, "three registers") {
			return in, false
		}
		in.Dst = reg(args[0])
		in.A = reg(args[1])
		in.B = reg(args[2])

	case op == regvm.JMP || op == regvm.CALL:
		if !expect(1, "a jump target") {
			return in, false
		}
		a.target(lineNo, args[0])

	case op == regvm.JMPIF || op == regvm.JMPIFNOT:
		if !expect(2, "a condition register and a jump target") {
			return in, false
		}
		in.A = reg(args[0])
		a.target(lineNo, args[1])

	case op == regvm.FOREIGN || op == regvm.BLACKBOX:
		if len(args) < 2 {
			a.errorf(lineNo, "'%s' expects a function name, a destination register or '_', and argument registers", op)
			return in, false
		}
		in.Function = args[0]
		if !isIdentifier(in.Function) {
			a.errorf(lineNo, "invalid function name '%s'", in.Function)
			ok = false
		}
		if args[1] != "_" {
			in.Dst = reg(args[1])
		}
		for _, name := range args[2:] {
			in.Args = append(in.Args, reg(name))
		}

	default:
		if !expect(0, "no operands") {
			return in, false
		}
	}

	// Jump targets are patched by index, so a rejected jump must not leave a dangling entry.
	if !ok && op.IsJump() {
		a.targets = a.targets[:len(a.targets)-1]
	}

	return in, ok
}

func (a *assembler) register(lineNo int, s string) (int, bool) {
	if len(s) < 2 || (s[0] != 'r' && s[0] != 'R') {
		a.errorf(lineNo, "expected a register, got '%s'", s)
		return regvm.NoRegister, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n >= MaxRegisters {
		a.errorf(lineNo, "invalid register '%s'", s)
		return regvm.NoRegister, false
	}
	return n, true
}

func (a *assembler) immediate(lineNo int, s string) (uint256.Int, bool) {
	var b *big.Int
	var parsed bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, parsed = new(big.Int).SetString(s[2:], 16)
	} else {
		b, parsed = new(big.Int).SetString(s, 10)
	}
	if !parsed || b.Sign() < 0 {
		a.errorf(lineNo, "invalid value '%s'", s)
		return uint256.Int{}, false
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		a.errorf(lineNo, "value '%s' does not fit in 256 bits", s)
		return uint256.Int{}, false
	}
	return *v, true
}

// target records a jump target; labels are resolved once all of them are known.
func (a *assembler) target(lineNo int, s string) {
	a.targets = append(a.targets, pendingTarget{index: len(a.program), label: s, line: lineNo})
}

func (a *assembler) resolveTargets() {
	for _, t := range a.targets {
		var addr uint64
		if n, err := strconv.ParseUint(t.label, 10, 64); err == nil {
			addr = n
		} else if labelAddr, found := a.labels[t.label]; found {
			addr = labelAddr
		} else {
			a.errorf(t.line, "undefined label '%s'", t.label)
			continue
		}
		if addr >= uint64(len(a.program)) {
			a.errorf(t.line, "jump target %d is outside of the program (%d instructions)", addr, len(a.program))
			continue
		}
		if t.index < len(a.program) {
			a.program[t.index].Target = addr
		}
	}
}

func (a *assembler) checkRegisters() {
	for _, in := range a.program {
		for _, r := range in.Registers() {
			if r >= a.numRegisters {
				a.errorf(in.Line, "register r%d does not exist, the program has %d registers", r, a.numRegisters)
			}
		}
	}
	for r, line := range a.initLines {
		if r >= a.numRegisters {
			a.errorf(line, "register r%d does not exist, the program has %d registers", r, a.numRegisters)
		}
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Disassemble renders a program one instruction per line, prefixed with its address.
func Disassemble(program regvm.Program) []string {
	lines := make([]string, len(program))
	for addr, in := range program {
		lines[addr] = fmt.Sprintf("%05d: %s", addr, in)
	}
	return lines
}

// AsDiagnostics extracts the diagnostics carried by a compile error.
func AsDiagnostics(err error) ([]Diagnostic, bool) {
	var diagErr *DiagnosticsError
	if errors.As(err, &diagErr) {
		return diagErr.Diagnostics, true
	}
	return nil, false
}
