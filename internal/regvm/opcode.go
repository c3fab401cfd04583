/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package regvm

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

type OpCode byte

const (
	CONST OpCode = iota
	MOV
	ADD
	SUB
	MUL
	DIV
	MOD
	EQ
	LT
	LTE
	AND
	OR
	XOR
	SHL
	SHR
	NOT
	JMP
	JMPIF
	JMPIFNOT
	LOAD
	STORE
	CALL
	RETURN
	FOREIGN
	BLACKBOX
	TRAP
	STOP
)

var opCodeNames = map[OpCode]string{
	CONST:    "const",
	MOV:      "mov",
	ADD:      "add",
	SUB:      "sub",
	MUL:      "mul",
	DIV:      "div",
	MOD:      "mod",
	EQ:       "eq",
	LT:       "lt",
	LTE:      "lte",
	AND:      "and",
	OR:       "or",
	XOR:      "xor",
	SHL:      "shl",
	SHR:      "shr",
	NOT:      "not",
	JMP:      "jmp",
	JMPIF:    "jmpif",
	JMPIFNOT: "jmpifnot",
	LOAD:     "load",
	STORE:    "store",
	CALL:     "call",
	RETURN:   "return",
	FOREIGN:  "foreign",
	BLACKBOX: "blackbox",
	TRAP:     "trap",
	STOP:     "stop",
}

var opCodesByName = func() map[string]OpCode {
	m := make(map[string]OpCode, len(opCodeNames))
	for op, name := range opCodeNames {
		m[name] = op
	}
	return m
}()

func (op OpCode) String() string {
	if name, found := opCodeNames[op]; found {
		return name
	}
	return fmt.Sprintf("opcode(%#x)", byte(op))
}

// LookupOpCode maps a mnemonic to its opcode.
func LookupOpCode(mnemonic string) (OpCode, bool) {
	op, found := opCodesByName[strings.ToLower(mnemonic)]
	return op, found
}

// IsBinary returns true for opcodes of the form "op dst a b".
func (op OpCode) IsBinary() bool {
	return op >= ADD && op <= SHR
}

// IsJump returns true for opcodes that carry a jump target.
func (op OpCode) IsJump() bool {
	return op == JMP || op == JMPIF || op == JMPIFNOT || op == CALL
}

// NoRegister marks an unused register operand.
const NoRegister = -1

// Instruction is a single decoded opcode with its operands.
// Which operands are meaningful depends on Op.
type Instruction struct {
	Op       OpCode
	Dst      int
	A        int
	B        int
	Args     []int
	Value    uint256.Int
	Target   uint64
	Function string

	// Line is the 1-based source line the instruction was assembled from (0 if unknown).
	Line int
}

func (in Instruction) String() string {
	reg := func(r int) string { return fmt.Sprintf("r%d", r) }

	switch {
	case in.Op == CONST:
		return fmt.Sprintf("%s %s %s", in.Op, reg(in.Dst), in.Value.Dec())
	case in.Op == MOV || in.Op == NOT || in.Op == LOAD:
		return fmt.Sprintf("%s %s %s", in.Op, reg(in.Dst), reg(in.A))
	case in.Op == STORE:
		return fmt.Sprintf("%s %s %s", in.Op, reg(in.A), reg(in.B))
	case in.Op.IsBinary():
		return fmt.Sprintf("%s %s %s %s", in.Op, reg(in.Dst), reg(in.A), reg(in.B))
	case in.Op == JMP || in.Op == CALL:
		return fmt.Sprintf("%s %d", in.Op, in.Target)
	case in.Op == JMPIF || in.Op == JMPIFNOT:
		return fmt.Sprintf("%s %s %d", in.Op, reg(in.A), in.Target)
	case in.Op == FOREIGN || in.Op == BLACKBOX:
		parts := []string{in.Op.String(), in.Function}
		if in.Dst != NoRegister {
			parts = append(parts, reg(in.Dst))
		} else {
			parts = append(parts, "_")
		}
		for _, a := range in.Args {
			parts = append(parts, reg(a))
		}
		return strings.Join(parts, " ")
	default:
		return in.Op.String()
	}
}

// Registers returns every register index the instruction refers to.
func (in Instruction) Registers() []int {
	var regs []int
	add := func(r int) {
		if r != NoRegister {
			regs = append(regs, r)
		}
	}

	switch {
	case in.Op == CONST:
		add(in.Dst)
	case in.Op == MOV || in.Op == NOT || in.Op == LOAD:
		add(in.Dst)
		add(in.A)
	case in.Op == STORE:
		add(in.A)
		add(in.B)
	case in.Op.IsBinary():
		add(in.Dst)
		add(in.A)
		add(in.B)
	case in.Op == JMPIF || in.Op == JMPIFNOT:
		add(in.A)
	case in.Op == FOREIGN || in.Op == BLACKBOX:
		add(in.Dst)
		for _, a := range in.Args {
			add(a)
		}
	}

	return regs
}

// Program is a sequence of instructions; the address of an instruction is its index.
type Program []Instruction

// Validate checks that all register operands fit a register file of the given size
// and that every jump target lies inside the program.
func (p Program) Validate(numRegisters int) error {
	for addr, in := range p {
		for _, r := range in.Registers() {
			if r < 0 || r >= numRegisters {
				return fmt.Errorf("instruction %d (%s) refers to register r%d, but only %d registers exist", addr, in, r, numRegisters)
			}
		}
		if in.Op.IsJump() && in.Target >= uint64(len(p)) {
			return fmt.Errorf("instruction %d (%s) jumps outside of the program", addr, in)
		}
	}
	return nil
}
