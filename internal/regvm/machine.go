/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package regvm implements a register-based bytecode virtual machine that executes
// one opcode at a time, so a debugger can observe it between steps.
package regvm

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/microsoft/vmdbg/internal/vm"
)

// MaxMemory is the largest number of memory words a program may address.
const MaxMemory = 1 << 16

// BlackBoxSolver evaluates black box functions on behalf of the machine.
type BlackBoxSolver interface {
	Solve(function string, inputs []uint256.Int) (uint256.Int, error)
}

var errNoSolver = errors.New("no black box solver is available")

type pendingForeignCall struct {
	function string
	dst      int
	inputs   []uint256.Int
}

type Machine struct {
	program   Program
	registers []uint256.Int
	memory    []uint256.Int
	pc        uint64
	callStack []uint64

	// terminal is set once the machine finished or failed; further steps report it again.
	terminal *vm.Outcome

	pending  *pendingForeignCall
	solver   BlackBoxSolver
	foreign  ForeignCallHandler
	output   []string
	executed uint64
}

type Option func(*Machine)

// WithSolver sets the solver used by blackbox opcodes.
func WithSolver(s BlackBoxSolver) Option {
	return func(m *Machine) {
		m.solver = s
	}
}

// WithForeignCallHandler installs a handler consulted for foreign functions
// that are not built into the machine.
func WithForeignCallHandler(h ForeignCallHandler) Option {
	return func(m *Machine) {
		m.foreign = h
	}
}

// New creates a machine positioned at the first instruction of the program.
// The register and memory slices are copied.
func New(program Program, registers []uint256.Int, memory []uint256.Int, opts ...Option) *Machine {
	m := &Machine{
		program:   program,
		registers: append([]uint256.Int(nil), registers...),
		memory:    append([]uint256.Int(nil), memory...),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ vm.Machine = (*Machine)(nil)
var _ vm.ProgramSizer = (*Machine)(nil)
var _ vm.OutputSource = (*Machine)(nil)

func (m *Machine) ProgramCounter() uint64 {
	return m.pc
}

func (m *Machine) Registers() []uint256.Int {
	return append([]uint256.Int(nil), m.registers...)
}

func (m *Machine) Memory() []uint256.Int {
	return append([]uint256.Int(nil), m.memory...)
}

func (m *Machine) ProgramLen() int {
	return len(m.program)
}

// Executed returns the number of opcodes that completed.
func (m *Machine) Executed() uint64 {
	return m.executed
}

func (m *Machine) DrainOutput() []string {
	out := m.output
	m.output = nil
	return out
}

func (m *Machine) ProcessOpcode() vm.Outcome {
	if m.terminal != nil {
		return *m.terminal
	}

	if m.pending != nil {
		return m.resolveForeignCall()
	}

	if m.pc >= uint64(len(m.program)) {
		return m.finish()
	}

	in := &m.program[m.pc]
	regs := m.registers

	switch in.Op {
	case CONST:
		regs[in.Dst] = in.Value
	case MOV:
		regs[in.Dst] = regs[in.A]
	case NOT:
		regs[in.Dst].Not(&regs[in.A])

	case ADD, SUB, MUL, DIV, MOD, EQ, LT, LTE, AND, OR, XOR, SHL, SHR:
		if failure := m.binary(in); failure != nil {
			return *failure
		}

	case JMP:
		m.pc = in.Target
		return m.progress()
	case JMPIF, JMPIFNOT:
		taken := !regs[in.A].IsZero()
		if in.Op == JMPIFNOT {
			taken = !taken
		}
		if taken {
			m.pc = in.Target
			return m.progress()
		}

	case LOAD:
		addr, ok := m.address(&regs[in.A], false)
		if !ok {
			return m.fail("memory load out of bounds at address %s", regs[in.A].Dec())
		}
		regs[in.Dst] = m.memory[addr]
	case STORE:
		addr, ok := m.address(&regs[in.A], true)
		if !ok {
			return m.fail("memory store out of bounds at address %s", regs[in.A].Dec())
		}
		m.memory[addr] = regs[in.B]

	case CALL:
		m.callStack = append(m.callStack, m.pc)
		m.pc = in.Target
		return m.progress()
	case RETURN:
		if len(m.callStack) == 0 {
			return m.fail("return opcode hit, but the call stack is already empty")
		}
		m.pc = m.callStack[len(m.callStack)-1] + 1
		m.callStack = m.callStack[:len(m.callStack)-1]
		return m.progress()

	case FOREIGN:
		m.pending = &pendingForeignCall{
			function: in.Function,
			dst:      in.Dst,
			inputs:   m.gather(in.Args),
		}
		return vm.AwaitingForeignCall()

	case BLACKBOX:
		if m.solver == nil {
			return m.fail("blackbox %s: %v", in.Function, errNoSolver)
		}
		res, solveErr := m.solver.Solve(in.Function, m.gather(in.Args))
		if solveErr != nil {
			return m.fail("blackbox %s: %v", in.Function, solveErr)
		}
		if in.Dst != NoRegister {
			regs[in.Dst] = res
		}

	case TRAP:
		return m.fail("explicit trap hit at address %d", m.pc)
	case STOP:
		return m.finish()

	default:
		return m.fail("invalid opcode %s at address %d", in.Op, m.pc)
	}

	m.pc++
	return m.progress()
}

func (m *Machine) binary(in *Instruction) *vm.Outcome {
	a, b := &m.registers[in.A], &m.registers[in.B]
	var res uint256.Int

	switch in.Op {
	case ADD:
		res.Add(a, b)
	case SUB:
		res.Sub(a, b)
	case MUL:
		res.Mul(a, b)
	case DIV, MOD:
		if b.IsZero() {
			failure := m.fail("attempted to divide by zero at address %d", m.pc)
			return &failure
		}
		if in.Op == DIV {
			res.Div(a, b)
		} else {
			res.Mod(a, b)
		}
	case EQ:
		res.SetUint64(boolWord(a.Eq(b)))
	case LT:
		res.SetUint64(boolWord(a.Lt(b)))
	case LTE:
		res.SetUint64(boolWord(!a.Gt(b)))
	case AND:
		res.And(a, b)
	case OR:
		res.Or(a, b)
	case XOR:
		res.Xor(a, b)
	case SHL, SHR:
		shift := uint(256)
		if b.IsUint64() && b.Uint64() < 256 {
			shift = uint(b.Uint64())
		}
		if shift < 256 {
			if in.Op == SHL {
				res.Lsh(a, shift)
			} else {
				res.Rsh(a, shift)
			}
		}
	}

	m.registers[in.Dst] = res
	return nil
}

// address converts a word to a memory index. Stores may grow memory up to MaxMemory.
func (m *Machine) address(w *uint256.Int, grow bool) (uint64, bool) {
	if !w.IsUint64() || w.Uint64() >= MaxMemory {
		return 0, false
	}
	addr := w.Uint64()
	if addr >= uint64(len(m.memory)) {
		if !grow {
			return 0, false
		}
		m.memory = append(m.memory, make([]uint256.Int, addr+1-uint64(len(m.memory)))...)
	}
	return addr, true
}

func (m *Machine) gather(args []int) []uint256.Int {
	inputs := make([]uint256.Int, len(args))
	for i, r := range args {
		inputs[i] = m.registers[r]
	}
	return inputs
}

func (m *Machine) progress() vm.Outcome {
	m.executed++
	return vm.Progressing()
}

func (m *Machine) finish() vm.Outcome {
	done := vm.Done()
	m.terminal = &done
	return done
}

func (m *Machine) fail(format string, args ...any) vm.Outcome {
	failure := vm.Failure(format, args...)
	m.terminal = &failure
	return failure
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (m *Machine) String() string {
	return fmt.Sprintf("regvm(pc=%d, program=%d opcodes, registers=%d, memory=%d)", m.pc, len(m.program), len(m.registers), len(m.memory))
}
