/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

// Breakpoint is an armed pause point. Breakpoints are address granular:
// the line number of a source breakpoint is taken as the instruction address.
type Breakpoint struct {
	Address uint64
}

// BreakpointFromLine maps a requested line to a breakpoint.
// Negative lines do not name an instruction and are rejected.
func BreakpointFromLine(line int) (Breakpoint, bool) {
	if line < 0 {
		return Breakpoint{}, false
	}
	return Breakpoint{Address: uint64(line)}, true
}

// BreakpointTable holds the breakpoints of a session.
// Entries are kept as given, duplicates included.
type BreakpointTable struct {
	entries []Breakpoint
}

func NewBreakpointTable() *BreakpointTable {
	return &BreakpointTable{}
}

// Replace clears the table and arms a breakpoint for every line that maps to an address.
// The result reports, per requested line, whether a breakpoint was armed.
func (t *BreakpointTable) Replace(lines []int) []bool {
	t.entries = t.entries[:0]
	armed := make([]bool, len(lines))
	for i, line := range lines {
		if bp, ok := BreakpointFromLine(line); ok {
			t.entries = append(t.entries, bp)
			armed[i] = true
		}
	}
	return armed
}

// Matches returns true if any breakpoint sits at the given program counter.
func (t *BreakpointTable) Matches(pc uint64) bool {
	for _, bp := range t.entries {
		if bp.Address == pc {
			return true
		}
	}
	return false
}

func (t *BreakpointTable) Addresses() []uint64 {
	addrs := make([]uint64, len(t.entries))
	for i, bp := range t.entries {
		addrs[i] = bp.Address
	}
	return addrs
}

func (t *BreakpointTable) Len() int {
	return len(t.entries)
}
