package linker

import "debug/elf"

// A GotEntry is either a link-time constant (Type == R_RISCV_NONE) baked
// into the slot, or a dynamic relocation the loader resolves against Sym.
type GotEntry struct {
	Idx  int64
	Val  uint64
	Type int64
	Sym  *Symbol
}

func NewGotEntry(idx int64, val uint64, typ int64, sym *Symbol) GotEntry {
	e := GotEntry{
		Idx:  idx,
		Val:  val,
		Type: typ,
		Sym:  sym,
	}
	return e
}

func (e *GotEntry) IsRel() bool {
	return e.Type != int64(elf.R_RISCV_NONE)
}
