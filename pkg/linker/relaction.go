package linker

import (
	"debug/elf"

	"github.com/pkg/errors"
)

type Action = uint8

const (
	ActionNone Action = iota
	// Emit an R_RISCV_RELATIVE entry; the loader only adds the load bias.
	ActionBaserel
	// Emit an R_RISCV_64 entry against the dynamic symbol; the loader
	// supplies the whole address.
	ActionDynrel
	// Copy the DSO symbol's data into the executable image.
	ActionCopyrel
	ActionPlt
	ActionError
)

// Each absolute-value relocation family picks its auxiliary structure from
// a {output type} x {symbol class} table. Rows: DSO, PIE, PDE. Columns:
// absolute symbol, local, imported data, imported function.

var relActionAbs32 = [3][4]Action{
	{ActionNone, ActionNone, ActionError, ActionError},
	{ActionNone, ActionNone, ActionCopyrel, ActionPlt},
	{ActionNone, ActionNone, ActionCopyrel, ActionPlt},
}

var relActionAbs64 = [3][4]Action{
	{ActionNone, ActionBaserel, ActionDynrel, ActionDynrel},
	{ActionNone, ActionBaserel, ActionDynrel, ActionDynrel},
	{ActionNone, ActionNone, ActionCopyrel, ActionPlt},
}

var relActionPcrel32 = [3][4]Action{
	{ActionError, ActionNone, ActionError, ActionError},
	{ActionError, ActionNone, ActionCopyrel, ActionPlt},
	{ActionNone, ActionNone, ActionCopyrel, ActionPlt},
}

func getSymClass(sym *Symbol) int {
	if sym.IsAbsolute() {
		return 0
	}
	if !sym.IsImported {
		return 1
	}
	if sym.GetType() == uint8(elf.STT_FUNC) {
		return 3
	}
	return 2
}

func (s *InputSection) dispatch(ctx *Context, table [3][4]Action, i int,
	rel *Rela, sym *Symbol) {
	action := table[ctx.GetOutputType()][getSymClass(sym)]

	isWritable := s.Shdr().Flags&uint64(elf.SHF_WRITE) != 0
	checkTextrel := func() bool {
		if !isWritable {
			ctx.Error(errors.Errorf(
				"%s: relocation %v against %s in a read-only section; "+
					"recompile with -fPIC", s.Name(),
				elf.R_RISCV(rel.Type), symName(sym)))
			return false
		}
		return true
	}

	switch action {
	case ActionNone:
	case ActionBaserel:
		if checkTextrel() {
			s.NeedsBaserel[i] = true
			s.File.NumDynrel++
		}
	case ActionDynrel:
		if checkTextrel() {
			sym.SetFlags(NEEDS_DYNREL)
			s.NeedsDynrel[i] = true
			s.File.NumDynrel++
		}
	case ActionCopyrel:
		sym.SetFlags(NEEDS_COPYREL)
	case ActionPlt:
		sym.SetFlags(NEEDS_PLT)
	case ActionError:
		ctx.Error(errors.Errorf(
			"%s: relocation %v against %s can not be used when making a "+
				"shared object; recompile with -fPIC",
			s.Name(), elf.R_RISCV(rel.Type), symName(sym)))
	}
}

func symName(sym *Symbol) string {
	if sym.Name == "" {
		return "<local>"
	}
	return sym.Name
}
