package linker

import (
	"debug/elf"

	"github.com/ksco/mold/pkg/utils"
)

// CopyrelSection reserves executable-image space for data symbols
// imported from shared objects when the output cannot defer absolute
// fixups to load time. The loader copies the DSO's initial value here via
// R_RISCV_COPY, and the symbol re-binds to the copy.
type CopyrelSection struct {
	Chunk
	Symbols []*Symbol
}

func NewCopyrelSection() *CopyrelSection {
	c := &CopyrelSection{Chunk: NewChunk()}
	c.Name = ".copyrel"
	c.Shdr.Type = uint32(elf.SHT_NOBITS)
	c.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	c.Shdr.AddrAlign = 64
	return c
}

func (c *CopyrelSection) AddSymbol(ctx *Context, sym *Symbol) {
	if sym.HasCopyrel {
		return
	}

	utils.Assert(sym.IsImported)
	utils.Assert(sym.SymIdx != -1)

	align := uint64(8)
	size := sym.ElfSym().Size
	if size > align {
		align = utils.BitCeil(size)
		if align > uint64(c.Shdr.AddrAlign) {
			align = uint64(c.Shdr.AddrAlign)
		}
	}

	c.Shdr.Size = utils.AlignTo(c.Shdr.Size, align)
	sym.Value = c.Shdr.Size
	sym.HasCopyrel = true
	c.Shdr.Size += size
	c.Symbols = append(c.Symbols, sym)
}
