package linker

import (
	"debug/elf"
)

// PltSection holds the lazy-binding stubs: one shared header plus one
// 4-instruction entry per imported function. Slot indices are assigned at
// scan time and never move, so entry addresses are stable across layout.
type PltSection struct {
	Chunk
	Symbols []*Symbol
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetPltIdx(ctx, int32(len(p.Symbols)))
	p.Symbols = append(p.Symbols, sym)
	p.Shdr.Size = PltHdrSize + uint64(len(p.Symbols))*PltEntrySize
}

func (p *PltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[p.Shdr.Offset:]
	writePltHeader(ctx, buf)
	for _, sym := range p.Symbols {
		writePltEntry(ctx, buf, sym)
	}
}

// PltGotSection holds the non-lazy stubs for symbols that already have a
// regular GOT slot; no resolver round-trip, no .got.plt slot.
type PltGotSection struct {
	Chunk
	Symbols []*Symbol
}

func NewPltGotSection() *PltGotSection {
	p := &PltGotSection{Chunk: NewChunk()}
	p.Name = ".plt.got"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltGotSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetPltGotIdx(ctx, int32(len(p.Symbols)))
	p.Symbols = append(p.Symbols, sym)
	p.Shdr.Size = uint64(len(p.Symbols)) * PltEntrySize
}

func (p *PltGotSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[p.Shdr.Offset:]
	for _, sym := range p.Symbols {
		writePltGotEntry(ctx, buf, sym)
	}
}
