package linker

import (
	"debug/elf"

	"github.com/ksco/mold/pkg/utils"
)

type GotSection struct {
	Chunk
	GotSyms   []*Symbol
	GotTpSyms []*Symbol
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotSection) AddGotSymbol(ctx *Context, sym *Symbol) {
	sym.SetGotIdx(ctx, int32(g.Shdr.Size/8))
	g.Shdr.Size += 8
	g.GotSyms = append(g.GotSyms, sym)
}

func (g *GotSection) AddGotTpSymbol(ctx *Context, sym *Symbol) {
	sym.SetGotTpIdx(ctx, int32(g.Shdr.Size/8))
	g.Shdr.Size += 8
	g.GotTpSyms = append(g.GotTpSyms, sym)
}

// GetEntries splits GOT slots into link-time constants and slots the
// dynamic loader must fill. Imported symbols get an R_RISCV_64 entry in
// .rela.dyn; locally-resolved ones get their address baked in.
func (g *GotSection) GetEntries(ctx *Context) []GotEntry {
	entries := make([]GotEntry, 0)
	for _, sym := range g.GotSyms {
		idx := sym.GetGotIdx(ctx)
		if sym.IsImported {
			entries = append(entries,
				NewGotEntry(int64(idx), 0, int64(elf.R_RISCV_64), sym))
			continue
		}
		entries = append(entries,
			NewGotEntry(int64(idx), sym.GetAddr(ctx), int64(elf.R_RISCV_NONE), sym))
	}

	for _, sym := range g.GotTpSyms {
		idx := sym.GetGotTpIdx(ctx)
		entries = append(entries,
			NewGotEntry(int64(idx), sym.GetAddr(ctx)-ctx.TpAddr,
				int64(elf.R_RISCV_NONE), sym))
	}

	return entries
}

func (g *GotSection) GetNumDynrel(ctx *Context) int64 {
	n := int64(0)
	for _, ent := range g.GetEntries(ctx) {
		if ent.IsRel() {
			n++
		}
	}
	return n
}

func (g *GotSection) UpdateShdr(ctx *Context) {
	if g.Shdr.Size == 0 {
		g.Shdr.Size = 8
	}
}

func (g *GotSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	for i := uint64(0); i < g.Shdr.Size; i++ {
		buf[i] = 0
	}

	for _, ent := range g.GetEntries(ctx) {
		if !ent.IsRel() {
			utils.Write[uint64](buf[ent.Idx*8:], ent.Val)
		}
	}
}

// GotPltSection backs lazy PLT binding. Slot 0 holds the address of the
// runtime resolver and slot 1 the link map, both filled by the loader;
// the per-symbol slots start out pointing back at the PLT header so the
// first call goes through the resolver.
type GotPltSection struct {
	Chunk
}

func NewGotPltSection() *GotPltSection {
	g := &GotPltSection{Chunk: NewChunk()}
	g.Name = ".got.plt"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotPltSection) UpdateShdr(ctx *Context) {
	if len(ctx.Plt.Symbols) == 0 {
		return
	}
	g.Shdr.Size = GotPltHdrSize + uint64(len(ctx.Plt.Symbols))*8
}

func (g *GotPltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	utils.Write[uint64](buf, 0)
	utils.Write[uint64](buf[8:], 0)

	for _, sym := range ctx.Plt.Symbols {
		offset := GotPltHdrSize + uint64(sym.GetPltIdx(ctx))*8
		utils.Write[uint64](buf[offset:], ctx.Plt.Shdr.Addr)
	}
}
