package linker

import (
	"debug/elf"

	"github.com/ksco/mold/pkg/utils"
)

// RelDynSection is the .rela.dyn table. Every writer's range is reserved
// up front: copy relocations and dynamic GOT entries first, then one
// contiguous range per object file sized by its scan-phase dynrel count.
// The apply phase then fills section sub-ranges without any locking.
type RelDynSection struct {
	Chunk
}

func NewRelDynSection() *RelDynSection {
	r := &RelDynSection{Chunk: NewChunk()}
	r.Name = ".rela.dyn"
	r.Shdr.Type = uint32(elf.SHT_RELA)
	r.Shdr.Flags = uint64(elf.SHF_ALLOC)
	r.Shdr.AddrAlign = 8
	r.Shdr.EntSize = RelaSize
	return r
}

func (r *RelDynSection) UpdateShdr(ctx *Context) {
	offset := uint64(len(ctx.Copyrel.Symbols)) * RelaSize
	offset += uint64(ctx.Got.GetNumDynrel(ctx)) * RelaSize

	for _, file := range ctx.Objs {
		file.ReldynOffset = offset
		offset += uint64(file.NumDynrel) * RelaSize
	}

	r.Shdr.Size = offset
}

func (r *RelDynSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[r.Shdr.Offset:]

	for _, sym := range ctx.Copyrel.Symbols {
		utils.Write[Rela](buf, Rela{
			Offset: sym.GetAddr(ctx),
			Type:   uint32(elf.R_RISCV_COPY),
			Sym:    uint32(sym.GetDynsymIdx(ctx)),
			Addend: 0,
		})
		buf = buf[RelaSize:]
	}

	for _, ent := range ctx.Got.GetEntries(ctx) {
		if !ent.IsRel() {
			continue
		}
		utils.Write[Rela](buf, Rela{
			Offset: ctx.Got.Shdr.Addr + uint64(ent.Idx)*8,
			Type:   uint32(ent.Type),
			Sym:    uint32(ent.Sym.GetDynsymIdx(ctx)),
			Addend: int64(ent.Val),
		})
		buf = buf[RelaSize:]
	}

	// Per-file ranges are written by ApplyRelocAlloc.
}
