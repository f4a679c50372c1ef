package linker

import (
	"debug/elf"

	"github.com/ksco/mold/pkg/utils"
	"github.com/pkg/errors"
)

// EhFrameSection collects input .eh_frame pieces into one output chunk.
// Unwind tables use their own narrow relocation model (applyEhReloc);
// their relocations never go through the general scanner or applier.
type EhFrameSection struct {
	Chunk
	Members []*InputSection
}

func NewEhFrameSection() *EhFrameSection {
	e := &EhFrameSection{Chunk: NewChunk()}
	e.Name = ".eh_frame"
	e.Shdr.Type = uint32(elf.SHT_PROGBITS)
	e.Shdr.Flags = uint64(elf.SHF_ALLOC)
	e.Shdr.AddrAlign = 8
	return e
}

func (e *EhFrameSection) UpdateShdr(ctx *Context) {
	offset := uint64(0)
	for _, isec := range e.Members {
		offset = utils.AlignTo(offset, 1<<isec.P2Align)
		isec.Offset = uint32(offset)
		offset += uint64(isec.ShSize)
	}
	e.Shdr.Size = offset
}

func (e *EhFrameSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[e.Shdr.Offset:]

	for _, isec := range e.Members {
		copy(buf[isec.Offset:], isec.Contents)

		for i := 0; i < len(isec.GetRels()); i++ {
			rel := &isec.GetRels()[i]
			if rel.Type == uint32(elf.R_RISCV_NONE) {
				continue
			}

			sym := isec.File.Symbols[rel.Sym]
			if sym.File == nil {
				ctx.Error(errors.Errorf("undefined symbol: %s", sym.Name))
				continue
			}

			offset := uint64(isec.Offset) + rel.Offset
			val := sym.GetAddr(ctx) + uint64(rel.Addend)
			applyEhReloc(ctx, rel, e.Shdr.Addr, buf[offset:], offset, val)
		}
	}
}
