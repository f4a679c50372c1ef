package linker

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mold/pkg/utils"
)

// RISC-V instruction formats scatter immediate bits across the word. Each
// encoder places a value's bits at their instruction-defined positions;
// each writer masks out exactly the immediate bits of an existing
// instruction and ORs the encoding in, leaving opcode, register and funct
// fields alone.

func itype(val uint32) uint32 {
	return val << 20
}

func stype(val uint32) uint32 {
	return utils.Bits(val, 11, 5)<<25 | utils.Bits(val, 4, 0)<<7
}

func btype(val uint32) uint32 {
	return utils.Bit(val, 12)<<31 | utils.Bits(val, 10, 5)<<25 |
		utils.Bits(val, 4, 1)<<8 | utils.Bit(val, 11)<<7
}

// U-type instructions pair with I-type ones: lui/auipc sets the upper 20
// bits, then an I-type insn sign-extends a 12-bit immediate and adds it.
// 0x800 compensates for that sign-extension, so callers must write the
// same full value to both halves of a pair.
func utype(val uint32) uint32 {
	return (val + 0x800) & 0xffff_f000
}

func jtype(val uint32) uint32 {
	return utils.Bit(val, 20)<<31 | utils.Bits(val, 10, 1)<<21 |
		utils.Bit(val, 11)<<20 | utils.Bits(val, 19, 12)<<12
}

func cbtype(val uint16) uint16 {
	return utils.Bit(val, 8)<<12 | utils.Bit(val, 4)<<11 | utils.Bit(val, 3)<<10 |
		utils.Bit(val, 7)<<6 | utils.Bit(val, 6)<<5 | utils.Bit(val, 2)<<4 |
		utils.Bit(val, 1)<<3 | utils.Bit(val, 5)<<2
}

func cjtype(val uint16) uint16 {
	return utils.Bit(val, 11)<<12 | utils.Bit(val, 4)<<11 | utils.Bit(val, 9)<<10 |
		utils.Bit(val, 8)<<9 | utils.Bit(val, 10)<<8 | utils.Bit(val, 6)<<7 |
		utils.Bit(val, 7)<<6 | utils.Bit(val, 3)<<5 | utils.Bit(val, 2)<<4 |
		utils.Bit(val, 1)<<3 | utils.Bit(val, 5)<<2
}

func writeItype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_11111_111_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|itype(val))
}

func writeStype(loc []byte, val uint32) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|stype(val))
}

func writeBtype(loc []byte, val uint32) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|btype(val))
}

func writeUtype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|utype(val))
}

func writeJtype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|jtype(val))
}

func writeCbtype(loc []byte, val uint16) {
	mask := uint16(0b111_000_111_00000_11)
	utils.Write[uint16](loc, (utils.Read[uint16](loc)&mask)|cbtype(val))
}

func writeCjtype(loc []byte, val uint16) {
	mask := uint16(0b111_00000000000_11)
	utils.Write[uint16](loc, (utils.Read[uint16](loc)&mask)|cjtype(val))
}

func setRs1(loc []byte, rs1 uint32) {
	utils.Write[uint32](loc, utils.Read[uint32](loc)&0b111111_11111_00000_111_11111_1111111)
	utils.Write[uint32](loc, utils.Read[uint32](loc)|(rs1<<15))
}

const PltHdrSize = 32
const PltEntrySize = 16
const GotPltHdrSize = 16

// Lazy-binding PLT header. The first call through any PLT entry lands
// here with t3 = &entry's .got.plt slot; the header computes the entry
// index and jumps to _dl_runtime_resolve via .got.plt[0].
var pltHdrInsns = [8]uint32{
	0x0000_0397, // auipc  t2, %pcrel_hi(.got.plt)
	0x41c3_0333, // sub    t1, t1, t3               # .plt entry + hdr + 12
	0x0003_be03, // ld     t3, %pcrel_lo(1b)(t2)    # _dl_runtime_resolve
	0xfd43_0313, // addi   t1, t1, -44              # .plt entry
	0x0003_8293, // addi   t0, t2, %pcrel_lo(1b)    # &.got.plt
	0x0013_5313, // srli   t1, t1, 1                # .plt entry offset
	0x0082_b283, // ld     t0, 8(t0)                # link map
	0x000e_0067, // jr     t3
}

var pltEntryInsns = [4]uint32{
	0x0000_0e17, // auipc   t3, %pcrel_hi(function@.got.plt)
	0x000e_3e03, // ld      t3, %pcrel_lo(1b)(t3)
	0x000e_0367, // jalr    t1, t3
	0x0000_0013, // nop
}

func writePltHeader(ctx *Context, buf []byte) {
	for i, insn := range pltHdrInsns {
		utils.Write[uint32](buf[i*4:], insn)
	}

	gotplt := ctx.GotPlt.Shdr.Addr
	plt := ctx.Plt.Shdr.Addr

	writeUtype(buf, uint32(gotplt-plt))
	writeItype(buf[8:], uint32(gotplt-plt))
	writeItype(buf[16:], uint32(gotplt-plt))
}

func writePltEntry(ctx *Context, buf []byte, sym *Symbol) {
	ent := buf[PltHdrSize+uint64(sym.GetPltIdx(ctx))*PltEntrySize:]
	for i, insn := range pltEntryInsns {
		utils.Write[uint32](ent[i*4:], insn)
	}

	gotplt := sym.GetGotPltAddr(ctx)
	plt := sym.GetPltAddr(ctx)

	writeUtype(ent, uint32(gotplt-plt))
	writeItype(ent[4:], uint32(gotplt-plt))
}

// Non-lazy variant: the target's address is already in a regular .got
// slot, so the stub loads it from there and no resolver round-trip ever
// happens. Entries are placed by the symbol's assigned slot, not
// insertion order.
func writePltGotEntry(ctx *Context, buf []byte, sym *Symbol) {
	ent := buf[uint64(sym.GetPltGotIdx(ctx))*PltEntrySize:]
	for i, insn := range pltEntryInsns {
		utils.Write[uint32](ent[i*4:], insn)
	}

	got := sym.GetGotAddr(ctx)
	plt := sym.GetPltAddr(ctx)

	writeUtype(ent, uint32(got-plt))
	writeItype(ent[4:], uint32(got-plt))
}

// applyEhReloc patches unwind-table bytes. The value model is narrower
// than the executable-section one, and a relocation this switch does not
// recognize aborts the link at once: later phases cannot tolerate a
// partially-patched unwind table.
func applyEhReloc(ctx *Context, rel *Rela, secAddr uint64, loc []byte,
	offset uint64, val uint64) {
	switch elf.R_RISCV(rel.Type) {
	case elf.R_RISCV_ADD32:
		utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(val))
	case elf.R_RISCV_SUB8:
		utils.Write[uint8](loc, utils.Read[uint8](loc)-uint8(val))
	case elf.R_RISCV_SUB16:
		utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(val))
	case elf.R_RISCV_SUB32:
		utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(val))
	case elf.R_RISCV_SUB6:
		old := utils.Read[uint8](loc)
		utils.Write[uint8](loc, old&0b1100_0000|(old-uint8(val))&0b11_1111)
	case elf.R_RISCV_SET6:
		old := utils.Read[uint8](loc)
		utils.Write[uint8](loc, old&0b1100_0000|uint8(val)&0b11_1111)
	case elf.R_RISCV_SET8:
		utils.Write[uint8](loc, uint8(val))
	case elf.R_RISCV_SET16:
		utils.Write[uint16](loc, uint16(val))
	case elf.R_RISCV_32_PCREL:
		utils.Write[uint32](loc, uint32(val-secAddr-offset))
	default:
		utils.Fatal(fmt.Sprintf("unsupported relocation in .eh_frame: %v",
			elf.R_RISCV(rel.Type)))
	}
}
