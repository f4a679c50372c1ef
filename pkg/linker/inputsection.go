package linker

import (
	"debug/elf"
	"math"
	"unsafe"

	"github.com/ksco/mold/pkg/utils"
	"github.com/pkg/errors"
)

type InputSection struct {
	File          *ObjectFile
	OutputSection *OutputSection
	Contents      []byte
	Deltas        []int32
	Offset        uint32
	Shndx         uint32
	RelsecIdx     uint32
	ShSize        uint32
	IsAlive       bool
	P2Align       uint8
	Rels          []Rela

	// Scan results. NeedsDynrel/NeedsBaserel mark relocation indices that
	// the apply phase turns into .rela.dyn entries; ReldynOffset is this
	// section's pre-reserved byte range within its file's slice of the
	// table, so parallel applies never contend.
	NeedsDynrel  []bool
	NeedsBaserel []bool
	ReldynOffset uint64
}

func NewInputSection(
	ctx *Context, file *ObjectFile, name string, shndx int64,
) *InputSection {
	s := &InputSection{
		Offset:    math.MaxUint32,
		Shndx:     math.MaxUint32,
		RelsecIdx: math.MaxUint32,
		ShSize:    math.MaxUint32,
		IsAlive:   true,
	}
	s.File = file
	s.Shndx = uint32(shndx)

	shdr := s.Shdr()
	if shndx < int64(len(file.ElfSections)) {
		s.Contents = file.File.Contents[shdr.Offset : shdr.Offset+shdr.Size]
	}

	toP2Align := func(alignment uint64) int64 {
		if alignment == 0 {
			return 0
		}
		return int64(utils.CountrZero[uint64](alignment))
	}

	if shdr.Flags&uint64(elf.SHF_COMPRESSED) != 0 {
		chdr := s.Chdr()
		s.ShSize = uint32(chdr.Size)
		s.P2Align = uint8(toP2Align(chdr.AddrAlign))
	} else {
		s.ShSize = uint32(shdr.Size)
		s.P2Align = uint8(toP2Align(shdr.AddrAlign))
	}

	s.OutputSection =
		GetOutputSectionInstance(ctx, name, uint64(shdr.Type), shdr.Flags)

	return s
}

func (s *InputSection) Shdr() *Shdr {
	if s.Shndx < uint32(len(s.File.ElfSections)) {
		return &s.File.ElfSections[s.Shndx]
	}

	utils.Fatal("unreachable")
	return nil
}

func (s *InputSection) Chdr() Chdr {
	return utils.Read[Chdr](s.Contents)
}

func (s *InputSection) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + uint64(s.Offset)
}

func (s *InputSection) Name() string {
	if uint32(len(s.File.ElfSections)) <= s.Shndx {
		return ".common"
	}
	return getName(s.File.ShStrtab, s.File.ElfSections[s.Shndx].Name)
}

func (s *InputSection) GetRels() []Rela {
	if s.RelsecIdx == math.MaxUint32 || s.Rels != nil {
		return s.Rels
	}

	bs := s.File.GetBytesFromShdr(&s.File.InputFile.ElfSections[s.RelsecIdx])
	nums := len(bs) / int(unsafe.Sizeof(Rela{}))
	s.Rels = make([]Rela, 0)
	for nums > 0 {
		s.Rels = append(s.Rels, utils.Read[Rela](bs))
		bs = bs[unsafe.Sizeof(Rela{}):]
		nums--
	}

	return s.Rels
}

// ScanRelocations decides, per relocation, which auxiliary structure the
// referenced symbol needs: a GOT slot, a PLT stub, a copy relocation or a
// dynamic relocation. It only accumulates symbol flags and per-section
// dynrel counts; nothing is written yet.
func (s *InputSection) ScanRelocations(ctx *Context) {
	utils.Assert(s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0)

	s.ReldynOffset = uint64(s.File.NumDynrel) * RelaSize
	rels := s.GetRels()
	s.NeedsDynrel = make([]bool, len(rels))
	s.NeedsBaserel = make([]bool, len(rels))

	for i := 0; i < len(rels); i++ {
		rel := &rels[i]
		if rel.Type == uint32(elf.R_RISCV_NONE) {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		if sym.File == nil {
			ctx.Error(errors.Errorf("undefined symbol: %s", sym.Name))
			continue
		}

		if sym.IsIFunc() {
			sym.SetFlags(NEEDS_GOT | NEEDS_PLT)
		}

		switch elf.R_RISCV(rel.Type) {
		case elf.R_RISCV_32, elf.R_RISCV_HI20:
			s.dispatch(ctx, relActionAbs32, i, rel, sym)
		case elf.R_RISCV_64:
			s.dispatch(ctx, relActionAbs64, i, rel, sym)
		case elf.R_RISCV_32_PCREL:
			s.dispatch(ctx, relActionPcrel32, i, rel, sym)
		case elf.R_RISCV_TLS_DTPMOD32, elf.R_RISCV_TLS_DTPMOD64,
			elf.R_RISCV_TLS_DTPREL32, elf.R_RISCV_TLS_DTPREL64,
			elf.R_RISCV_TLS_TPREL32, elf.R_RISCV_TLS_TPREL64,
			elf.R_RISCV_TLS_GD_HI20:
			s.reportUnsupported(ctx, rel)
		case elf.R_RISCV_CALL, elf.R_RISCV_CALL_PLT:
			// A link-time-computed displacement suffices for defined
			// symbols; only imports go through the PLT.
			if sym.IsImported {
				sym.SetFlags(NEEDS_PLT)
			}
		case elf.R_RISCV_GOT_HI20:
			sym.SetFlags(NEEDS_GOT)
		case elf.R_RISCV_TLS_GOT_HI20:
			sym.SetFlags(NEEDS_GOTTP)
		case elf.R_RISCV_BRANCH, elf.R_RISCV_JAL, elf.R_RISCV_PCREL_HI20,
			elf.R_RISCV_PCREL_LO12_I, elf.R_RISCV_PCREL_LO12_S, elf.R_RISCV_LO12_I,
			elf.R_RISCV_LO12_S, elf.R_RISCV_TPREL_HI20, elf.R_RISCV_TPREL_LO12_I,
			elf.R_RISCV_TPREL_LO12_S, elf.R_RISCV_TPREL_ADD, elf.R_RISCV_ADD8,
			elf.R_RISCV_ADD16, elf.R_RISCV_ADD32, elf.R_RISCV_ADD64,
			elf.R_RISCV_SUB8, elf.R_RISCV_SUB16, elf.R_RISCV_SUB32,
			elf.R_RISCV_SUB64, elf.R_RISCV_ALIGN, elf.R_RISCV_RVC_BRANCH,
			elf.R_RISCV_RVC_JUMP, elf.R_RISCV_RELAX:
			break
		case elf.R_RISCV_RVC_LUI, elf.R_RISCV_SUB6, elf.R_RISCV_SET6,
			elf.R_RISCV_SET8, elf.R_RISCV_SET16, elf.R_RISCV_SET32:
			s.reportUnsupported(ctx, rel)
		default:
			ctx.Error(errors.Errorf("%s: unknown relocation: %d",
				s.Name(), rel.Type))
		}
	}
}

func (s *InputSection) reportUnsupported(ctx *Context, rel *Rela) {
	ctx.Error(errors.Errorf("%s: unsupported relocation: %v",
		s.Name(), elf.R_RISCV(rel.Type)))
}

func (s *InputSection) GetPriority() int64 {
	return (int64(s.File.Priority) << 32) | int64(s.Shndx)
}

func (s *InputSection) WriteTo(ctx *Context, buf []byte) {
	if s.Shdr().Type == uint32(elf.SHT_NOBITS) || s.ShSize == 0 {
		return
	}

	s.CopyContents(ctx, buf)

	if s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
		s.ApplyRelocAlloc(ctx, buf)
	}
}

func (s *InputSection) CopyContents(ctx *Context, buf []byte) {
	if len(s.Deltas) == 0 {
		copy(buf, s.Contents)
		return
	}

	rels := s.GetRels()
	pos := uint64(0)
	for i := 0; i < len(rels); i++ {
		delta := s.Deltas[i+1] - s.Deltas[i]
		if delta == 0 {
			continue
		}
		utils.Assert(delta > 0)

		r := rels[i]
		copy(buf, s.Contents[pos:r.Offset])
		buf = buf[r.Offset-pos:]
		pos = r.Offset + uint64(delta)
	}

	copy(buf, s.Contents[pos:])
}

// relValues gathers the per-relocation derived values once: symbol
// address, addend, the instruction's own output address and the GOT slot
// offset.
type relValues struct {
	S   uint64
	A   uint64
	P   uint64
	G   uint64
	GOT uint64
}

// ApplyRelocAlloc writes final bit patterns into the already-copied-out
// section bytes. Pass 1 computes and writes values, staging full 32-bit
// values at GOT/PCREL HI20 sites so the paired LO12 relocations can read
// them back regardless of relocation order; the trailing loops re-encode
// the LO12 halves and then restore the HI20 instruction words from the
// pristine input copy.
func (s *InputSection) ApplyRelocAlloc(ctx *Context, base []byte) {
	rels := s.GetRels()

	getDelta := func(idx int) int32 {
		if len(s.Deltas) == 0 {
			return 0
		}
		return s.Deltas[idx]
	}

	var dynrel []byte
	if ctx.RelDyn != nil && ctx.RelDyn.Shdr.Size > 0 {
		dynrel = ctx.Buf[ctx.RelDyn.Shdr.Offset+s.File.ReldynOffset+s.ReldynOffset:]
	}
	writeDynrel := func(r Rela) {
		utils.Write[Rela](dynrel, r)
		dynrel = dynrel[RelaSize:]
	}

	for i := 0; i < len(rels); i++ {
		rel := rels[i]
		if rel.Type == uint32(elf.R_RISCV_NONE) || rel.Type == uint32(elf.R_RISCV_RELAX) {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		offset := rel.Offset - uint64(getDelta(i))
		loc := base[offset:]

		if sym.File == nil {
			ctx.Error(errors.Errorf("undefined symbol: %s", sym.Name))
			continue
		}

		v := relValues{
			S: sym.GetAddr(ctx),
			A: uint64(rel.Addend),
			P: s.GetAddr() + offset,
		}
		if ctx.Got != nil {
			v.GOT = ctx.Got.Shdr.Addr
			if idx := sym.GetGotIdx(ctx); idx != -1 {
				v.G = uint64(idx) * 8
			}
		}

		checkRange := func(val int64, lo int64, hi int64) bool {
			if val < lo || hi <= val {
				ctx.Error(errors.Errorf(
					"%s: relocation %v against %s out of range: %d is not in [%d, %d)",
					s.Name(), elf.R_RISCV(rel.Type), symName(sym), val, lo, hi))
				return false
			}
			return true
		}

		if s.NeedsDynrel != nil && s.NeedsDynrel[i] {
			writeDynrel(Rela{
				Offset: v.P,
				Type:   uint32(elf.R_RISCV_64),
				Sym:    uint32(sym.GetDynsymIdx(ctx)),
				Addend: int64(v.A),
			})
			utils.Write[uint64](loc, v.A)
			continue
		}

		if s.NeedsBaserel != nil && s.NeedsBaserel[i] {
			// The link-time value is still baked in; only the
			// bookkeeping entry tells the loader to rebase it.
			writeDynrel(Rela{
				Offset: v.P,
				Type:   uint32(elf.R_RISCV_RELATIVE),
				Sym:    0,
				Addend: int64(v.S + v.A),
			})
			utils.Write[uint64](loc, v.S+v.A)
			continue
		}

		switch elf.R_RISCV(rel.Type) {
		case elf.R_RISCV_32:
			utils.Write[uint32](loc, uint32(v.S+v.A))
		case elf.R_RISCV_64:
			utils.Write[uint64](loc, v.S+v.A)
		case elf.R_RISCV_BRANCH:
			val := int64(v.S + v.A - v.P)
			if checkRange(val, -(1 << 12), 1<<12) {
				writeBtype(loc, uint32(val))
			}
		case elf.R_RISCV_JAL:
			val := int64(v.S + v.A - v.P)
			if checkRange(val, -(1 << 20), 1<<20) {
				writeJtype(loc, uint32(val))
			}
		case elf.R_RISCV_CALL, elf.R_RISCV_CALL_PLT:
			// An undefined weak resolves to displacement zero: the call
			// branches to itself instead of jumping to address 0, which
			// is easier to diagnose in a hung program.
			val := uint32(0)
			if !sym.ElfSym().IsUndefWeak() {
				val = uint32(v.S + v.A - v.P)
			}
			writeUtype(loc, val)
			writeItype(loc[4:], val)
		case elf.R_RISCV_GOT_HI20:
			utils.Write[uint32](loc, uint32(v.G+v.GOT+v.A-v.P))
		case elf.R_RISCV_TLS_GOT_HI20:
			utils.Write[uint32](loc, uint32(sym.GetGotTpAddr(ctx)+v.A-v.P))
		case elf.R_RISCV_PCREL_HI20:
			if sym.ElfSym().IsUndefWeak() {
				// Stage the instruction's own address so the paired
				// LO12 computes a zero displacement.
				utils.Write[uint32](loc, uint32(v.P))
			} else {
				utils.Write[uint32](loc, uint32(v.S+v.A-v.P))
			}
		case elf.R_RISCV_HI20:
			writeUtype(loc, uint32(v.S+v.A))
		case elf.R_RISCV_LO12_I, elf.R_RISCV_LO12_S:
			val := v.S + v.A
			if rel.Type == uint32(elf.R_RISCV_LO12_I) {
				writeItype(loc, uint32(val))
			} else {
				writeStype(loc, uint32(val))
			}

			// Rewrite the base register to zero if the value fits in the
			// 12-bit immediate alone.
			if utils.SignExtend(val, 11) == val {
				setRs1(loc, 0)
			}
		case elf.R_RISCV_TPREL_HI20:
			writeUtype(loc, uint32(v.S+v.A-ctx.TpAddr))
		case elf.R_RISCV_TPREL_ADD:
			break
		case elf.R_RISCV_TPREL_LO12_I, elf.R_RISCV_TPREL_LO12_S:
			val := v.S + v.A - ctx.TpAddr
			if rel.Type == uint32(elf.R_RISCV_TPREL_LO12_I) {
				writeItype(loc, uint32(val))
			} else {
				writeStype(loc, uint32(val))
			}

			if utils.SignExtend(val, 11) == val {
				setRs1(loc, 4)
			}
		case elf.R_RISCV_ADD8:
			utils.Write[uint8](loc, utils.Read[uint8](loc)+uint8(v.S+v.A))
		case elf.R_RISCV_ADD16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)+uint16(v.S+v.A))
		case elf.R_RISCV_ADD32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(v.S+v.A))
		case elf.R_RISCV_ADD64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)+v.S+v.A)
		case elf.R_RISCV_SUB8:
			utils.Write[uint8](loc, utils.Read[uint8](loc)-uint8(v.S+v.A))
		case elf.R_RISCV_SUB16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(v.S+v.A))
		case elf.R_RISCV_SUB32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(v.S+v.A))
		case elf.R_RISCV_SUB64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)-(v.S+v.A))
		case elf.R_RISCV_ALIGN:
			paddingSize := int64(utils.AlignTo(v.P, utils.BitCeil(uint64(rel.Addend+1))) - v.P)

			idx := int64(0)
			for ; idx < paddingSize-4; idx += 4 {
				utils.Write[uint32](loc[idx:], uint32(0x0000_0013)) // nop
			}
			if idx != paddingSize {
				utils.Write[uint16](loc[idx:], uint16(0x0001)) // c.nop
			}
		case elf.R_RISCV_RVC_BRANCH:
			val := int64(v.S + v.A - v.P)
			if checkRange(val, -(1 << 8), 1<<8) {
				writeCbtype(loc, uint16(val))
			}
		case elf.R_RISCV_RVC_JUMP:
			val := int64(v.S + v.A - v.P)
			if checkRange(val, -(1 << 11), 1<<11) {
				writeCjtype(loc, uint16(val))
			}
		case elf.R_RISCV_32_PCREL:
			utils.Write[uint32](loc, uint32(v.S+v.A-v.P))
		case elf.R_RISCV_RVC_LUI, elf.R_RISCV_SUB6, elf.R_RISCV_SET6,
			elf.R_RISCV_SET8, elf.R_RISCV_SET16, elf.R_RISCV_SET32,
			elf.R_RISCV_TLS_GD_HI20:
			s.reportUnsupported(ctx, &rel)
		case elf.R_RISCV_PCREL_LO12_I, elf.R_RISCV_PCREL_LO12_S:
		default:
			ctx.Error(errors.Errorf("%s: unknown relocation: %d",
				s.Name(), rel.Type))
		}
	}

	// The LO12 halves read the full values their HI20 pairs staged above.
	// The pair is located through the relocation's symbol, which by
	// contract points at the HI20 instruction earlier in this section.
	for i := 0; i < len(rels); i++ {
		switch elf.R_RISCV(rels[i].Type) {
		case elf.R_RISCV_PCREL_LO12_I, elf.R_RISCV_PCREL_LO12_S:
			sym := s.File.Symbols[rels[i].Sym]
			utils.Assert(sym.InputSection == s)
			utils.Assert(sym.Value < rels[i].Offset)
			loc := base[rels[i].Offset-uint64(getDelta(i)):]
			val := utils.Read[uint32](base[sym.Value:])

			if rels[i].Type == uint32(elf.R_RISCV_PCREL_LO12_I) {
				writeItype(loc, val)
			} else {
				writeStype(loc, val)
			}
		}
	}

	// Staged HI20 sites still hold raw 32-bit values; recover the original
	// instruction word from the untouched input copy and re-encode the
	// value as a proper U-type immediate.
	for i := 0; i < len(rels); i++ {
		switch elf.R_RISCV(rels[i].Type) {
		case elf.R_RISCV_GOT_HI20, elf.R_RISCV_PCREL_HI20, elf.R_RISCV_TLS_GOT_HI20:
			loc := base[rels[i].Offset-uint64(getDelta(i)):]
			val := utils.Read[uint32](loc)
			utils.Write[uint32](loc, utils.Read[uint32](s.Contents[rels[i].Offset:]))
			writeUtype(loc, val)
		}
	}
}
