package linker

import (
	"debug/elf"

	"github.com/ksco/mold/pkg/utils"
)

const (
	NEEDS_GOT     uint32 = 1 << 0
	NEEDS_PLT     uint32 = 1 << 1
	NEEDS_GOTTP   uint32 = 1 << 3
	NEEDS_COPYREL uint32 = 1 << 4
	NEEDS_DYNREL  uint32 = 1 << 5
	NEEDS_BASEREL uint32 = 1 << 6
)

type Symbol struct {
	File *ObjectFile

	InputSection    *InputSection
	OutputSection   Chunker
	SectionFragment *SectionFragment

	Value uint64
	Name  string

	SymIdx int32
	AuxIdx int32
	VerIdx uint16

	Flags      uint32
	Visibility uint8

	IsWeak     bool
	IsExported bool

	// IsImported means the symbol is expected to be supplied by a shared
	// object at load time. HasCopyrel re-binds such a data symbol to its
	// .copyrel slot in the executable image.
	IsImported bool
	HasCopyrel bool
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:       name,
		SymIdx:     -1,
		AuxIdx:     -1,
		Visibility: uint8(elf.STV_DEFAULT),
	}
	return s
}

func GetSymbolByName(ctx *Context, name string) *Symbol {
	if sym, ok := ctx.SymbolMap[name]; ok {
		return sym
	}
	ctx.SymbolMap[name] = NewSymbol(name)
	return ctx.SymbolMap[name]
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.OutputSection = nil
	s.SectionFragment = nil
}
func (s *Symbol) SetOutputSection(osec Chunker) {
	s.InputSection = nil
	s.OutputSection = osec
	s.SectionFragment = nil
}
func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.InputSection = nil
	s.OutputSection = nil
	s.SectionFragment = frag
}

// SetFlags is the scan-phase accumulator. Sections are scanned in
// parallel, so the bitwise-or has to be atomic.
func (s *Symbol) SetFlags(flags uint32) {
	utils.AtomicOr32(&s.Flags, flags)
}

func (s *Symbol) GetGotIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotIdx
}

func (s *Symbol) GetGotTpIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotTpIdx
}

func (s *Symbol) GetPltIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].PltIdx
}

func (s *Symbol) GetPltGotIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].PltGotIdx
}

func (s *Symbol) GetDynsymIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].DynsymIdx
}

func (s *Symbol) SetGotIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotIdx = idx
}

func (s *Symbol) SetGotTpIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotTpIdx = idx
}

func (s *Symbol) SetPltIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].PltIdx = idx
}

func (s *Symbol) SetPltGotIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].PltGotIdx = idx
}

func (s *Symbol) SetDynsymIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].DynsymIdx = idx
}

func (s *Symbol) ElfSym() *Sym {
	return &s.File.ElfSyms[s.SymIdx]
}

func (s *Symbol) GetType() uint8 {
	if s.SymIdx == -1 {
		return uint8(elf.STT_NOTYPE)
	}
	return s.ElfSym().Type()
}

func (s *Symbol) IsIFunc() bool {
	return s.GetType() == STT_GNU_IFUNC
}

func (s *Symbol) IsAbsolute() bool {
	return !s.IsImported && s.SectionFragment == nil && s.SymIdx != -1 &&
		s.ElfSym().IsAbs()
}

func (s *Symbol) GetAddr(ctx *Context) uint64 {
	if s.SectionFragment != nil {
		if !s.SectionFragment.IsAlive {
			return 0
		}
		return s.SectionFragment.GetAddr() + s.Value
	}

	if s.HasCopyrel {
		return ctx.Copyrel.Shdr.Addr + s.Value
	}

	if s.AuxIdx != -1 && (s.IsImported || s.IsIFunc()) {
		if s.GetPltIdx(ctx) != -1 || s.GetPltGotIdx(ctx) != -1 {
			return s.GetPltAddr(ctx)
		}
	}

	if s.InputSection == nil {
		return s.Value
	}

	if !s.InputSection.IsAlive {
		return 0
	}

	return s.InputSection.GetAddr() + s.Value
}

func (s *Symbol) GetGotAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotIdx(ctx))*8
}

func (s *Symbol) GetGotTpAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotTpIdx(ctx))*8
}

// GetGotPltAddr returns the .got.plt slot backing the symbol's lazy PLT
// entry. The first two slots are reserved for the resolver and link map.
func (s *Symbol) GetGotPltAddr(ctx *Context) uint64 {
	utils.Assert(s.GetPltIdx(ctx) != -1)
	return ctx.GotPlt.Shdr.Addr + GotPltHdrSize + uint64(s.GetPltIdx(ctx))*8
}

func (s *Symbol) GetPltAddr(ctx *Context) uint64 {
	if idx := s.GetPltIdx(ctx); idx != -1 {
		return ctx.Plt.Shdr.Addr + PltHdrSize + uint64(idx)*PltEntrySize
	}
	if idx := s.GetPltGotIdx(ctx); idx != -1 {
		return ctx.PltGot.Shdr.Addr + uint64(idx)*PltEntrySize
	}

	utils.Fatal("unreachable")
	return 0
}

func (s *Symbol) Clear() {
	s.File = nil
	s.SectionFragment = nil
	s.OutputSection = nil
	s.InputSection = nil
	s.SymIdx = -1
	s.VerIdx = 0
	s.IsWeak = false
	s.IsExported = false
	s.IsImported = false
}

func (s *Symbol) GetRank() uint64 {
	if s.File == nil {
		return 7 << 24
	}
	return GetRank(s.File, s.ElfSym(), !s.File.IsAlive)
}
