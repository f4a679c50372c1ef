package linker

import (
	"debug/elf"
)

// SharedFile is an ET_DYN input. Only its dynamic symbol table matters to
// us: names a DSO exports let the scanner classify references as imported
// data or imported functions. The DSO itself contributes no sections.
type SharedFile struct {
	InputFile
	SoName  string
	Exports map[string]Sym
}

func NewSharedFile(ctx *Context, file *File) *SharedFile {
	f := &SharedFile{InputFile: *NewInputFile(file)}
	f.SoName = file.Name
	f.Exports = make(map[string]Sym)
	f.IsAlive = true

	dynsym := f.FindSection(uint32(elf.SHT_DYNSYM))
	if dynsym == nil {
		return f
	}

	f.FillUpElfSyms(dynsym)
	strtab := f.GetBytesFromIdx(int64(dynsym.Link))

	for i := int64(dynsym.Info); i < int64(len(f.ElfSyms)); i++ {
		esym := &f.ElfSyms[i]
		if esym.IsUndef() || esym.StVisibility() == uint8(elf.STV_HIDDEN) {
			continue
		}

		name := getName(strtab, esym.Name)
		if prev, ok := f.Exports[name]; ok && prev.Bind() != uint8(elf.STB_WEAK) {
			continue
		}
		f.Exports[name] = *esym
	}

	return f
}

// FindDsoSymbol returns the defining Sym for name from the first loaded
// shared object that exports it.
func FindDsoSymbol(ctx *Context, name string) (Sym, *SharedFile, bool) {
	for _, dso := range ctx.Dsos {
		if esym, ok := dso.Exports[name]; ok {
			return esym, dso, true
		}
	}
	return Sym{}, nil, false
}

// claimDsoSymbol re-homes a DSO-defined symbol onto the internal object.
// The DSO's Sym is copied into the internal symbol table so that size and
// type stay queryable after the claim; the scanner sees an imported
// symbol with no section behind it.
func claimDsoSymbol(ctx *Context, sym *Symbol, esym Sym) {
	obj := ctx.InternalObj
	idx := int32(len(ctx.InternalEsyms))
	ctx.InternalEsyms = append(ctx.InternalEsyms, esym)
	obj.ElfSyms = ctx.InternalEsyms
	obj.Symbols = append(obj.Symbols, sym)

	sym.File = obj
	sym.InputSection = nil
	sym.OutputSection = nil
	sym.SectionFragment = nil
	sym.Value = 0
	sym.SymIdx = idx
	sym.IsWeak = false
	sym.IsImported = true
	sym.IsExported = false
	sym.VerIdx = ctx.DefaultVersion
}
