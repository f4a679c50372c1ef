package linker

import (
	"debug/elf"
	"testing"

	"github.com/ksco/mold/pkg/utils"
)

func TestGotEntries(t *testing.T) {
	ctx := newApplyTestContext()
	ctx.Got.Shdr.Addr = 0x204000

	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, nil)

	local := ts.addSym("local", uint16(elf.SHN_ABS), 0x1234, 0, 0)
	local.AuxIdx = int32(len(ctx.SymbolsAux))
	ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())

	imp := ts.addSym("imp", uint16(elf.SHN_ABS), 0, uint8(elf.STT_OBJECT), 8)
	imp.IsImported = true
	imp.InputSection = nil
	imp.AuxIdx = int32(len(ctx.SymbolsAux))
	ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())

	ctx.Got.AddGotSymbol(ctx, local)
	ctx.Got.AddGotSymbol(ctx, imp)

	entries := ctx.Got.GetEntries(ctx)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	if entries[0].IsRel() {
		t.Error("local GOT slot should be a link-time constant")
	}
	if entries[0].Val != 0x1234 {
		t.Errorf("local slot value = %#x, want 0x1234", entries[0].Val)
	}

	if !entries[1].IsRel() || entries[1].Type != int64(elf.R_RISCV_64) {
		t.Error("imported GOT slot should carry an R_RISCV_64 entry")
	}
	if got := ctx.Got.GetNumDynrel(ctx); got != 1 {
		t.Errorf("GetNumDynrel = %d, want 1", got)
	}

	if got := imp.GetGotAddr(ctx); got != 0x204008 {
		t.Errorf("imported slot addr = %#x, want 0x204008", got)
	}
}

func TestRelDynLayout(t *testing.T) {
	ctx := newApplyTestContext()

	copySym := NewSymbol("environ")
	ctx.Copyrel.Symbols = append(ctx.Copyrel.Symbols, copySym)

	a := &ObjectFile{}
	a.NumDynrel = 3
	b := &ObjectFile{}
	b.NumDynrel = 2
	ctx.Objs = []*ObjectFile{a, b}

	ctx.RelDyn.UpdateShdr(ctx)

	// One copyrel entry, no dynamic GOT slots, then the per-file ranges.
	if a.ReldynOffset != RelaSize {
		t.Errorf("first file offset = %d, want %d", a.ReldynOffset, RelaSize)
	}
	if b.ReldynOffset != RelaSize*4 {
		t.Errorf("second file offset = %d, want %d", b.ReldynOffset, RelaSize*4)
	}
	if ctx.RelDyn.Shdr.Size != RelaSize*6 {
		t.Errorf("table size = %d, want %d", ctx.RelDyn.Shdr.Size, RelaSize*6)
	}
}

func TestGotPltInitialSlots(t *testing.T) {
	ctx := newApplyTestContext()
	ctx.Plt.Shdr.Addr = 0x201000
	ctx.GotPlt.Shdr.Addr = 0x203000

	sym := newTestAuxSymbol(ctx, "puts")
	ctx.Plt.AddSymbol(ctx, sym)

	ctx.GotPlt.UpdateShdr(ctx)
	if ctx.GotPlt.Shdr.Size != GotPltHdrSize+8 {
		t.Fatalf("gotplt size = %d", ctx.GotPlt.Shdr.Size)
	}

	ctx.Buf = make([]byte, 64)
	ctx.GotPlt.CopyBuf(ctx)

	if got := utils.Read[uint64](ctx.Buf); got != 0 {
		t.Errorf("resolver slot = %#x, want 0", got)
	}
	if got := utils.Read[uint64](ctx.Buf[GotPltHdrSize:]); got != ctx.Plt.Shdr.Addr {
		t.Errorf("entry slot = %#x, want the PLT header address", got)
	}
}

func TestEhFrameCopyBuf(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 100)

	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, contents)
	ts.addSym("fde_target", uint16(elf.SHN_ABS), 23, 0, 0)
	ts.isec.IsAlive = false
	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_ADD32), Sym: 1, Addend: 2},
	}

	ctx := newApplyTestContext()
	ctx.EhFrame = NewEhFrameSection()
	ctx.EhFrame.Members = []*InputSection{ts.isec}

	ctx.EhFrame.UpdateShdr(ctx)
	if ctx.EhFrame.Shdr.Size != 8 {
		t.Fatalf("size = %d, want 8", ctx.EhFrame.Shdr.Size)
	}

	ctx.Buf = make([]byte, 16)
	ctx.EhFrame.Shdr.Offset = 0
	ctx.EhFrame.CopyBuf(ctx)

	if got := utils.Read[uint32](ctx.Buf); got != 125 {
		t.Errorf("patched word = %d, want 125", got)
	}
}

func TestFindDsoSymbolAndClaim(t *testing.T) {
	ctx := newApplyTestContext()

	dso := &SharedFile{Exports: map[string]Sym{
		"malloc": {Info: uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC), Shndx: 1},
	}}
	ctx.Dsos = []*SharedFile{dso}

	internal := &ObjectFile{}
	internal.FirstGlobal = 1
	ctx.InternalObj = internal
	ctx.InternalEsyms = make([]Sym, 1)
	internal.ElfSyms = ctx.InternalEsyms

	esym, got, ok := FindDsoSymbol(ctx, "malloc")
	if !ok || got != dso {
		t.Fatal("malloc should resolve to the DSO")
	}
	if _, _, ok := FindDsoSymbol(ctx, "no_such"); ok {
		t.Fatal("unexpected resolution")
	}

	sym := NewSymbol("malloc")
	claimDsoSymbol(ctx, sym, esym)

	if sym.File != internal {
		t.Error("claimed symbol should live on the internal object")
	}
	if !sym.IsImported {
		t.Error("claimed symbol should be imported")
	}
	if sym.GetType() != uint8(elf.STT_FUNC) {
		t.Errorf("claimed type = %d, want STT_FUNC", sym.GetType())
	}
	if sym.ElfSym().IsUndef() {
		t.Error("claimed symbol should look defined")
	}
}

// Resolution stamps globals with the default version; a defined global
// with default visibility joins the dynamic export set, a hidden one
// does not.
func TestComputeImportExport(t *testing.T) {
	ctx := NewContext()
	if ctx.DefaultVersion == VER_NDX_LOCAL {
		t.Fatal("default symbol version must not be local")
	}

	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, make([]byte, 8))
	ts.obj.FirstGlobal = 1

	pub := ts.addSym("visible", 1, 0, uint8(elf.STB_GLOBAL)<<4, 0)
	pub.VerIdx = ctx.DefaultVersion

	hid := ts.addSym("internal", 1, 4, uint8(elf.STB_GLOBAL)<<4, 0)
	hid.VerIdx = ctx.DefaultVersion
	hid.Visibility = uint8(elf.STV_HIDDEN)

	ts.obj.ComputeImportExport()

	if !pub.IsExported {
		t.Error("default-visibility global should be exported")
	}
	if hid.IsExported {
		t.Error("hidden symbol should not be exported")
	}
}
