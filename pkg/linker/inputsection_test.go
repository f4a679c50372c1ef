package linker

import (
	"debug/elf"
	"math"
	"testing"

	"github.com/ksco/mold/pkg/utils"
)

// Fixtures build object files by hand: a section header table, a symbol
// table and one text section whose relocations are assigned directly.

type testSection struct {
	obj  *ObjectFile
	isec *InputSection
}

func newTestSection(flags uint64, addr uint64, contents []byte) *testSection {
	obj := &ObjectFile{}
	obj.ShStrtab = []byte("\x00.text\x00")
	obj.ElfSections = []Shdr{
		{},
		{Name: 1, Type: uint32(elf.SHT_PROGBITS), Flags: flags,
			Size: uint64(len(contents))},
	}
	obj.ElfSyms = []Sym{{}}
	obj.Symbols = []*Symbol{NewSymbol("")}

	osec := NewOutputSection(".text", uint32(elf.SHT_PROGBITS), flags, 0)
	osec.Shdr.Addr = addr

	isec := &InputSection{
		File:          obj,
		OutputSection: osec,
		Contents:      contents,
		Shndx:         1,
		RelsecIdx:     math.MaxUint32,
		ShSize:        uint32(len(contents)),
		IsAlive:       true,
	}
	obj.Sections = []*InputSection{nil, isec}
	return &testSection{obj: obj, isec: isec}
}

// addSym appends a defined symbol resolving to value. shndx SHN_ABS makes
// it absolute; 1 places it in the test section.
func (ts *testSection) addSym(name string, shndx uint16, value uint64,
	info uint8, size uint64) *Symbol {
	ts.obj.ElfSyms = append(ts.obj.ElfSyms, Sym{
		Shndx: shndx, Val: value, Info: info, Size: size,
	})

	sym := NewSymbol(name)
	sym.File = ts.obj
	sym.SymIdx = int32(len(ts.obj.ElfSyms) - 1)
	sym.Value = value
	if shndx == 1 {
		sym.InputSection = ts.isec
	}
	ts.obj.Symbols = append(ts.obj.Symbols, sym)
	return sym
}

func newApplyTestContext() *Context {
	ctx := NewContext()
	ctx.Got = NewGotSection()
	ctx.GotPlt = NewGotPltSection()
	ctx.Plt = NewPltSection()
	ctx.PltGot = NewPltGotSection()
	ctx.RelDyn = NewRelDynSection()
	ctx.Copyrel = NewCopyrelSection()
	return ctx
}

// auipc a0 / addi a0, a0, 0: HI20 stages the full displacement, LO12
// reads it back through the label symbol, and the third pass re-encodes
// the auipc from the pristine input.
func TestApplyPcrelHiLoPair(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 0x0000_0517)
	utils.Write[uint32](contents[4:], 0x0005_0513)

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	ts.addSym("target", uint16(elf.SHN_ABS), 0x201000, 0, 0)
	ts.addSym(".L0", 1, 0, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_PCREL_HI20), Sym: 1},
		{Offset: 4, Type: uint32(elf.R_RISCV_PCREL_LO12_I), Sym: 2},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	if got := utils.Read[uint32](buf); got != 0x0000_1517 {
		t.Errorf("auipc word = %#x, want 0x1517", got)
	}
	if got := utils.Read[uint32](buf[4:]); got != 0x0005_0513 {
		t.Errorf("addi word = %#x, want imm 0", got)
	}
	if ctx.HasErrors() {
		t.Error("unexpected link errors")
	}
}

func TestApplyPcrelHiLoNonZeroLow(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 0x0000_0517)
	utils.Write[uint32](contents[4:], 0x0005_0513)

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	ts.addSym("target", uint16(elf.SHN_ABS), 0x201834, 0, 0)
	ts.addSym(".L0", 1, 0, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_PCREL_HI20), Sym: 1},
		{Offset: 4, Type: uint32(elf.R_RISCV_PCREL_LO12_I), Sym: 2},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	// 0x1834 has its low half >= 0x800, so auipc carries the extra page.
	upper := int64(int32(utils.Read[uint32](buf) & 0xffff_f000))
	lower := int64(int32(utils.Read[uint32](buf[4:])) >> 20)
	if upper+lower != 0x1834 {
		t.Errorf("auipc+addi = %#x, want 0x1834", upper+lower)
	}
}

// An undefined weak function call lands on itself rather than jumping to
// address zero.
func TestApplyCallUndefWeak(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 0x0000_0097)     // auipc ra
	utils.Write[uint32](contents[4:], 0x0000_80e7) // jalr ra

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	ts.addSym("maybe", uint16(elf.SHN_UNDEF), 0,
		uint8(elf.STB_WEAK)<<4, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_CALL_PLT), Sym: 1},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	if got := utils.Read[uint32](buf); got != 0x0000_0097 {
		t.Errorf("auipc = %#x, want zero displacement", got)
	}
	if got := utils.Read[uint32](buf[4:]); got != 0x000080e7 {
		t.Errorf("jalr = %#x, want zero displacement", got)
	}
}

func TestApplyBranchOutOfRange(t *testing.T) {
	contents := make([]byte, 4)
	utils.Write[uint32](contents, 0x0000_0063) // beqz

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	ts.addSym("far", uint16(elf.SHN_ABS), 0x300000, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_BRANCH), Sym: 1},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 4)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	if !ctx.HasErrors() {
		t.Error("expected a range error for a +1MB conditional branch")
	}
}

func TestApplyAddSub(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 100)
	utils.Write[uint32](contents[4:], 100)

	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, contents)
	ts.addSym("a", uint16(elf.SHN_ABS), 30, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_ADD32), Sym: 1, Addend: 2},
		{Offset: 4, Type: uint32(elf.R_RISCV_SUB32), Sym: 1, Addend: 2},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	if got := utils.Read[uint32](buf); got != 132 {
		t.Errorf("ADD32 = %d, want 132", got)
	}
	if got := utils.Read[uint32](buf[4:]); got != 68 {
		t.Errorf("SUB32 = %d, want 68", got)
	}
}

func TestApplyAlignPadding(t *testing.T) {
	contents := make([]byte, 8)

	// P is 2 mod 8; aligning to 8 leaves 6 bytes of padding: one nop plus
	// one c.nop.
	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	ts.isec.Offset = 2
	ts.addSym("", 1, 0, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_ALIGN), Sym: 1, Addend: 7},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 8)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	if got := utils.Read[uint32](buf); got != 0x0000_0013 {
		t.Errorf("padding word = %#x, want nop", got)
	}
	if got := utils.Read[uint16](buf[4:]); got != 0x0001 {
		t.Errorf("padding tail = %#x, want c.nop", got)
	}
}

// Position-independent output turns an absolute word against a local
// symbol into a RELATIVE entry; the link-time value is still baked in.
func TestScanAndApplyBaserel(t *testing.T) {
	contents := make([]byte, 8)

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 0x200000, contents)
	ts.addSym("local", uint16(elf.SHN_ABS), 0x12345, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_64), Sym: 1, Addend: 3},
	}
	// Absolute symbols never need rebasing; use a section-relative one.
	ts.obj.ElfSyms[1].Shndx = 1
	ts.obj.Symbols[1].InputSection = ts.isec
	ts.obj.Symbols[1].Value = 4

	ctx := newApplyTestContext()
	ctx.Arg.Shared = true

	ts.isec.ScanRelocations(ctx)
	if ctx.HasErrors() {
		t.Fatal("unexpected scan errors")
	}
	if !ts.isec.NeedsBaserel[0] {
		t.Fatal("expected a RELATIVE entry for abs64 against a local symbol")
	}
	if ts.obj.NumDynrel != 1 {
		t.Fatalf("NumDynrel = %d, want 1", ts.obj.NumDynrel)
	}

	ctx.RelDyn.Shdr.Size = RelaSize
	ctx.RelDyn.Shdr.Offset = 64
	ctx.Buf = make([]byte, 128)

	buf := make([]byte, 8)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	want := uint64(0x200004 + 3)
	if got := utils.Read[uint64](buf); got != want {
		t.Errorf("slot = %#x, want %#x", got, want)
	}

	ent := utils.Read[Rela](ctx.Buf[64:])
	if ent.Type != uint32(elf.R_RISCV_RELATIVE) {
		t.Errorf("entry type = %d, want RELATIVE", ent.Type)
	}
	if ent.Offset != 0x200000 {
		t.Errorf("entry offset = %#x, want 0x200000", ent.Offset)
	}
	if ent.Addend != int64(want) {
		t.Errorf("entry addend = %#x, want %#x", ent.Addend, want)
	}
}

// An absolute word against an imported symbol defers the whole address to
// the loader.
func TestScanAndApplyDynrel(t *testing.T) {
	contents := make([]byte, 8)

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 0x200000, contents)
	sym := ts.addSym("extern_data", uint16(elf.SHN_ABS), 0, uint8(elf.STT_OBJECT), 8)
	sym.IsImported = true
	sym.InputSection = nil

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_64), Sym: 1, Addend: 7},
	}

	ctx := newApplyTestContext()
	ctx.Arg.Shared = true

	ts.isec.ScanRelocations(ctx)
	if !ts.isec.NeedsDynrel[0] {
		t.Fatal("expected a dynamic relocation for abs64 against an import")
	}
	if sym.Flags&NEEDS_DYNREL == 0 {
		t.Fatal("expected NEEDS_DYNREL flag")
	}

	sym.AuxIdx = int32(len(ctx.SymbolsAux))
	ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
	sym.SetDynsymIdx(ctx, 5)

	ctx.RelDyn.Shdr.Size = RelaSize
	ctx.RelDyn.Shdr.Offset = 0
	ctx.Buf = make([]byte, 64)

	buf := make([]byte, 8)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	if got := utils.Read[uint64](buf); got != 7 {
		t.Errorf("slot = %#x, want the addend alone", got)
	}

	ent := utils.Read[Rela](ctx.Buf)
	if ent.Type != uint32(elf.R_RISCV_64) || ent.Sym != 5 || ent.Addend != 7 {
		t.Errorf("entry = %+v, want {type=R_RISCV_64 sym=5 addend=7}", ent)
	}
}

// Writing through the GOT: the staged HI20 value is the displacement to
// the symbol's GOT slot, not to the symbol.
func TestApplyGotHiLoPair(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 0x0000_0517)
	utils.Write[uint32](contents[4:], 0x0005_3503) // ld a0, 0(a0)

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	sym := ts.addSym("extern", uint16(elf.SHN_ABS), 0, 0, 0)
	ts.addSym(".L0", 1, 0, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_GOT_HI20), Sym: 1},
		{Offset: 4, Type: uint32(elf.R_RISCV_PCREL_LO12_I), Sym: 2},
	}

	ctx := newApplyTestContext()
	ctx.Got.Shdr.Addr = 0x204000

	sym.AuxIdx = int32(len(ctx.SymbolsAux))
	ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
	sym.SetGotIdx(ctx, 2)

	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	// G + GOT - P = 16 + 0x204000 - 0x200000
	disp := int64(0x4010)
	upper := int64(int32(utils.Read[uint32](buf) & 0xffff_f000))
	lower := int64(int32(utils.Read[uint32](buf[4:])) >> 20)
	if upper+lower != disp {
		t.Errorf("GOT displacement = %#x, want %#x", upper+lower, disp)
	}
	if got := utils.Read[uint32](buf) & 0x7f; got != 0x17 {
		t.Errorf("restored opcode = %#x, want auipc", got)
	}
}

func TestApplyHi20Lo12Absolute(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 0x0000_0537)     // lui a0
	utils.Write[uint32](contents[4:], 0x0005_0513) // addi a0, a0
	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	ts.addSym("obj", uint16(elf.SHN_ABS), 0x12345, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_HI20), Sym: 1},
		{Offset: 4, Type: uint32(elf.R_RISCV_LO12_I), Sym: 1},
	}

	ctx := newApplyTestContext()
	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	upper := int64(int32(utils.Read[uint32](buf) & 0xffff_f000))
	lower := int64(int32(utils.Read[uint32](buf[4:])) >> 20)
	if upper+lower != 0x12345 {
		t.Errorf("lui+addi = %#x, want 0x12345", upper+lower)
	}
}

func TestScanUndefinedSymbol(t *testing.T) {
	contents := make([]byte, 4)
	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, contents)
	sym := ts.addSym("missing", uint16(elf.SHN_UNDEF), 0, 0, 0)
	sym.File = nil

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_32), Sym: 1},
	}

	ctx := newApplyTestContext()
	ts.isec.ScanRelocations(ctx)

	if !ctx.HasErrors() {
		t.Error("expected an undefined-symbol error")
	}
}

func TestScanUnsupportedReloc(t *testing.T) {
	contents := make([]byte, 4)
	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, contents)
	ts.addSym("x", uint16(elf.SHN_ABS), 0, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_TLS_GD_HI20), Sym: 1},
	}

	ctx := newApplyTestContext()
	ts.isec.ScanRelocations(ctx)

	if !ctx.HasErrors() {
		t.Error("expected an unsupported-relocation error")
	}
}

func TestScanCallPltImported(t *testing.T) {
	contents := make([]byte, 8)
	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	sym := ts.addSym("puts", uint16(elf.SHN_ABS), 0,
		uint8(elf.STB_GLOBAL)<<4|uint8(elf.STT_FUNC), 0)
	sym.IsImported = true
	sym.InputSection = nil

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_CALL_PLT), Sym: 1},
	}

	ctx := newApplyTestContext()
	ts.isec.ScanRelocations(ctx)

	if sym.Flags&NEEDS_PLT == 0 {
		t.Error("expected NEEDS_PLT for a call to an imported function")
	}
}

func TestScanCallLocalNoPlt(t *testing.T) {
	contents := make([]byte, 8)
	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	sym := ts.addSym("helper", 1, 0, uint8(elf.STT_FUNC), 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_CALL), Sym: 1},
	}

	ctx := newApplyTestContext()
	ts.isec.ScanRelocations(ctx)

	if sym.Flags != 0 {
		t.Errorf("flags = %#x, want none for a local call", sym.Flags)
	}
}

// Scan flags the import, the consumption step assigns PLT slot 0, and the
// apply writes the displacement to that stub rather than to the symbol.
func TestCallPltEndToEnd(t *testing.T) {
	contents := make([]byte, 8)
	utils.Write[uint32](contents, 0x0000_0097)
	utils.Write[uint32](contents[4:], 0x0000_80e7)

	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, contents)
	sym := ts.addSym("puts", uint16(elf.SHN_ABS), 0,
		uint8(elf.STB_GLOBAL)<<4|uint8(elf.STT_FUNC), 0)
	sym.IsImported = true
	sym.InputSection = nil

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_CALL_PLT), Sym: 1},
	}

	ctx := newApplyTestContext()
	ts.isec.ScanRelocations(ctx)
	if sym.Flags&NEEDS_PLT == 0 {
		t.Fatal("expected NEEDS_PLT")
	}

	sym.AuxIdx = int32(len(ctx.SymbolsAux))
	ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
	ctx.Plt.AddSymbol(ctx, sym)
	sym.Flags = 0

	if got := sym.GetPltIdx(ctx); got != 0 {
		t.Fatalf("plt slot = %d, want 0", got)
	}

	ctx.Plt.Shdr.Addr = 0x201000
	ctx.GotPlt.Shdr.Addr = 0x203000

	buf := make([]byte, 8)
	copy(buf, contents)
	ts.isec.ApplyRelocAlloc(ctx, buf)

	// S resolves to the stub at header + slot 0.
	disp := int64(0x201000 + PltHdrSize - 0x200000)
	upper := int64(int32(utils.Read[uint32](buf) & 0xffff_f000))
	lower := int64(int32(utils.Read[uint32](buf[4:])) >> 20)
	if upper+lower != disp {
		t.Errorf("call displacement = %#x, want %#x", upper+lower, disp)
	}
}

func TestCopyrelAddSymbol(t *testing.T) {
	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, nil)
	a := ts.addSym("environ", uint16(elf.SHN_ABS), 0, 0, 8)
	b := ts.addSym("table", uint16(elf.SHN_ABS), 0, 0, 100)
	a.IsImported = true
	b.IsImported = true

	ctx := newApplyTestContext()
	ctx.Copyrel.AddSymbol(ctx, a)
	ctx.Copyrel.AddSymbol(ctx, b)
	ctx.Copyrel.AddSymbol(ctx, b) // idempotent

	if !a.HasCopyrel || !b.HasCopyrel {
		t.Fatal("expected both symbols re-bound to .copyrel")
	}
	if a.Value != 0 {
		t.Errorf("first slot at %d, want 0", a.Value)
	}
	// 100 rounds up to a 64-byte alignment cap.
	if b.Value != 64 {
		t.Errorf("second slot at %d, want 64", b.Value)
	}
	if got := len(ctx.Copyrel.Symbols); got != 2 {
		t.Errorf("symbol count = %d, want 2", got)
	}

	ctx.Copyrel.Shdr.Addr = 0x205000
	if got := a.GetAddr(ctx); got != 0x205000 {
		t.Errorf("copyrel addr = %#x, want 0x205000", got)
	}
}
