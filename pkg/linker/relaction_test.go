package linker

import (
	"debug/elf"
	"testing"
)

func TestGetSymClass(t *testing.T) {
	ts := newTestSection(uint64(elf.SHF_ALLOC), 0x200000, nil)

	abs := ts.addSym("abs", uint16(elf.SHN_ABS), 42, 0, 0)
	local := ts.addSym("local", 1, 0, uint8(elf.STT_FUNC), 0)

	data := ts.addSym("data", uint16(elf.SHN_ABS), 0, uint8(elf.STT_OBJECT), 8)
	data.IsImported = true

	fn := ts.addSym("fn", uint16(elf.SHN_ABS), 0,
		uint8(elf.STB_GLOBAL)<<4|uint8(elf.STT_FUNC), 0)
	fn.IsImported = true

	tests := []struct {
		sym  *Symbol
		want int
	}{
		{abs, 0},
		{local, 1},
		{data, 2},
		{fn, 3},
	}
	for _, tt := range tests {
		if got := getSymClass(tt.sym); got != tt.want {
			t.Errorf("getSymClass(%s) = %d, want %d", tt.sym.Name, got, tt.want)
		}
	}
}

// Spot-check the cells that drive observable behavior; every row and
// column index must stay within the tables.
func TestRelActionTables(t *testing.T) {
	tests := []struct {
		name  string
		table [3][4]Action
		out   OutputType
		class int
		want  Action
	}{
		{"abs32/dso/local", relActionAbs32, OutputTypeDSO, 1, ActionNone},
		{"abs32/dso/import-data", relActionAbs32, OutputTypeDSO, 2, ActionError},
		{"abs32/pde/import-data", relActionAbs32, OutputTypePDE, 2, ActionCopyrel},
		{"abs32/pde/import-fn", relActionAbs32, OutputTypePDE, 3, ActionPlt},
		{"abs64/dso/local", relActionAbs64, OutputTypeDSO, 1, ActionBaserel},
		{"abs64/dso/import-data", relActionAbs64, OutputTypeDSO, 2, ActionDynrel},
		{"abs64/pie/import-fn", relActionAbs64, OutputTypePIE, 3, ActionDynrel},
		{"abs64/pde/local", relActionAbs64, OutputTypePDE, 1, ActionNone},
		{"abs64/pde/import-data", relActionAbs64, OutputTypePDE, 2, ActionCopyrel},
		{"pcrel32/dso/abs", relActionPcrel32, OutputTypeDSO, 0, ActionError},
		{"pcrel32/pie/local", relActionPcrel32, OutputTypePIE, 1, ActionNone},
		{"pcrel32/pde/abs", relActionPcrel32, OutputTypePDE, 0, ActionNone},
	}

	for _, tt := range tests {
		if got := tt.table[tt.out][tt.class]; got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}

	// Absolute symbols never need rebasing: their value is independent of
	// the load address.
	for _, table := range [][3][4]Action{relActionAbs32, relActionAbs64, relActionPcrel32} {
		for out := 0; out < 3; out++ {
			if a := table[out][0]; a == ActionBaserel || a == ActionDynrel || a == ActionCopyrel {
				t.Errorf("absolute symbol got action %d in row %d", a, out)
			}
		}
	}
}

// A rebased word in a read-only section would force the loader to write
// text pages; the scan rejects it.
func TestDispatchTextrel(t *testing.T) {
	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0x200000, make([]byte, 8))
	ts.addSym("local", 1, 0, 0, 0)

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_64), Sym: 1},
	}

	ctx := newApplyTestContext()
	ctx.Arg.Shared = true
	ts.isec.ScanRelocations(ctx)

	if !ctx.HasErrors() {
		t.Error("expected an error for a RELATIVE entry in read-only text")
	}
	if ts.isec.NeedsBaserel[0] {
		t.Error("read-only section must not get a baserel entry")
	}
}

func TestErrorDispatchSharedAbs32(t *testing.T) {
	ts := newTestSection(uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 0x200000, make([]byte, 8))
	sym := ts.addSym("extern_data", uint16(elf.SHN_ABS), 0, uint8(elf.STT_OBJECT), 8)
	sym.IsImported = true
	sym.InputSection = nil

	ts.isec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_RISCV_32), Sym: 1},
	}

	ctx := newApplyTestContext()
	ctx.Arg.Shared = true
	ts.isec.ScanRelocations(ctx)

	if !ctx.HasErrors() {
		t.Error("expected -fPIC error for a 32-bit absolute against an import in a DSO")
	}
}
