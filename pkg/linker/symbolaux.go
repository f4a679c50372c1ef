package linker

// SymbolAux carries the per-symbol slot indices that only a minority of
// symbols need. Symbols point at their aux record via AuxIdx.
type SymbolAux struct {
	GotIdx    int32
	GotTpIdx  int32
	PltIdx    int32
	PltGotIdx int32
	DynsymIdx int32
}

func NewSymbolAux() SymbolAux {
	return SymbolAux{
		GotIdx:    -1,
		GotTpIdx:  -1,
		PltIdx:    -1,
		PltGotIdx: -1,
		DynsymIdx: -1,
	}
}
