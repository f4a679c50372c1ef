package linker

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ksco/mold/pkg/utils"
	"github.com/xyproto/env/v2"
)

type OutputType = int8

const (
	// Shared object, position-independent executable, position-dependent
	// executable. Fixed for the whole link; absolute-address relocations
	// classify against it.
	OutputTypeDSO OutputType = iota
	OutputTypePIE OutputType = iota
	OutputTypePDE OutputType = iota
)

type ContextArg struct {
	Output    string
	Emulation MachineType

	Shared bool
	Pie    bool

	LibraryPaths []string
}

type Context struct {
	Arg ContextArg

	SymbolMap map[string]*Symbol

	SymbolsAux []SymbolAux

	Ehdr    *OutputEhdr
	Shdr    *OutputShdr
	Phdr    *OutputPhdr
	Got     *GotSection
	GotPlt  *GotPltSection
	Plt     *PltSection
	PltGot  *PltGotSection
	RelDyn  *RelDynSection
	Copyrel *CopyrelSection
	EhFrame *EhFrameSection

	Buf []byte

	FilePriority int64
	Visited      utils.MapSet[string]

	Objs []*ObjectFile
	Dsos []*SharedFile

	InternalObj   *ObjectFile
	InternalEsyms []Sym

	Chunks []Chunker

	MergedSections []*MergedSection
	OutputSections []*OutputSection

	DefaultVersion uint16

	TpAddr uint64

	numErrors int32
	debug     bool

	__InitArrayStart    *Symbol
	__InitArrayEnd      *Symbol
	__FiniArrayStart    *Symbol
	__FiniArrayEnd      *Symbol
	__PreinitArrayStart *Symbol
	__PreinitArrayEnd   *Symbol
	__GlobalPointer     *Symbol
}

func NewContext() *Context {
	return &Context{
		Arg: ContextArg{
			Emulation: MachineTypeNone,
			Output:    "a.out",
		},
		SymbolMap:      make(map[string]*Symbol),
		Visited:        utils.NewMapSet[string](),
		FilePriority:   10000,
		DefaultVersion: VER_NDX_GLOBAL,
		debug:          env.Bool("MOLD_DEBUG"),
	}
}

func (ctx *Context) GetOutputType() OutputType {
	if ctx.Arg.Shared {
		return OutputTypeDSO
	}
	if ctx.Arg.Pie {
		return OutputTypePIE
	}
	return OutputTypePDE
}

func (ctx *Context) GetImageBase() uint64 {
	if ctx.GetOutputType() == OutputTypePDE {
		return ImageBase
	}
	return 0
}

// Error reports a non-fatal diagnostic. The link keeps going so that all
// bad relocations are reported in one run; CheckErrors fails the link
// afterwards. Callable from parallel scan/apply goroutines.
func (ctx *Context) Error(err error) {
	fmt.Fprintln(os.Stderr, "mold: \033[0;1;31merror:\033[0m "+err.Error())
	atomic.AddInt32(&ctx.numErrors, 1)
	if ctx.debug {
		fmt.Fprintf(os.Stderr, "mold: error %d\n", atomic.LoadInt32(&ctx.numErrors))
	}
}

func (ctx *Context) HasErrors() bool {
	return atomic.LoadInt32(&ctx.numErrors) > 0
}

func (ctx *Context) CheckErrors() {
	if ctx.HasErrors() {
		fmt.Fprintln(os.Stderr, "mold: exiting due to previous errors")
		os.Exit(1)
	}
}
