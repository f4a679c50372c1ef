package linker

import (
	"os"

	"github.com/ksco/mold/pkg/utils"
	"github.com/pkg/errors"
)

type File struct {
	Name     string
	Contents []byte

	Parent *File
}

func NewFile(filename string) (*File, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", filename)
	}
	return &File{
		Name:     filename,
		Contents: contents,
	}, nil
}

func MustNewFile(filename string) *File {
	file, err := NewFile(filename)
	if err != nil {
		utils.Fatal(err)
	}
	return file
}

func OpenLibrary(path string) *File {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	file := &File{Name: path, Contents: contents}
	ty := GetMachineTypeFromContents(file.Contents)
	if ty == MachineTypeNone || ty == MachineTypeRISCV64 {
		return file
	}

	utils.Fatal(errors.Errorf("%s: incompatible file type", path))
	return nil
}

// FindLibrary resolves -lfoo against the -L search path. Shared objects
// win over archives within a directory, matching the usual linker
// default.
func FindLibrary(ctx *Context, name string) *File {
	for _, dir := range ctx.Arg.LibraryPaths {
		stem := dir + "/lib" + name
		if f := OpenLibrary(stem + ".so"); f != nil {
			return f
		}
		if f := OpenLibrary(stem + ".a"); f != nil {
			return f
		}
	}

	utils.Fatal(errors.Errorf("library not found: -l%s", name))
	return nil
}
