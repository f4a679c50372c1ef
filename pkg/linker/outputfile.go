package linker

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OutputFile maps the output image into memory so chunk writers can run
// in parallel against disjoint ranges of it; munmap on close flushes the
// pages back.
type OutputFile struct {
	file *os.File
	Buf  []byte
}

func OpenOutputFile(path string, size uint64) (*OutputFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0777)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", path)
	}

	if err := unix.Ftruncate(int(file.Fd()), int64(size)); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "%s: ftruncate", path)
	}

	buf, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "%s: mmap", path)
	}

	return &OutputFile{file: file, Buf: buf}, nil
}

func (o *OutputFile) Close() error {
	if err := unix.Munmap(o.Buf); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return o.file.Close()
}
