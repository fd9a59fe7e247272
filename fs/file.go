package fs

import (
	"io"

	"github.com/spf13/afero"

	"github.com/alansparrow/pintos-pintos/log"
)

// File is an open file. It is not safe for concurrent use.
type File struct {
	fs *FS
	id fileID
	f  afero.File

	denying bool
}

func (f *File) Name() string {
	return f.id.name
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if err == io.EOF {
		return n, nil
	}

	return n, err
}

// Write writes p at the current position. Files never grow: bytes that would
// land past the end are dropped. Writes to a file that is the image of a
// running process write nothing.
func (f *File) Write(p []byte) (int, error) {
	if f.fs.writeDenied(f.id) {
		return 0, nil
	}

	pos := f.Tell()
	length := f.Length()

	if pos >= length {
		return 0, nil
	}

	if left := length - pos; int64(len(p)) > left {
		p = p[:left]
	}

	return f.f.Write(p)
}

// Length is the size of the file in bytes, or 0 if the file can not be
// examined.
func (f *File) Length() int64 {
	fi, err := f.f.Stat()
	if err != nil {
		log.L.Warn("stat failed", "file", f.id.name, "error", err)
		return 0
	}

	return fi.Size()
}

func (f *File) Seek(pos int64) {
	f.f.Seek(pos, io.SeekStart)
}

func (f *File) Tell() int64 {
	pos, err := f.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}

	return pos
}

// DenyWrite prevents writes through any handle to this file until
// AllowWrite or Close. A file later created under the same name is not
// affected.
func (f *File) DenyWrite() {
	if f.denying {
		return
	}

	f.denying = true
	f.fs.denyWrite(f.id)
}

func (f *File) AllowWrite() {
	if !f.denying {
		return
	}

	f.denying = false
	f.fs.allowWrite(f.id)
}

func (f *File) Close() error {
	f.AllowWrite()
	return f.f.Close()
}
