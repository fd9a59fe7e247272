// Package fs is the file system the kernel serves files from: a single flat
// directory of fixed size files kept in an afero.Fs.
//
// FS does no locking of its own beyond what keeps its bookkeeping consistent;
// callers serialize operations with the kernel's file system lock.
package fs

import (
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// NameMax is the longest file name Create accepts.
const NameMax = 14

const (
	// DefaultCapacity is the size of a disk unless SetCapacity says otherwise.
	DefaultCapacity = 16 << 20

	// MaxFileSize is the largest file Create makes, however much space is free.
	MaxFileSize = 8 << 20
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrExists      = errors.New("file exists")
	ErrUnknownPath = errors.New("unknown path")
	ErrNoSpace     = errors.New("no space left on disk")
)

// fileID names one incarnation of a file. A name removed and created again
// gets a new generation.
type fileID struct {
	name string
	gen  uint64
}

type FS struct {
	fs       afero.Fs
	capacity int64

	mu      sync.Mutex
	gens    map[string]uint64
	nextGen uint64
	denied  map[fileID]int
}

func New(fs afero.Fs) *FS {
	return &FS{
		fs:       fs,
		capacity: DefaultCapacity,
		gens:     make(map[string]uint64),
		denied:   make(map[fileID]int),
	}
}

// NewMemFS returns an empty FS held in memory.
func NewMemFS() *FS {
	return New(afero.NewMemMapFs())
}

// NewHostFS serves the files below dir on the host.
func NewHostFS(dir string) *FS {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

func (f *FS) Afero() afero.Fs {
	return f.fs
}

// SetCapacity sets the number of bytes all files together may occupy.
func (f *FS) SetCapacity(n int64) {
	f.capacity = n
}

func (f *FS) Capacity() int64 {
	return f.capacity
}

// Free reports how many bytes of the capacity are not held by files.
func (f *FS) Free() (int64, error) {
	entries, err := afero.ReadDir(f.fs, "/")
	if err != nil {
		return 0, errors.Wrapf(err, "reading root")
	}

	var used int64

	for _, fi := range entries {
		if fi.Mode().IsRegular() {
			used += fi.Size()
		}
	}

	if used >= f.capacity {
		return 0, nil
	}

	return f.capacity - used, nil
}

func lookupName(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}

	return path.Join("/", name), nil
}

// Create makes a new file of size zero bytes. It fails if name is empty, too
// long, or already exists, and with ErrNoSpace if the disk can not hold size
// more bytes.
func (f *FS) Create(name string, size uint32) error {
	p, err := lookupName(name)
	if err != nil {
		return err
	}

	if len(name) > NameMax {
		return errors.Wrapf(ErrInvalidName, "%q longer than %d", name, NameMax)
	}

	exists, err := afero.Exists(f.fs, p)
	if err != nil {
		return errors.Wrapf(err, "checking %s", name)
	}

	if exists {
		return errors.Wrapf(ErrExists, "%s", name)
	}

	if int64(size) > MaxFileSize {
		return errors.Wrapf(ErrNoSpace, "%s: %d bytes is over the %d byte file limit", name, size, MaxFileSize)
	}

	free, err := f.Free()
	if err != nil {
		return err
	}

	if int64(size) > free {
		return errors.Wrapf(ErrNoSpace, "%s: %d bytes wanted, %d free", name, size, free)
	}

	file, err := f.fs.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", name)
	}

	defer file.Close()

	f.newGeneration(name)

	if err := file.Truncate(int64(size)); err != nil {
		return errors.Wrapf(err, "sizing %s", name)
	}

	return nil
}

func (f *FS) Remove(name string) error {
	p, err := lookupName(name)
	if err != nil {
		return err
	}

	fi, err := f.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrUnknownPath, "%s", name)
		}

		return err
	}

	if fi.IsDir() {
		return errors.Wrapf(ErrInvalidName, "%s is a directory", name)
	}

	if err := f.fs.Remove(p); err != nil {
		return err
	}

	// Handles still open keep the old generation.
	f.newGeneration(name)

	return nil
}

func (f *FS) Open(name string) (*File, error) {
	p, err := lookupName(name)
	if err != nil {
		return nil, err
	}

	file, err := f.fs.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrUnknownPath, "%s", name)
		}

		return nil, errors.Wrapf(err, "opening %s", name)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if fi.IsDir() {
		file.Close()
		return nil, errors.Wrapf(ErrUnknownPath, "%s is a directory", name)
	}

	return &File{fs: f, id: f.identify(name), f: file}, nil
}

// WriteFile creates name holding data, replacing any previous contents.
func (f *FS) WriteFile(name string, data []byte) error {
	p, err := lookupName(name)
	if err != nil {
		return err
	}

	return afero.WriteFile(f.fs, p, data, 0644)
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	p, err := lookupName(name)
	if err != nil {
		return nil, err
	}

	return afero.ReadFile(f.fs, p)
}

func (f *FS) newGeneration(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextGen++
	f.gens[name] = f.nextGen
}

func (f *FS) identify(name string) fileID {
	f.mu.Lock()
	defer f.mu.Unlock()

	return fileID{name: name, gen: f.gens[name]}
}

func (f *FS) denyWrite(id fileID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.denied[id]++
}

func (f *FS) allowWrite(id fileID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.denied[id]--
	if f.denied[id] <= 0 {
		delete(f.denied, id)
	}
}

func (f *FS) writeDenied(id fileID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.denied[id] > 0
}
