package kernel

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/fs"
)

const (
	StdinFD  = 0
	StdoutFD = 1

	firstFD = 2
)

var (
	ErrUnknownFile  = errors.New("unknown file")
	ErrTooManyFiles = errors.New("too many open files")
)

type fdEntry struct {
	fd   int
	file *fs.File
}

// FDTable maps a process's descriptors to open files. Descriptors are handed
// out in increasing order starting at 2 and never reused.
type FDTable struct {
	mu      sync.Mutex
	next    int
	limit   int
	entries []fdEntry
}

// NewFDTable returns a table holding at most limit files. A limit of zero
// means no limit.
func NewFDTable(limit int) *FDTable {
	return &FDTable{
		next:  firstFD,
		limit: limit,
	}
}

func (t *FDTable) Install(f *fs.File) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limit > 0 && len(t.entries) >= t.limit {
		return -1, ErrTooManyFiles
	}

	fd := t.next
	t.next++

	t.entries = append(t.entries, fdEntry{fd: fd, file: f})

	return fd, nil
}

func (t *FDTable) Get(fd int) (*fs.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.fd == fd {
			return e.file, true
		}
	}

	return nil, false
}

func (t *FDTable) Remove(fd int) (*fs.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.fd == fd {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return e.file, true
		}
	}

	return nil, false
}

// RemoveAll empties the table and returns the files it held.
func (t *FDTable) RemoveAll() []*fs.File {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := make([]*fs.File, 0, len(t.entries))
	for _, e := range t.entries {
		files = append(files, e.file)
	}

	t.entries = nil

	return files
}

func (t *FDTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// OpenFile opens name and installs it in the process's table.
func (p *Process) OpenFile(name string) (int, error) {
	k := p.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, err := k.FS.Open(name)
	if err != nil {
		return -1, err
	}

	fd, err := p.files.Install(f)
	if err != nil {
		f.Close()
		return -1, errors.Wrapf(err, "opening %s", name)
	}

	return fd, nil
}

// GetFile looks fd up in this process's table. The console descriptors are
// never in the table.
func (p *Process) GetFile(fd int) (*fs.File, bool) {
	return p.files.Get(fd)
}

func (p *Process) CloseFile(fd int) error {
	k := p.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, ok := p.files.Remove(fd)
	if !ok {
		return errors.Wrapf(ErrUnknownFile, "fd %d", fd)
	}

	return f.Close()
}

func (p *Process) Files() *FDTable {
	return p.files
}
