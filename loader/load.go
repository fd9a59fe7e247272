package loader

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/log"
	"github.com/alansparrow/pintos-pintos/memory"
)

const (
	// HeapBase is where the heap region of every process starts.
	HeapBase memory.Addr = 0x10000000

	DefaultHeapPages = 16
)

var (
	ErrNoProgram      = errors.New("empty command line")
	ErrUnknownProgram = errors.New("unknown program")
)

type LoaderCache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewLoaderCache() *LoaderCache {
	cache, err := lru.NewARC(100)
	if err != nil {
		panic(err)
	}

	return &LoaderCache{cache: cache}
}

func (l *LoaderCache) Lookup(key string) (*Image, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	val, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*Image), true
}

func (l *LoaderCache) Set(key string, img *Image) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Add(key, img)
}

func (l *LoaderCache) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cache.Len()
}

func NewLoader(cache *LoaderCache, programs *Programs) *Loader {
	return &Loader{
		L:         log.L.Named("loader"),
		HeapPages: DefaultHeapPages,
		cache:     cache,
		programs:  programs,
	}
}

// Loader implements kernel.Loader. Executables are image files in the
// kernel's file system naming a registered Program.
type Loader struct {
	L         hclog.Logger
	HeapPages int

	cache    *LoaderCache
	programs *Programs
}

// Load opens argv[0], keeps it open and write-protected for the life of the
// process, builds the address space and lays out argv on the stack.
func (l *Loader) Load(ctx context.Context, t *kernel.Task, cmdline string) (kernel.Entry, error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil, ErrNoProgram
	}

	data, err := l.readExecutable(t, args[0])
	if err != nil {
		return nil, err
	}

	img, err := l.image(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", args[0])
	}

	prog, ok := l.programs.Lookup(img.Program)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProgram, "%s wants %q", args[0], img.Program)
	}

	if err := l.mapImage(t.Mem, data); err != nil {
		return nil, err
	}

	esp, err := setupStack(t.Mem, args)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", args[0])
	}

	l.L.Trace("loaded", "pid", t.Pid, "file", args[0], "program", img.Program, "esp", esp)

	return func(ctx context.Context, t *kernel.Task) {
		prog(ctx, t, esp)
	}, nil
}

func (l *Loader) readExecutable(t *kernel.Task, name string) ([]byte, error) {
	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, err := k.FS.Open(name)
	if err != nil {
		return nil, err
	}

	data := make([]byte, f.Length())

	n, err := f.Read(data)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reading %s", name)
	}

	f.DenyWrite()
	t.SetExecutable(f)

	return data[:n], nil
}

func (l *Loader) image(data []byte) (*Image, error) {
	var cacheKey string

	if l.cache != nil {
		sum := blake2b.Sum256(data)
		cacheKey = base64.URLEncoding.EncodeToString(sum[:])

		if img, ok := l.cache.Lookup(cacheKey); ok {
			l.L.Trace("using cached image", "key", cacheKey)
			return img, nil
		}
	}

	img, err := ParseImage(data)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		l.L.Debug("cached image", "key", cacheKey, "program", img.Program)
		l.cache.Set(cacheKey, img)
	}

	return img, nil
}

// mapImage maps the read-only code region at UserBottom holding the image,
// the heap, and the stack page just below PhysBase.
func (l *Loader) mapImage(vm *memory.VirtualMemory, data []byte) error {
	code, err := vm.NewRegion(memory.UserBottom, uint32(len(data)), false)
	if err != nil {
		return errors.Wrapf(err, "mapping code")
	}

	// The code pages are read-only to the user, so fill the frames directly.
	for off := 0; off < len(data); off += memory.PageSize {
		page, ok := vm.Lookup(code.Start + memory.Addr(off))
		if !ok {
			return errors.Wrapf(memory.ErrInvalidMemoryAccess, "code page %#x", code.Start+memory.Addr(off))
		}

		copy(page.Frame[:], data[off:])
	}

	heap := l.HeapPages
	if heap <= 0 {
		heap = DefaultHeapPages
	}

	if _, err := vm.NewRegion(HeapBase, uint32(heap*memory.PageSize), true); err != nil {
		return errors.Wrapf(err, "mapping heap")
	}

	if _, err := vm.NewRegion(StackPage, memory.PageSize, true); err != nil {
		return errors.Wrapf(err, "mapping stack")
	}

	return nil
}
