package memory

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

type Region struct {
	Start    Addr
	Size     uint32
	Writable bool
}

func (reg *Region) Contains(x Addr) bool {
	if x < reg.Start {
		return false
	}

	if uint64(x) >= uint64(reg.Start)+uint64(reg.Size) {
		return false
	}

	return true
}

func (reg *Region) End() Addr {
	return reg.Start + Addr(reg.Size)
}

func pageRound(sz uint32) uint32 {
	if sz < PageSize {
		return PageSize
	}

	diff := sz % PageSize
	if diff == 0 {
		return sz
	}

	return sz + (PageSize - diff)
}

// VirtualMemory is a process's user address space: a set of regions whose
// pages are mapped in a PageDirectory.
type VirtualMemory struct {
	pd *PageDirectory

	mu      sync.Mutex
	regions []*Region
	size    uint32

	accesses uint64
}

func NewVirtualMemory() *VirtualMemory {
	return &VirtualMemory{
		pd: NewPageDirectory(),
	}
}

func (vm *VirtualMemory) PageDirectory() *PageDirectory {
	return vm.pd
}

// Lookup translates va to its mapped page without accessing it.
func (vm *VirtualMemory) Lookup(va Addr) (*Page, bool) {
	return vm.pd.Lookup(va)
}

func (vm *VirtualMemory) Size() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	return int(vm.size)
}

func (vm *VirtualMemory) FindRegion(addr Addr) (*Region, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	return vm.findRegion(addr)
}

func (vm *VirtualMemory) findRegion(addr Addr) (*Region, bool) {
	for _, reg := range vm.regions {
		if reg.Contains(addr) {
			return reg, true
		}
	}

	return nil, false
}

var (
	ErrInvalidMemoryAccess = errors.New("invalid memory access")
	ErrReadOnly            = errors.New("write to read-only page")
	ErrBadRegionRequest    = errors.New("bad region request")
)

// NewRegion maps size bytes, rounded up to whole pages, starting at the page
// aligned address start.
func (vm *VirtualMemory) NewRegion(start Addr, size uint32, writable bool) (*Region, error) {
	if start.PageOffset() != 0 || start < UserBottom {
		return nil, errors.Wrapf(ErrBadRegionRequest, "start=%x", start)
	}

	size = pageRound(size)

	end, ok := start.AddLength(size)
	if !ok || end > PhysBase {
		return nil, errors.Wrapf(ErrBadRegionRequest, "start=%x, size=%x", start, size)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	for _, reg := range vm.regions {
		if start < reg.End() && reg.Start < end {
			return nil, errors.Wrapf(ErrBadRegionRequest, "overlaps region at %x", reg.Start)
		}
	}

	for va := start; va < end; va += PageSize {
		if _, err := vm.pd.Map(va, writable); err != nil {
			for undo := start; undo < va; undo += PageSize {
				vm.pd.Unmap(undo)
			}

			return nil, err
		}
	}

	reg := &Region{
		Start:    start,
		Size:     size,
		Writable: writable,
	}

	vm.regions = append(vm.regions, reg)
	vm.size += size

	return reg, nil
}

// Accesses returns how many reads and writes have been made through
// ReadAt/WriteAt.
func (vm *VirtualMemory) Accesses() uint64 {
	return atomic.LoadUint64(&vm.accesses)
}

func (vm *VirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	return vm.access(p, off, false)
}

func (vm *VirtualMemory) WriteAt(p []byte, off int64) (int, error) {
	return vm.access(p, off, true)
}

func (vm *VirtualMemory) access(p []byte, off int64, write bool) (int, error) {
	atomic.AddUint64(&vm.accesses, 1)

	if off < 0 || off+int64(len(p)) > 1<<32 {
		return 0, errors.Wrapf(ErrInvalidMemoryAccess, "address=%x, size=%x", off, len(p))
	}

	done := 0

	for done < len(p) {
		addr := Addr(off + int64(done))

		page, ok := vm.pd.Lookup(addr)
		if !ok {
			return done, errors.Wrapf(ErrInvalidMemoryAccess, "unmapped address=%x", addr)
		}

		po := addr.PageOffset()

		if write {
			if !page.Writable {
				return done, errors.Wrapf(ErrReadOnly, "address=%x", addr)
			}

			done += copy(page.Frame[po:], p[done:])
		} else {
			done += copy(p[done:], page.Frame[po:])
		}
	}

	return done, nil
}

func (vm *VirtualMemory) ReadUint32(addr Addr) (uint32, error) {
	var buf [4]byte

	_, err := vm.ReadAt(buf[:], int64(addr))
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (vm *VirtualMemory) WriteUint32(addr Addr, v uint32) error {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], v)

	_, err := vm.WriteAt(buf[:], int64(addr))
	return err
}

// Destroy unmaps every region.
func (vm *VirtualMemory) Destroy() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.pd.Destroy()
	vm.regions = nil
	vm.size = 0
}
