package memory

// PageSize is the granularity at which user memory is mapped.
const PageSize = 4096

const (
	// UserBottom is the guard address. Nothing below it is user memory.
	UserBottom Addr = 0x08048000

	// PhysBase is the boundary between user and kernel addresses.
	PhysBase Addr = 0xC0000000
)

// Addr is a user virtual address.
type Addr uint32

func (a Addr) PageRoundDown() Addr {
	return a &^ (PageSize - 1)
}

// PageRoundUp returns the address rounded up to the nearest page boundary.
// ok is false if rounding wrapped around.
func (a Addr) PageRoundUp() (addr Addr, ok bool) {
	addr = Addr(a + PageSize - 1).PageRoundDown()
	ok = addr >= a
	return
}

func (a Addr) PageOffset() int {
	return int(a & (PageSize - 1))
}

// AddLength returns the end of the range starting at a with length n. ok is
// false if the range wraps around the address space.
func (a Addr) AddLength(n uint32) (end Addr, ok bool) {
	end = a + Addr(n)
	ok = end >= a
	return
}

// IsUserAddr reports whether a lies below the kernel boundary.
func IsUserAddr(a Addr) bool {
	return a < PhysBase
}

// AddrRange is the half-open range [Start, End).
type AddrRange struct {
	Start, End Addr
}

// RangeOf builds the range starting at start of length n.
func RangeOf(start Addr, n uint32) (AddrRange, bool) {
	end, ok := start.AddLength(n)
	if !ok {
		return AddrRange{}, false
	}

	return AddrRange{Start: start, End: end}, true
}

func (ar AddrRange) Length() uint32 {
	return uint32(ar.End - ar.Start)
}

func (ar AddrRange) Contains(a Addr) bool {
	return a >= ar.Start && a < ar.End
}

// Pages calls fn with the start of every page overlapping ar, in order,
// until fn returns false.
func (ar AddrRange) Pages(fn func(page Addr) bool) {
	if ar.End <= ar.Start {
		return
	}

	for p := ar.Start.PageRoundDown(); p < ar.End; p += PageSize {
		if !fn(p) {
			return
		}

		if p+PageSize < p {
			return
		}
	}
}
