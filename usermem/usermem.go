// Package usermem decides whether user supplied addresses are safe for the
// kernel to touch.
//
// Every check consults only the address-space bounds and the page directory.
// No check ever reads user memory through an address it has not already
// proven to be mapped.
package usermem

import (
	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/memory"
)

var ErrBadAddress = errors.New("invalid user memory access")

// AddressSpace is the view of a process's memory the checks need.
type AddressSpace interface {
	Lookup(va memory.Addr) (*memory.Page, bool)
}

// CheckPointer fails unless addr is inside the user region and mapped.
func CheckPointer(as AddressSpace, addr memory.Addr) error {
	_, err := checkPage(as, addr, false)
	return err
}

func inUserRegion(addr memory.Addr) bool {
	return addr >= memory.UserBottom && memory.IsUserAddr(addr)
}

func checkPage(as AddressSpace, addr memory.Addr, write bool) (*memory.Page, error) {
	if !inUserRegion(addr) {
		return nil, errors.Wrapf(ErrBadAddress, "address %#x outside user region", addr)
	}

	page, ok := as.Lookup(addr)
	if !ok {
		return nil, errors.Wrapf(ErrBadAddress, "address %#x not mapped", addr)
	}

	if write && !page.Writable {
		return nil, errors.Wrapf(ErrBadAddress, "address %#x is read-only", addr)
	}

	return page, nil
}

// CheckBuffer validates [addr, addr+length) a page at a time. The start
// address is checked even for an empty buffer. When write is set, every page
// must also be writable.
func CheckBuffer(as AddressSpace, addr memory.Addr, length uint32, write bool) (memory.AddrRange, error) {
	if _, err := checkPage(as, addr, write); err != nil {
		return memory.AddrRange{}, err
	}

	ar, ok := memory.RangeOf(addr, length)
	if !ok {
		return memory.AddrRange{}, errors.Wrapf(ErrBadAddress, "buffer %#x+%d wraps", addr, length)
	}

	var err error

	ar.Pages(func(page memory.Addr) bool {
		// The first page may start below addr, so check addr itself there.
		probe := page
		if probe < addr {
			probe = addr
		}

		_, err = checkPage(as, probe, write)
		return err == nil
	})

	if err != nil {
		return memory.AddrRange{}, err
	}

	if length > 0 {
		if _, err := checkPage(as, ar.End-1, write); err != nil {
			return memory.AddrRange{}, err
		}
	}

	return ar, nil
}

// CopyInString scans the NUL terminated string at addr byte by byte, moving
// to a new page only after that page has been validated, and returns it
// without the terminator.
func CopyInString(as AddressSpace, addr memory.Addr) (string, error) {
	var (
		buf  []byte
		page *memory.Page
		cur  memory.Addr
	)

	for a := addr; ; a++ {
		if page == nil || a.PageRoundDown() != cur {
			p, err := checkPage(as, a, false)
			if err != nil {
				return "", errors.Wrapf(err, "string at %#x", addr)
			}

			page = p
			cur = a.PageRoundDown()
		}

		b := page.Frame[a.PageOffset()]
		if b == 0 {
			return string(buf), nil
		}

		buf = append(buf, b)
	}
}
