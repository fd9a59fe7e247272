package memory

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAddr(t *testing.T) {
	require.Equal(t, Addr(0x08048000), Addr(0x08048abc).PageRoundDown())
	require.Equal(t, 0xabc, Addr(0x08048abc).PageOffset())

	up, ok := Addr(0x08048001).PageRoundUp()
	require.True(t, ok)
	require.Equal(t, Addr(0x08049000), up)

	_, ok = Addr(0xfffffff0).PageRoundUp()
	require.False(t, ok)

	_, ok = Addr(0xfffffff0).AddLength(0x20)
	require.False(t, ok)

	require.True(t, IsUserAddr(PhysBase-1))
	require.False(t, IsUserAddr(PhysBase))
}

func TestAddrRangePages(t *testing.T) {
	ar, ok := RangeOf(0x08048ff0, 0x20)
	require.True(t, ok)

	var pages []Addr
	ar.Pages(func(p Addr) bool {
		pages = append(pages, p)
		return true
	})

	require.Equal(t, []Addr{0x08048000, 0x08049000}, pages)

	pages = nil
	AddrRange{Start: 10, End: 10}.Pages(func(p Addr) bool {
		pages = append(pages, p)
		return true
	})
	require.Empty(t, pages)
}

func TestVirtualMemory(t *testing.T) {
	t.Run("reads and writes across pages", func(t *testing.T) {
		vm := NewVirtualMemory()

		_, err := vm.NewRegion(UserBottom, 2*PageSize, true)
		require.NoError(t, err)

		data := []byte("spans two pages")
		off := int64(UserBottom) + PageSize - 4

		n, err := vm.WriteAt(data, off)
		require.NoError(t, err)
		require.Equal(t, len(data), n)

		got := make([]byte, len(data))
		_, err = vm.ReadAt(got, off)
		require.NoError(t, err)
		require.Equal(t, data, got)

		require.Equal(t, uint64(2), vm.Accesses())
	})

	t.Run("faults on unmapped pages", func(t *testing.T) {
		vm := NewVirtualMemory()

		_, err := vm.NewRegion(UserBottom, PageSize, true)
		require.NoError(t, err)

		buf := make([]byte, 8)
		n, err := vm.ReadAt(buf, int64(UserBottom)+PageSize-4)
		require.Equal(t, ErrInvalidMemoryAccess, errors.Cause(err))
		require.Equal(t, 4, n)
	})

	t.Run("refuses writes to read-only pages", func(t *testing.T) {
		vm := NewVirtualMemory()

		_, err := vm.NewRegion(UserBottom, PageSize, false)
		require.NoError(t, err)

		err = vm.WriteUint32(UserBottom, 7)
		require.Equal(t, ErrReadOnly, errors.Cause(err))
	})

	t.Run("rejects overlapping and out of range regions", func(t *testing.T) {
		vm := NewVirtualMemory()

		_, err := vm.NewRegion(UserBottom, 2*PageSize, true)
		require.NoError(t, err)

		_, err = vm.NewRegion(UserBottom+PageSize, PageSize, true)
		require.Equal(t, ErrBadRegionRequest, errors.Cause(err))

		_, err = vm.NewRegion(PhysBase, PageSize, true)
		require.Equal(t, ErrBadRegionRequest, errors.Cause(err))

		_, err = vm.NewRegion(0x1000, PageSize, true)
		require.Equal(t, ErrBadRegionRequest, errors.Cause(err))

		_, err = vm.NewRegion(PhysBase-PageSize, PageSize, true)
		require.NoError(t, err)

		require.Equal(t, 3*PageSize, vm.Size())
	})

	t.Run("destroy unmaps everything", func(t *testing.T) {
		vm := NewVirtualMemory()

		_, err := vm.NewRegion(UserBottom, PageSize, true)
		require.NoError(t, err)

		vm.Destroy()

		_, ok := vm.Lookup(UserBottom)
		require.False(t, ok)
		require.Equal(t, 0, vm.PageDirectory().Mapped())
	})
}
