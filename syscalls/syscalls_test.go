package syscalls_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/alansparrow/pintos-pintos/console"
	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/loader"
	"github.com/alansparrow/pintos-pintos/memory"
	"github.com/alansparrow/pintos-pintos/syscalls"
	"github.com/alansparrow/pintos-pintos/ulib"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.String()
}

type machine struct {
	k   *kernel.Kernel
	out *syncBuffer
}

// boot starts a kernel that runs main as the program "prog".
func boot(t *testing.T, input string, main func(u *ulib.User, args []string) int) *machine {
	return bootFS(t, fs.NewMemFS(), input, main)
}

func bootFS(t *testing.T, fsys *fs.FS, input string, main func(u *ulib.User, args []string) int) *machine {
	programs := loader.NewPrograms()
	programs.Register("prog", ulib.Main(main))

	require.NoError(t, programs.Install(fsys))

	var out syncBuffer

	k, err := kernel.NewKernel(kernel.Config{
		FS:      fsys,
		Console: console.New(strings.NewReader(input), &out),
		Loader:  loader.NewLoader(loader.NewLoaderCache(), programs),
		Trap:    syscalls.NewInvoker(nil),
	})
	require.NoError(t, err)

	return &machine{k: k, out: &out}
}

func (m *machine) run(t *testing.T) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := m.k.Run(ctx, "prog")
	require.NoError(t, err)
	require.NoError(t, m.k.Wait())

	return status
}

const killed = "prog: exit(-1)\n"

func TestDispatch(t *testing.T) {
	n := neko.Modern(t)

	n.It("stores the result of a syscall in the accumulator", func(t *testing.T) {
		var got int32

		m := boot(t, "", func(u *ulib.User, args []string) int {
			got = u.Syscall(syscalls.SysWrite, kernel.StdoutFD, uint32(u.CString("hi")), 2)
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.Equal(t, int32(2), got)
		require.Equal(t, "hiprog: exit(0)\n", m.out.String())
	})

	n.It("kills the process on an unknown syscall", func(t *testing.T) {
		m := boot(t, "", func(u *ulib.User, args []string) int {
			u.Syscall(syscalls.Sysno(99))
			return 0
		})

		require.Equal(t, -1, m.run(t))
		require.Equal(t, killed, m.out.String())
	})

	n.It("kills the process when the stack pointer is not user memory", func(t *testing.T) {
		for _, esp := range []memory.Addr{0, memory.UserBottom - 4, memory.PhysBase, loader.HeapBase - 4} {
			esp := esp

			m := boot(t, "", func(u *ulib.User, args []string) int {
				u.Trap(esp)
				return 0
			})

			require.Equal(t, -1, m.run(t), "esp %#x", esp)
			require.Equal(t, killed, m.out.String())
		}
	})

	n.It("kills the process when the arguments run past the top of the stack", func(t *testing.T) {
		m := boot(t, "", func(u *ulib.User, args []string) int {
			esp := memory.PhysBase - 8

			u.Task().Mem.WriteUint32(esp, uint32(syscalls.SysWrite))
			u.Task().Mem.WriteUint32(esp+4, kernel.StdoutFD)

			u.Trap(esp)
			return 0
		})

		require.Equal(t, -1, m.run(t))
		require.Equal(t, killed, m.out.String())
	})

	n.It("never reads an invalid buffer", func(t *testing.T) {
		var (
			vm     *memory.VirtualMemory
			before uint64
		)

		m := boot(t, "", func(u *ulib.User, args []string) int {
			vm = u.Task().Mem
			before = vm.Accesses()

			u.Syscall(syscalls.SysWrite, kernel.StdoutFD, 0, 4)
			return 0
		})

		require.Equal(t, -1, m.run(t))
		require.Equal(t, killed, m.out.String())

		// Four words pushed by the program, four read back by the kernel.
		require.Equal(t, before+8, vm.Accesses())
	})

	n.It("kills the process for a buffer that crosses into an unmapped page", func(t *testing.T) {
		m := boot(t, "", func(u *ulib.User, args []string) int {
			reg, _ := u.Task().Mem.FindRegion(loader.HeapBase)

			u.Syscall(syscalls.SysWrite, kernel.StdoutFD, uint32(reg.End()-2), 4)
			return 0
		})

		require.Equal(t, -1, m.run(t))
		require.Equal(t, killed, m.out.String())
	})

	n.It("kills the process when reading into read-only memory", func(t *testing.T) {
		m := boot(t, "abcd", func(u *ulib.User, args []string) int {
			u.Syscall(syscalls.SysRead, kernel.StdinFD, uint32(memory.UserBottom), 4)
			return 0
		})

		require.Equal(t, -1, m.run(t))
		require.Equal(t, killed, m.out.String())
	})

	n.It("kills the process for an unterminated or kernel string", func(t *testing.T) {
		for _, pick := range []func(u *ulib.User) memory.Addr{
			func(u *ulib.User) memory.Addr {
				return memory.PhysBase + 16
			},
			func(u *ulib.User) memory.Addr {
				reg, _ := u.Task().Mem.FindRegion(loader.HeapBase)
				end := reg.End()

				u.Task().Mem.WriteAt([]byte("abc"), int64(end-3))
				return end - 3
			},
		} {
			pick := pick

			m := boot(t, "", func(u *ulib.User, args []string) int {
				u.Syscall(syscalls.SysOpen, uint32(pick(u)))
				return 0
			})

			require.Equal(t, -1, m.run(t))
			require.Equal(t, killed, m.out.String())
		}
	})

	n.It("exits with the given status", func(t *testing.T) {
		m := boot(t, "", func(u *ulib.User, args []string) int {
			u.Exit(42)
			return 0
		})

		require.Equal(t, 42, m.run(t))
		require.Equal(t, "prog: exit(42)\n", m.out.String())
	})

	n.It("powers off on halt without an exit line", func(t *testing.T) {
		m := boot(t, "", func(u *ulib.User, args []string) int {
			u.Halt()
			return 0
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := m.k.Run(ctx, "prog")
		require.Equal(t, kernel.ErrHalted, errors.Cause(err))
		require.NoError(t, m.k.Wait())

		require.True(t, m.k.Halted())
		require.Equal(t, "", m.out.String())
	})

	n.Meow()
}

func TestFileSyscalls(t *testing.T) {
	n := neko.Modern(t)

	n.It("creates, writes and reads back a file", func(t *testing.T) {
		type result struct {
			created, again, long, empty bool
			fd, fd2                     int
			size, written, tell         int
			read                        string
		}

		var r result

		m := boot(t, "", func(u *ulib.User, args []string) int {
			r.created = u.Create("data", 5)
			r.again = u.Create("data", 5)
			r.long = u.Create("fifteen-chars-x", 1)
			r.empty = u.Create("", 1)

			r.fd = u.Open("data")
			r.fd2 = u.Open("data")
			r.size = u.Filesize(r.fd)

			r.written = u.Write(r.fd, []byte("hello world"))
			r.tell = u.Tell(r.fd)

			buf := make([]byte, 16)
			got := u.Read(r.fd2, buf)
			r.read = string(buf[:got])

			u.Close(r.fd)
			u.Close(r.fd2)
			return 0
		})

		require.Equal(t, 0, m.run(t))

		require.True(t, r.created)
		require.False(t, r.again)
		require.False(t, r.long)
		require.False(t, r.empty)

		require.Equal(t, 2, r.fd)
		require.Equal(t, 3, r.fd2)
		require.Equal(t, 5, r.size)
		require.Equal(t, 5, r.written)
		require.Equal(t, 5, r.tell)
		require.Equal(t, "hello", r.read)
	})

	n.It("returns -1 for unknown descriptors and ignores closing them", func(t *testing.T) {
		var got []int

		m := boot(t, "", func(u *ulib.User, args []string) int {
			u.Close(-1)
			u.Close(7)

			got = append(got,
				u.Open("missing"),
				u.Read(-1, make([]byte, 4)),
				u.Write(9, []byte("x")),
				u.Filesize(5),
				u.Tell(5),
				u.Write(kernel.StdinFD, []byte("x")),
				u.Read(kernel.StdoutFD, make([]byte, 1)),
			)

			u.Seek(5, 0)
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.Equal(t, []int{-1, -1, -1, -1, -1, -1, -1}, got)
	})

	n.It("keeps removed files readable through open descriptors", func(t *testing.T) {
		var (
			removed, reopened bool
			data              string
		)

		m := boot(t, "", func(u *ulib.User, args []string) int {
			u.Create("tmp", 3)

			fd := u.Open("tmp")
			u.Write(fd, []byte("abc"))
			u.Seek(fd, 0)

			removed = u.Remove("tmp")
			reopened = u.Open("tmp") >= 0

			buf := make([]byte, 3)
			data = string(buf[:u.Read(fd, buf)])
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.True(t, removed)
		require.False(t, reopened)
		require.Equal(t, "abc", data)
	})

	n.It("reads the keyboard on descriptor 0", func(t *testing.T) {
		var data string

		m := boot(t, "xyz", func(u *ulib.User, args []string) int {
			buf := make([]byte, 8)
			data = string(buf[:u.Read(kernel.StdinFD, buf)])
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.Equal(t, "xyz", data)
	})

	n.It("refuses writes to a running executable", func(t *testing.T) {
		var written int

		m := boot(t, "", func(u *ulib.User, args []string) int {
			fd := u.Open("prog")
			written = u.Write(fd, []byte("#!"))
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.Equal(t, 0, written)
	})

	n.It("lets a new file under a running executable's name be written", func(t *testing.T) {
		var (
			removed, created bool
			written          int
		)

		m := boot(t, "", func(u *ulib.User, args []string) int {
			removed = u.Remove("prog")
			created = u.Create("prog", 4)

			fd := u.Open("prog")
			written = u.Write(fd, []byte("abcd"))
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.True(t, removed)
		require.True(t, created)
		require.Equal(t, 4, written)
	})

	n.It("fails to create a file the disk can not hold", func(t *testing.T) {
		var big, small bool

		m := boot(t, "", func(u *ulib.User, args []string) int {
			big = u.Create("big", 0xFFFFFFF0)
			small = u.Create("small", 4)
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.False(t, big)
		require.True(t, small)
		require.Equal(t, "prog: exit(0)\n", m.out.String())
	})

	n.It("returns -1 for a file too large to report", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "huge"), nil, 0644))
		require.NoError(t, os.Truncate(filepath.Join(dir, "huge"), 3<<30))

		var size int

		m := bootFS(t, fs.NewHostFS(dir), "", func(u *ulib.User, args []string) int {
			size = u.Filesize(u.Open("huge"))
			return 0
		})

		require.Equal(t, 0, m.run(t))
		require.Equal(t, -1, size)
	})

	n.Meow()
}

func TestSysnoString(t *testing.T) {
	require.Equal(t, "write", syscalls.SysWrite.String())
	require.Equal(t, "close", syscalls.SysClose.String())
	require.Equal(t, "{Syscall 99}", syscalls.Sysno(99).String())
}
