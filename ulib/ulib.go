// Package ulib is the user side of the syscall interface. Programs call its
// methods the way a C program calls its libc stubs: arguments are pushed on
// the user stack and the kernel is entered through a trap.
package ulib

import (
	"context"
	"fmt"
	"runtime"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/loader"
	"github.com/alansparrow/pintos-pintos/memory"
	"github.com/alansparrow/pintos-pintos/syscalls"
)

// User is a running user program.
type User struct {
	ctx context.Context
	t   *kernel.Task

	sp    memory.Addr
	frame kernel.TrapFrame

	heap, heapEnd memory.Addr
}

func New(ctx context.Context, t *kernel.Task, esp memory.Addr) *User {
	u := &User{
		ctx:  ctx,
		t:    t,
		sp:   esp,
		heap: loader.HeapBase,
	}

	if reg, ok := t.Mem.FindRegion(loader.HeapBase); ok {
		u.heapEnd = reg.End()
	}

	return u
}

// Main adapts fn into a loadable program. fn's result becomes the exit
// status.
func Main(fn func(u *User, args []string) int) loader.Program {
	return func(ctx context.Context, t *kernel.Task, esp memory.Addr) {
		u := New(ctx, t, esp)

		args, err := loader.ReadArgs(t.Mem, esp)
		if err != nil {
			u.Exit(-1)
		}

		u.Exit(fn(u, args))
	}
}

func (u *User) Task() *kernel.Task {
	return u.t
}

// Trap enters the kernel with the stack pointer at esp and returns the
// accumulator. If the kernel does not return to the program, neither does
// Trap.
func (u *User) Trap(esp memory.Addr) int32 {
	u.frame.Reset(esp)

	if err := u.t.Kernel.Trap().Dispatch(u.ctx, u.t, &u.frame); err != nil {
		runtime.Goexit()
	}

	return int32(u.frame.EAX)
}

// Syscall pushes num and args below the stack pointer and traps.
func (u *User) Syscall(num syscalls.Sysno, args ...uint32) int32 {
	esp := u.sp - memory.Addr(4*(len(args)+1))

	u.mustWrite(esp, uint32(num))

	for i, arg := range args {
		u.mustWrite(esp+memory.Addr(4*(i+1)), arg)
	}

	return u.Trap(esp)
}

func (u *User) mustWrite(addr memory.Addr, v uint32) {
	if err := u.t.Mem.WriteUint32(addr, v); err != nil {
		panic(fmt.Sprintf("user stack fault at %#x: %s", addr, err))
	}
}

// Alloc reserves n bytes of heap.
func (u *User) Alloc(n uint32) memory.Addr {
	addr := u.heap

	end, ok := addr.AddLength(n)
	if !ok || end > u.heapEnd {
		panic(fmt.Sprintf("out of heap allocating %d bytes", n))
	}

	u.heap = (end + 3) &^ 3

	return addr
}

// scratch runs fn and then releases everything it allocated.
func (u *User) scratch(fn func()) {
	mark := u.heap
	defer func() {
		u.heap = mark
	}()

	fn()
}

// CString places s, NUL terminated, on the heap.
func (u *User) CString(s string) memory.Addr {
	addr := u.Alloc(uint32(len(s) + 1))

	buf := append([]byte(s), 0)
	if _, err := u.t.Mem.WriteAt(buf, int64(addr)); err != nil {
		panic(err)
	}

	return addr
}

// Bytes places a copy of data on the heap.
func (u *User) Bytes(data []byte) memory.Addr {
	addr := u.Alloc(uint32(len(data)))

	if _, err := u.t.Mem.WriteAt(data, int64(addr)); err != nil {
		panic(err)
	}

	return addr
}

func (u *User) Halt() {
	u.Syscall(syscalls.SysHalt)
	panic("halt returned")
}

func (u *User) Exit(status int) {
	u.Syscall(syscalls.SysExit, uint32(int32(status)))
	panic("exit returned")
}

func (u *User) Exec(cmdline string) int {
	var pid int32

	u.scratch(func() {
		pid = u.Syscall(syscalls.SysExec, uint32(u.CString(cmdline)))
	})

	return int(pid)
}

func (u *User) Wait(pid int) int {
	return int(u.Syscall(syscalls.SysWait, uint32(int32(pid))))
}

func (u *User) Create(name string, size uint32) bool {
	var ok int32

	u.scratch(func() {
		ok = u.Syscall(syscalls.SysCreate, uint32(u.CString(name)), size)
	})

	return ok != 0
}

func (u *User) Remove(name string) bool {
	var ok int32

	u.scratch(func() {
		ok = u.Syscall(syscalls.SysRemove, uint32(u.CString(name)))
	})

	return ok != 0
}

func (u *User) Open(name string) int {
	var fd int32

	u.scratch(func() {
		fd = u.Syscall(syscalls.SysOpen, uint32(u.CString(name)))
	})

	return int(fd)
}

func (u *User) Filesize(fd int) int {
	return int(u.Syscall(syscalls.SysFilesize, uint32(int32(fd))))
}

// Read reads into p through a heap buffer.
func (u *User) Read(fd int, p []byte) int {
	var n int32

	u.scratch(func() {
		buf := u.Alloc(uint32(len(p)))

		n = u.Syscall(syscalls.SysRead, uint32(int32(fd)), uint32(buf), uint32(len(p)))
		if n > 0 {
			if _, err := u.t.Mem.ReadAt(p[:n], int64(buf)); err != nil {
				panic(err)
			}
		}
	})

	return int(n)
}

func (u *User) Write(fd int, p []byte) int {
	var n int32

	u.scratch(func() {
		n = u.Syscall(syscalls.SysWrite, uint32(int32(fd)), uint32(u.Bytes(p)), uint32(len(p)))
	})

	return int(n)
}

func (u *User) Seek(fd int, pos uint32) {
	u.Syscall(syscalls.SysSeek, uint32(int32(fd)), pos)
}

func (u *User) Tell(fd int) int {
	return int(u.Syscall(syscalls.SysTell, uint32(int32(fd))))
}

func (u *User) Close(fd int) {
	u.Syscall(syscalls.SysClose, uint32(int32(fd)))
}

// Printf writes to the console.
func (u *User) Printf(format string, args ...interface{}) int {
	return u.Write(kernel.StdoutFD, []byte(fmt.Sprintf(format, args...)))
}
