// Package programs holds the user programs shipped with the kernel.
package programs

import (
	"strconv"
	"strings"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/loader"
	"github.com/alansparrow/pintos-pintos/syscalls"
	"github.com/alansparrow/pintos-pintos/ulib"
)

// Register adds every program to reg.
func Register(reg *loader.Programs) {
	reg.Register("echo", ulib.Main(echo))
	reg.Register("cat", ulib.Main(cat))
	reg.Register("halt", ulib.Main(halt))
	reg.Register("exit", ulib.Main(exit))
	reg.Register("exec-wait", ulib.Main(execWait))
	reg.Register("write-file", ulib.Main(writeFile))
	reg.Register("bad-ptr", ulib.Main(badPtr))
}

// echo ARGS...
func echo(u *ulib.User, args []string) int {
	u.Printf("%s\n", strings.Join(args[1:], " "))
	return 0
}

// cat FILES... copies each file to the console, or the keyboard when no
// files are named.
func cat(u *ulib.User, args []string) int {
	if len(args) < 2 {
		copyFD(u, kernel.StdinFD)
		return 0
	}

	status := 0

	for _, name := range args[1:] {
		fd := u.Open(name)
		if fd < 0 {
			u.Printf("cat: %s: no such file\n", name)
			status = 1
			continue
		}

		copyFD(u, fd)
		u.Close(fd)
	}

	return status
}

func copyFD(u *ulib.User, fd int) {
	var buf [64]byte

	for {
		n := u.Read(fd, buf[:])
		if n <= 0 {
			return
		}

		u.Write(kernel.StdoutFD, buf[:n])
	}
}

func halt(u *ulib.User, args []string) int {
	u.Halt()
	return 0
}

// exit [STATUS]
func exit(u *ulib.User, args []string) int {
	if len(args) < 2 {
		return 0
	}

	status, err := strconv.Atoi(args[1])
	if err != nil {
		return -1
	}

	return status
}

// exec-wait CMDLINE... runs the command line as a child and exits with its
// status.
func execWait(u *ulib.User, args []string) int {
	if len(args) < 2 {
		return -1
	}

	pid := u.Exec(strings.Join(args[1:], " "))
	if pid < 0 {
		u.Printf("exec-wait: unable to run %s\n", args[1])
		return -1
	}

	return u.Wait(pid)
}

// write-file NAME TEXT... creates NAME holding TEXT.
func writeFile(u *ulib.User, args []string) int {
	if len(args) < 3 {
		return -1
	}

	data := []byte(strings.Join(args[2:], " "))

	if !u.Create(args[1], uint32(len(data))) {
		return 1
	}

	fd := u.Open(args[1])
	if fd < 0 {
		return 1
	}
	defer u.Close(fd)

	if u.Write(fd, data) != len(data) {
		return 1
	}

	return 0
}

// bad-ptr hands the kernel a null buffer and never gets to return.
func badPtr(u *ulib.User, args []string) int {
	u.Syscall(syscalls.SysWrite, kernel.StdoutFD, 0, 4)
	return 0
}
