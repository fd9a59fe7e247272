package syscalls

import (
	"context"
	"fmt"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/memory"
)

// Sysno identifies a syscall. It is the first word on the user stack.
type Sysno uint32

const (
	SysHalt Sysno = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose

	NumSyscalls
)

func (s Sysno) String() string {
	if s < NumSyscalls && Syscalls[s] != nil {
		return Syscalls[s].Name
	}

	return fmt.Sprintf("{Syscall %d}", uint32(s))
}

// Request is a syscall whose arguments have been decoded and validated.
type Request interface {
	Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error)
}

// Syscall describes one entry of the syscall table.
type Syscall struct {
	Name string

	// Args is how many words follow the syscall number on the stack.
	Args int

	// Returns is set when the result goes back in the accumulator.
	Returns bool

	// Decode turns the raw argument words into a Request, validating every
	// pointer among them.
	Decode func(t *kernel.Task, args []uint32) (Request, error)
}

var Syscalls [NumSyscalls]*Syscall

func lookup(num uint32) (*Syscall, bool) {
	if num >= uint32(NumSyscalls) || Syscalls[num] == nil {
		return nil, false
	}

	return Syscalls[num], true
}

func argInt(w uint32) int32 {
	return int32(w)
}

func argAddr(w uint32) memory.Addr {
	return memory.Addr(w)
}
