package kernel

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/memory"
)

var (
	// ErrTerminated is returned by a trap whose process no longer exists.
	ErrTerminated = errors.New("process terminated")

	// ErrHalted is returned by a trap after the machine powered off.
	ErrHalted = errors.New("machine halted")
)

// TrapFrame is the user CPU state saved when a process traps into the
// kernel.
type TrapFrame struct {
	ESP memory.Addr
	EAX uint32

	returned bool
}

// SetReturn stores the syscall result in the accumulator. A syscall sets it
// at most once.
func (f *TrapFrame) SetReturn(v int32) {
	if f.returned {
		panic(fmt.Sprintf("trap frame return value set twice (had %d, now %d)", int32(f.EAX), v))
	}

	f.returned = true
	f.EAX = uint32(v)
}

// Returned reports whether the trap produced a value.
func (f *TrapFrame) Returned() bool {
	return f.returned
}

// Reset prepares the frame for another trap.
func (f *TrapFrame) Reset(esp memory.Addr) {
	f.ESP = esp
	f.returned = false
}
