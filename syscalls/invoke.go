package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/log"
	"github.com/alansparrow/pintos-pintos/memory"
	"github.com/alansparrow/pintos-pintos/usermem"
)

// Invoker is the kernel's trap handler for syscalls.
type Invoker struct {
	L hclog.Logger
}

func NewInvoker(l hclog.Logger) *Invoker {
	if l == nil {
		l = log.L
	}

	return &Invoker{L: l}
}

// Dispatch decodes the syscall on t's stack at f.ESP, runs it, and stores its
// result in f. A nil error means the process may continue. Otherwise the
// error's cause is kernel.ErrTerminated or kernel.ErrHalted and the caller
// must not return to user code.
func (i *Invoker) Dispatch(ctx context.Context, t *kernel.Task, f *kernel.TrapFrame) error {
	if t.Kernel.Halted() {
		return kernel.ErrHalted
	}

	if t.Exited() {
		return kernel.ErrTerminated
	}

	num, err := readWord(t, f.ESP)
	if err != nil {
		return i.fault(t, err)
	}

	sc, ok := lookup(num)
	if !ok {
		i.L.Warn("unknown syscall", "pid", t.Pid, "index", num)
		t.Exit(-1)
		return errors.Wrapf(kernel.ErrTerminated, "unknown syscall %d", num)
	}

	args := make([]uint32, sc.Args)

	for n := range args {
		addr, ok := f.ESP.AddLength(uint32(4 * (n + 1)))
		if !ok {
			return i.fault(t, errors.Wrapf(usermem.ErrBadAddress, "argument %d of %s", n, sc.Name))
		}

		args[n], err = readWord(t, addr)
		if err != nil {
			return i.fault(t, err)
		}
	}

	req, err := sc.Decode(t, args)
	if err != nil {
		return i.fault(t, err)
	}

	i.L.Trace("syscall", "pid", t.Pid, "name", sc.Name, "req", req)

	ret, err := req.Invoke(ctx, i.L, t)
	if err != nil {
		return i.fault(t, err)
	}

	if sc.Returns {
		f.SetReturn(ret)
	}

	return nil
}

// readWord validates the word at addr, then reads it.
func readWord(t *kernel.Task, addr memory.Addr) (uint32, error) {
	if _, err := usermem.CheckBuffer(t.Mem, addr, 4, false); err != nil {
		return 0, err
	}

	return t.Mem.ReadUint32(addr)
}

// fault kills t if err is a bad user memory access and passes through the
// termination errors of exit and halt.
func (i *Invoker) fault(t *kernel.Task, err error) error {
	switch errors.Cause(err) {
	case kernel.ErrTerminated, kernel.ErrHalted:
		return err
	case usermem.ErrBadAddress, memory.ErrInvalidMemoryAccess, memory.ErrReadOnly:
		i.L.Debug("invalid user memory access", "pid", t.Pid, "name", t.Name, "error", err)
		t.Exit(-1)
		return errors.Wrapf(kernel.ErrTerminated, "%v", err)
	default:
		i.L.Error("syscall failed", "pid", t.Pid, "name", t.Name, "error", err)
		t.Exit(-1)
		return errors.Wrapf(kernel.ErrTerminated, "%v", err)
	}
}
