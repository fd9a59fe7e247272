package syscalls

import (
	"context"

	"github.com/davecgh/go-spew/spew"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/memory"
	"github.com/alansparrow/pintos-pintos/usermem"
)

type readRequest struct {
	FD  int32
	Buf memory.AddrRange
}

func (r readRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	switch r.FD {
	case kernel.StdinFD:
		return r.readConsole(l, t)
	case kernel.StdoutFD:
		return -1, nil
	}

	k := t.Kernel

	k.LockFS()

	f, ok := t.GetFile(int(r.FD))
	if !ok {
		k.UnlockFS()
		return -1, nil
	}

	tmp := make([]byte, r.Buf.Length())

	n, err := f.Read(tmp)

	k.UnlockFS()

	if err != nil {
		l.Error("error reading", "error", err, "fd", r.FD)
		return -1, nil
	}

	if l.IsTrace() {
		l.Trace("read-data", "pid", t.Pid, "fd", r.FD, "data", spew.Sdump(tmp[:n]))
	}

	if _, err := t.Mem.WriteAt(tmp[:n], int64(r.Buf.Start)); err != nil {
		return 0, errors.Wrapf(err, "copying read data out")
	}

	return int32(n), nil
}

// readConsole fills the buffer one keystroke at a time.
func (r readRequest) readConsole(l hclog.Logger, t *kernel.Task) (int32, error) {
	var (
		b   [1]byte
		n   uint32
		err error
	)

	for n = 0; n < r.Buf.Length(); n++ {
		b[0], err = t.Kernel.Console.ReadByte()
		if err != nil {
			// No more keys will come. Return the short count instead of
			// blocking forever.
			l.Trace("console input ended", "pid", t.Pid, "error", err)
			break
		}

		if _, err := t.Mem.WriteAt(b[:], int64(r.Buf.Start)+int64(n)); err != nil {
			return 0, errors.Wrapf(err, "copying console input out")
		}
	}

	return int32(n), nil
}

type writeRequest struct {
	FD  int32
	Buf memory.AddrRange
}

func (r writeRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	if r.FD == kernel.StdinFD {
		return -1, nil
	}

	data := make([]byte, r.Buf.Length())

	if _, err := t.Mem.ReadAt(data, int64(r.Buf.Start)); err != nil {
		return 0, errors.Wrapf(err, "reading data from userspace")
	}

	if l.IsTrace() {
		l.Trace("write-data", "pid", t.Pid, "fd", r.FD, "data", spew.Sdump(data))
	}

	if r.FD == kernel.StdoutFD {
		t.Kernel.Console.Write(data)
		return int32(len(data)), nil
	}

	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, ok := t.GetFile(int(r.FD))
	if !ok {
		return -1, nil
	}

	n, err := f.Write(data)
	if err != nil {
		l.Error("error writing data", "error", err, "fd", r.FD)
		return -1, nil
	}

	return int32(n), nil
}

func decodeRead(t *kernel.Task, args []uint32) (Request, error) {
	buf, err := usermem.CheckBuffer(t.Mem, argAddr(args[1]), args[2], true)
	if err != nil {
		return nil, err
	}

	return readRequest{FD: argInt(args[0]), Buf: buf}, nil
}

func decodeWrite(t *kernel.Task, args []uint32) (Request, error) {
	buf, err := usermem.CheckBuffer(t.Mem, argAddr(args[1]), args[2], false)
	if err != nil {
		return nil, err
	}

	return writeRequest{FD: argInt(args[0]), Buf: buf}, nil
}

func init() {
	Syscalls[SysRead] = &Syscall{Name: "read", Args: 3, Returns: true, Decode: decodeRead}
	Syscalls[SysWrite] = &Syscall{Name: "write", Args: 3, Returns: true, Decode: decodeWrite}
}
