package syscalls

import (
	"context"
	"math"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/usermem"
)

func boolResult(ok bool) int32 {
	if ok {
		return 1
	}

	return 0
}

type createRequest struct {
	Name string
	Size uint32
}

func (r createRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	err := k.FS.Create(r.Name, r.Size)
	if err != nil {
		l.Debug("create failed", "pid", t.Pid, "file", r.Name, "error", err)
	}

	return boolResult(err == nil), nil
}

type removeRequest struct {
	Name string
}

func (r removeRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	err := k.FS.Remove(r.Name)
	if err != nil {
		l.Debug("remove failed", "pid", t.Pid, "file", r.Name, "error", err)
	}

	return boolResult(err == nil), nil
}

type openRequest struct {
	Name string
}

func (r openRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	fd, err := t.OpenFile(r.Name)
	if err != nil {
		l.Trace("open failed", "pid", t.Pid, "file", r.Name, "error", err)
		return -1, nil
	}

	l.Trace("open file", "pid", t.Pid, "file", r.Name, "fd", fd)

	return int32(fd), nil
}

type closeRequest struct {
	FD int32
}

func (r closeRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	err := t.CloseFile(int(r.FD))
	if err != nil && errors.Cause(err) != kernel.ErrUnknownFile {
		l.Error("error closing fd", "error", err, "fd", r.FD)
	}

	return 0, nil
}

type filesizeRequest struct {
	FD int32
}

func (r filesizeRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, ok := t.GetFile(int(r.FD))
	if !ok {
		return -1, nil
	}

	length := f.Length()
	if length > math.MaxInt32 {
		l.Warn("file size does not fit the result", "pid", t.Pid, "fd", r.FD, "size", length)
		return -1, nil
	}

	return int32(length), nil
}

type seekRequest struct {
	FD  int32
	Pos uint32
}

func (r seekRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, ok := t.GetFile(int(r.FD))
	if !ok {
		return 0, nil
	}

	f.Seek(int64(r.Pos))

	return 0, nil
}

type tellRequest struct {
	FD int32
}

func (r tellRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	k := t.Kernel

	k.LockFS()
	defer k.UnlockFS()

	f, ok := t.GetFile(int(r.FD))
	if !ok {
		return -1, nil
	}

	return int32(f.Tell()), nil
}

func decodeCreate(t *kernel.Task, args []uint32) (Request, error) {
	name, err := usermem.CopyInString(t.Mem, argAddr(args[0]))
	if err != nil {
		return nil, err
	}

	return createRequest{Name: name, Size: args[1]}, nil
}

func decodeRemove(t *kernel.Task, args []uint32) (Request, error) {
	name, err := usermem.CopyInString(t.Mem, argAddr(args[0]))
	if err != nil {
		return nil, err
	}

	return removeRequest{Name: name}, nil
}

func decodeOpen(t *kernel.Task, args []uint32) (Request, error) {
	name, err := usermem.CopyInString(t.Mem, argAddr(args[0]))
	if err != nil {
		return nil, err
	}

	return openRequest{Name: name}, nil
}

func decodeClose(t *kernel.Task, args []uint32) (Request, error) {
	return closeRequest{FD: argInt(args[0])}, nil
}

func decodeFilesize(t *kernel.Task, args []uint32) (Request, error) {
	return filesizeRequest{FD: argInt(args[0])}, nil
}

func decodeSeek(t *kernel.Task, args []uint32) (Request, error) {
	return seekRequest{FD: argInt(args[0]), Pos: args[1]}, nil
}

func decodeTell(t *kernel.Task, args []uint32) (Request, error) {
	return tellRequest{FD: argInt(args[0])}, nil
}

func init() {
	Syscalls[SysCreate] = &Syscall{Name: "create", Args: 2, Returns: true, Decode: decodeCreate}
	Syscalls[SysRemove] = &Syscall{Name: "remove", Args: 1, Returns: true, Decode: decodeRemove}
	Syscalls[SysOpen] = &Syscall{Name: "open", Args: 1, Returns: true, Decode: decodeOpen}
	Syscalls[SysClose] = &Syscall{Name: "close", Args: 1, Decode: decodeClose}
	Syscalls[SysFilesize] = &Syscall{Name: "filesize", Args: 1, Returns: true, Decode: decodeFilesize}
	Syscalls[SysSeek] = &Syscall{Name: "seek", Args: 2, Decode: decodeSeek}
	Syscalls[SysTell] = &Syscall{Name: "tell", Args: 1, Returns: true, Decode: decodeTell}
}
