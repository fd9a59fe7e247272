package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/usermem"
)

type haltRequest struct{}

func (haltRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	l.Info("halt requested", "pid", t.Pid, "name", t.Name)
	t.Kernel.Shutdown()
	return 0, kernel.ErrHalted
}

type exitRequest struct {
	Status int32
}

func (r exitRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	t.Exit(int(r.Status))
	return 0, kernel.ErrTerminated
}

type execRequest struct {
	Cmdline string
}

func (r execRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	pid := t.Kernel.Execute(ctx, t.Process, r.Cmdline)

	l.Trace("syscall/exec", "pid", t.Pid, "cmdline", r.Cmdline, "child", pid)

	return int32(pid), nil
}

type waitRequest struct {
	Pid int32
}

func (r waitRequest) Invoke(ctx context.Context, l hclog.Logger, t *kernel.Task) (int32, error) {
	return int32(t.Wait(ctx, int(r.Pid))), nil
}

func decodeHalt(t *kernel.Task, args []uint32) (Request, error) {
	return haltRequest{}, nil
}

func decodeExit(t *kernel.Task, args []uint32) (Request, error) {
	return exitRequest{Status: argInt(args[0])}, nil
}

func decodeExec(t *kernel.Task, args []uint32) (Request, error) {
	cmdline, err := usermem.CopyInString(t.Mem, argAddr(args[0]))
	if err != nil {
		return nil, err
	}

	return execRequest{Cmdline: cmdline}, nil
}

func decodeWait(t *kernel.Task, args []uint32) (Request, error) {
	return waitRequest{Pid: argInt(args[0])}, nil
}

func init() {
	Syscalls[SysHalt] = &Syscall{Name: "halt", Decode: decodeHalt}
	Syscalls[SysExit] = &Syscall{Name: "exit", Args: 1, Decode: decodeExit}
	Syscalls[SysExec] = &Syscall{Name: "exec", Args: 1, Returns: true, Decode: decodeExec}
	Syscalls[SysWait] = &Syscall{Name: "wait", Args: 1, Returns: true, Decode: decodeWait}
}
