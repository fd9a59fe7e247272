package kernel

import (
	"context"

	"github.com/alansparrow/pintos-pintos/memory"
)

// Execute starts cmdline as a child of parent and blocks until the child has
// either loaded or failed to. It returns the child's pid, or -1.
func (k *Kernel) Execute(ctx context.Context, parent *Process, cmdline string) int {
	name := processName(cmdline)
	if name == "" {
		return -1
	}

	child := &Process{
		Kernel:   k,
		Name:     name,
		Mem:      memory.NewVirtualMemory(),
		parent:   parent,
		files:    NewFDTable(k.maxOpenFiles),
		children: NewRegistry(k.maxChildren),
	}

	k.processes.AssignPid(child)

	rec, err := parent.children.Add(child.Pid)
	if err != nil {
		k.L.Warn("unable to record child", "parent", parent.Pid, "error", err)
		k.processes.RemoveProc(child)
		return -1
	}

	child.record = rec

	k.L.Trace("process-execute", "parent", parent.Pid, "pid", child.Pid, "cmdline", cmdline)

	k.threads.Go(func() error {
		k.runThread(child, cmdline)
		return nil
	})

	status, err := rec.WaitLoad(ctx)
	if err != nil || status != LoadSuccess {
		parent.children.Remove(rec)
		return -1
	}

	return child.Pid
}

// runThread is the body of the kernel thread of p.
func (k *Kernel) runThread(p *Process, cmdline string) {
	t := &Task{Process: p}
	ctx := SetTask(k.ctx, t)

	defer func() {
		if r := recover(); r != nil {
			k.L.Error("process faulted", "pid", p.Pid, "name", p.Name, "panic", r)
		}

		// Both are no-ops if the program already exited or loaded.
		if !k.Halted() {
			p.Exit(-1)
		}

		p.record.ReportLoad(false)
	}()

	entry, err := k.loader.Load(ctx, t, cmdline)
	if err != nil {
		k.L.Debug("load failed", "pid", p.Pid, "cmdline", cmdline, "error", err)

		// Exit first so the exit line is out before exec returns.
		p.Exit(-1)
		p.record.ReportLoad(false)
		return
	}

	p.setStatus(Running)
	p.record.ReportLoad(true)

	entry(ctx, t)
}
