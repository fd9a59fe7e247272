package kernel

import (
	"context"
	"strings"
	"sync"

	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/memory"
)

type prockey struct{}

func GetTask(ctx context.Context) (*Task, bool) {
	if v := ctx.Value(prockey{}); v != nil {
		return v.(*Task), true
	}

	return nil, false
}

func SetTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, prockey{}, t)
}

// Task is a process as seen from the goroutine running it.
type Task struct {
	*Process
}

type ProcessStatus int

const (
	Init    ProcessStatus = 0
	Running ProcessStatus = 1
	Dead    ProcessStatus = 2
)

// NameMax is the longest process name kept from a command line.
const NameMax = 15

type Process struct {
	Kernel *Kernel
	Pid    int
	Name   string
	Mem    *memory.VirtualMemory

	parent *Process

	// This process's entry in its parent's registry.
	record *ChildRecord

	files    *FDTable
	children *Registry
	exe      *fs.File

	mu       sync.Mutex
	status   ProcessStatus
	exitCode int
	exitOnce sync.Once
}

// processName is the first word of cmdline, cut to NameMax bytes.
func processName(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}

	name := fields[0]
	if len(name) > NameMax {
		name = name[:NameMax]
	}

	return name
}

func (p *Process) Parent() *Process {
	return p.parent
}

func (p *Process) Record() *ChildRecord {
	return p.record
}

func (p *Process) Children() *Registry {
	return p.children
}

func (p *Process) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

func (p *Process) setStatus(s ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = s
}

// ExitCode returns the status the process exited with.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode, p.status == Dead
}

// SetExecutable hands f, the image the process was loaded from, to the
// process. It is closed when the process exits.
func (p *Process) SetExecutable(f *fs.File) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.exe = f
}

// Wait waits for the child pid to exit and returns its exit status. It
// returns -1 at once if pid is not a child of p or was already waited for.
func (p *Process) Wait(ctx context.Context, pid int) int {
	rec, ok := p.children.Claim(pid)
	if !ok {
		return -1
	}

	status, err := rec.WaitExit(ctx)

	p.children.Remove(rec)

	if err != nil {
		return -1
	}

	return status
}

// Exit terminates p with the given status. Only the first call has any
// effect.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		p.exit(code)
	})
}

func (p *Process) exit(code int) {
	k := p.Kernel

	k.L.Trace("process-exit", "pid", p.Pid, "code", code)

	k.Console.Printf("%s: exit(%d)\n", p.Name, code)

	p.mu.Lock()
	p.exitCode = code
	p.status = Dead
	exe := p.exe
	p.exe = nil
	p.mu.Unlock()

	k.LockFS()

	for _, f := range p.files.RemoveAll() {
		f.Close()
	}

	if exe != nil {
		exe.Close()
	}

	k.UnlockFS()

	if p.record != nil {
		p.record.ReportExit(code)
	}

	released := p.children.ReleaseAll()
	if released > 0 {
		k.L.Trace("process-release-children", "pid", p.Pid, "count", released)
	}

	if p.Mem != nil {
		p.Mem.Destroy()
	}

	k.processes.RemoveProc(p)
}

// Exited reports whether p has terminated.
func (p *Process) Exited() bool {
	return p.Status() == Dead
}

type ProcessManager struct {
	mu        sync.RWMutex
	highWater int
	processes map[int]*Process
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		processes: make(map[int]*Process),
	}
}

// AssignPid gives proc the next pid. Pids are never reused, so a parent can
// not confuse a new child with an old one it never waited for.
func (p *ProcessManager) AssignPid(proc *Process) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.highWater++
	pid := p.highWater
	p.processes[pid] = proc
	proc.Pid = pid

	return pid
}

func (p *ProcessManager) RemoveProc(proc *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.processes, proc.Pid)
}

func (p *ProcessManager) Lookup(pid int) (*Process, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proc, ok := p.processes[pid]
	return proc, ok
}

// Parent returns the pid of pid's parent.
func (p *ProcessManager) Parent(pid int) (int, bool) {
	proc, ok := p.Lookup(pid)
	if !ok || proc.parent == nil {
		return 0, false
	}

	return proc.parent.Pid, true
}

func (p *ProcessManager) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.processes)
}
