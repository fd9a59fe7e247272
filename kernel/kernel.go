package kernel

import (
	"context"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/alansparrow/pintos-pintos/console"
	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/log"
	"github.com/alansparrow/pintos-pintos/pkg/waiter"
)

const (
	DefaultMaxOpenFiles = 128
	DefaultMaxChildren  = 64
)

// Loader prepares the address space of t for cmdline and returns the code
// that runs it.
type Loader interface {
	Load(ctx context.Context, t *Task, cmdline string) (Entry, error)
}

// Entry runs a loaded user program on the calling goroutine.
type Entry func(ctx context.Context, t *Task)

// Trap handles a syscall trap raised by the task t.
type Trap interface {
	Dispatch(ctx context.Context, t *Task, f *TrapFrame) error
}

type Power interface {
	Shutdown()
}

type PowerFunc func()

func (f PowerFunc) Shutdown() {
	f()
}

type Config struct {
	FS      *fs.FS
	Console *console.Console
	Loader  Loader
	Trap    Trap
	Power   Power
	Logger  hclog.Logger

	MaxOpenFiles int
	MaxChildren  int
}

type Kernel struct {
	L       hclog.Logger
	FS      *fs.FS
	Console *console.Console

	loader Loader
	trap   Trap
	power  Power

	maxOpenFiles int
	maxChildren  int

	// Serializes every operation on FS.
	fsLock sync.Mutex

	processes *ProcessManager
	root      *Process
	threads   errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
	halted waiter.Oneshot
}

var ErrMissingConfig = errors.New("missing kernel configuration")

func NewKernel(cfg Config) (*Kernel, error) {
	switch {
	case cfg.FS == nil:
		return nil, errors.Wrap(ErrMissingConfig, "file system")
	case cfg.Console == nil:
		return nil, errors.Wrap(ErrMissingConfig, "console")
	case cfg.Loader == nil:
		return nil, errors.Wrap(ErrMissingConfig, "loader")
	case cfg.Trap == nil:
		return nil, errors.Wrap(ErrMissingConfig, "trap handler")
	}

	k := &Kernel{
		L:            cfg.Logger,
		FS:           cfg.FS,
		Console:      cfg.Console,
		loader:       cfg.Loader,
		trap:         cfg.Trap,
		power:        cfg.Power,
		maxOpenFiles: cfg.MaxOpenFiles,
		maxChildren:  cfg.MaxChildren,
		processes:    NewProcessManager(),
	}

	if k.L == nil {
		k.L = log.L
	}

	if k.maxOpenFiles <= 0 {
		k.maxOpenFiles = DefaultMaxOpenFiles
	}

	if k.maxChildren <= 0 {
		k.maxChildren = DefaultMaxChildren
	}

	k.ctx, k.cancel = context.WithCancel(context.Background())

	k.root = &Process{
		Kernel:   k,
		Name:     "main",
		files:    NewFDTable(0),
		children: NewRegistry(0),
	}

	k.processes.AssignPid(k.root)

	return k, nil
}

func (k *Kernel) Trap() Trap {
	return k.trap
}

func (k *Kernel) LockFS() {
	k.fsLock.Lock()
}

func (k *Kernel) UnlockFS() {
	k.fsLock.Unlock()
}

// Root is the kernel's own process, the parent of the first user process.
func (k *Kernel) Root() *Process {
	return k.root
}

func (k *Kernel) Processes() *ProcessManager {
	return k.processes
}

var ErrLoadFailed = errors.New("unable to load program")

// Run starts cmdline as a child of the root process and waits for it to
// exit, returning its exit status.
func (k *Kernel) Run(ctx context.Context, cmdline string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-k.halted.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	pid := k.Execute(ctx, k.root, cmdline)
	if pid < 0 {
		if k.Halted() {
			return 0, ErrHalted
		}

		return -1, errors.Wrapf(ErrLoadFailed, "%q", cmdline)
	}

	status := k.root.Wait(ctx, pid)

	if k.Halted() {
		return 0, ErrHalted
	}

	if err := ctx.Err(); err != nil {
		return -1, err
	}

	return status, nil
}

// Shutdown powers the machine off. Blocked processes are released and every
// later syscall unwinds its caller.
func (k *Kernel) Shutdown() {
	if !k.halted.Signal() {
		return
	}

	k.L.Info("powering off")
	k.cancel()

	if k.power != nil {
		k.power.Shutdown()
	}
}

func (k *Kernel) Halted() bool {
	return k.halted.Signaled()
}

// Wait blocks until every process thread has finished.
func (k *Kernel) Wait() error {
	return k.threads.Wait()
}
