package kernel

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/pkg/waiter"
)

type LoadStatus int

const (
	LoadPending LoadStatus = iota
	LoadSuccess
	LoadFailed
)

func (s LoadStatus) String() string {
	switch s {
	case LoadPending:
		return "pending"
	case LoadSuccess:
		return "success"
	case LoadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExitNotReported is the exit status of a child that has not exited yet.
const ExitNotReported = math.MinInt32

// ChildRecord is the parent's view of one child it started. It lives in the
// parent's Registry, not in the child, so it outlives the child.
type ChildRecord struct {
	Pid int

	mu          sync.Mutex
	loadStatus  LoadStatus
	exitStatus  int
	consumed    bool
	removed     bool
	parentAlive bool
	childAlive  bool

	loaded waiter.Oneshot
	exited waiter.Oneshot
}

func newChildRecord(pid int) *ChildRecord {
	return &ChildRecord{
		Pid:         pid,
		exitStatus:  ExitNotReported,
		parentAlive: true,
		childAlive:  true,
	}
}

func (r *ChildRecord) LoadStatus() LoadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadStatus
}

// ReportLoad records the outcome of loading the child and wakes the parent
// blocked in exec. Only the first report counts.
func (r *ChildRecord) ReportLoad(ok bool) {
	r.mu.Lock()

	if r.loadStatus != LoadPending {
		r.mu.Unlock()
		return
	}

	if ok {
		r.loadStatus = LoadSuccess
	} else {
		r.loadStatus = LoadFailed
	}

	r.mu.Unlock()

	r.loaded.Signal()
}

// WaitLoad blocks until the load outcome is known.
func (r *ChildRecord) WaitLoad(ctx context.Context) (LoadStatus, error) {
	if s := r.LoadStatus(); s != LoadPending {
		return s, nil
	}

	if err := r.loaded.Wait(ctx); err != nil {
		return LoadPending, err
	}

	return r.LoadStatus(), nil
}

// ReportExit records the child's exit status and wakes a waiting parent. It
// returns false when nobody is left to tell.
func (r *ChildRecord) ReportExit(status int) bool {
	r.mu.Lock()

	r.childAlive = false

	if !r.parentAlive || r.exitStatus != ExitNotReported {
		r.mu.Unlock()
		return false
	}

	r.exitStatus = status
	r.mu.Unlock()

	r.exited.Signal()

	return true
}

// WaitExit blocks until the child has reported its exit status.
func (r *ChildRecord) WaitExit(ctx context.Context) (int, error) {
	if err := r.exited.Wait(ctx); err != nil {
		return -1, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exitStatus, nil
}

func (r *ChildRecord) ExitStatus() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exitStatus, r.exitStatus != ExitNotReported
}

func (r *ChildRecord) ChildAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.childAlive
}

func (r *ChildRecord) ParentAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.parentAlive
}

var (
	ErrTooManyChildren = errors.New("too many child processes")
	ErrDuplicateChild  = errors.New("child already registered")
)

// Registry holds a process's records of the children it started.
type Registry struct {
	mu      sync.Mutex
	limit   int
	records []*ChildRecord
}

// NewRegistry returns a registry holding at most limit records. A limit of
// zero means no limit.
func NewRegistry(limit int) *Registry {
	return &Registry{limit: limit}
}

func (reg *Registry) Add(pid int) (*ChildRecord, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.limit > 0 && len(reg.records) >= reg.limit {
		return nil, ErrTooManyChildren
	}

	for _, r := range reg.records {
		if r.Pid == pid {
			return nil, errors.Wrapf(ErrDuplicateChild, "pid %d", pid)
		}
	}

	r := newChildRecord(pid)
	reg.records = append(reg.records, r)

	return r, nil
}

func (reg *Registry) find(pid int) *ChildRecord {
	for _, r := range reg.records {
		if r.Pid == pid {
			return r
		}
	}

	return nil
}

// Get returns the record for pid if it has not been waited on yet.
func (reg *Registry) Get(pid int) (*ChildRecord, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r := reg.find(pid)
	if r == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return nil, false
	}

	return r, true
}

// Claim is Get that also marks the record consumed, so only one caller can
// ever wait on it.
func (reg *Registry) Claim(pid int) (*ChildRecord, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r := reg.find(pid)
	if r == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return nil, false
	}

	r.consumed = true

	return r, true
}

// Remove drops r from the registry. It returns false if r was already gone.
func (reg *Registry) Remove(r *ChildRecord) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for i, cur := range reg.records {
		if cur == r {
			reg.records = append(reg.records[:i], reg.records[i+1:]...)

			r.mu.Lock()
			r.removed = true
			r.mu.Unlock()

			return true
		}
	}

	return false
}

// ReleaseAll drops every record, telling each child its parent is gone.
func (reg *Registry) ReleaseAll() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, r := range reg.records {
		r.mu.Lock()
		r.parentAlive = false
		r.removed = true
		r.mu.Unlock()
	}

	n := len(reg.records)
	reg.records = nil

	return n
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return len(reg.records)
}

// Removed reports whether the record has been dropped from its registry.
func (r *ChildRecord) Removed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removed
}
