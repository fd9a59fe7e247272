package memory

import (
	"sync"

	"github.com/pkg/errors"
)

type Page struct {
	Frame    [PageSize]byte
	Writable bool
}

var (
	ErrAlreadyMapped = errors.New("page already mapped")
	ErrNotUserPage   = errors.New("not a user page")
)

// PageDirectory translates user pages to the frames backing them.
type PageDirectory struct {
	mu    sync.RWMutex
	pages map[Addr]*Page
}

func NewPageDirectory() *PageDirectory {
	return &PageDirectory{
		pages: make(map[Addr]*Page),
	}
}

func (pd *PageDirectory) Map(va Addr, writable bool) (*Page, error) {
	if va.PageOffset() != 0 || !IsUserAddr(va) {
		return nil, errors.Wrapf(ErrNotUserPage, "va=%x", va)
	}

	pd.mu.Lock()
	defer pd.mu.Unlock()

	if _, ok := pd.pages[va]; ok {
		return nil, errors.Wrapf(ErrAlreadyMapped, "va=%x", va)
	}

	page := &Page{Writable: writable}
	pd.pages[va] = page

	return page, nil
}

func (pd *PageDirectory) Unmap(va Addr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	delete(pd.pages, va.PageRoundDown())
}

// Lookup returns the page mapped at the page containing va, if any. It never
// touches the frame.
func (pd *PageDirectory) Lookup(va Addr) (*Page, bool) {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	page, ok := pd.pages[va.PageRoundDown()]
	return page, ok
}

func (pd *PageDirectory) Mapped() int {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	return len(pd.pages)
}

func (pd *PageDirectory) Destroy() {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	pd.pages = make(map[Addr]*Page)
}
