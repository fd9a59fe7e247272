package loader

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/memory"
)

// Magic starts the first line of every executable image. The rest of the
// line names the program the image runs.
const Magic = "#!userprog "

var ErrBadImage = errors.New("not an executable image")

type Image struct {
	Program string
	Size    int
}

func ParseImage(data []byte) (*Image, error) {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	if !bytes.HasPrefix(line, []byte(Magic)) {
		return nil, ErrBadImage
	}

	name := strings.TrimSpace(string(line[len(Magic):]))
	if name == "" {
		return nil, errors.Wrap(ErrBadImage, "no program named")
	}

	return &Image{Program: name, Size: len(data)}, nil
}

// WriteImage creates the executable file name in fsys running program.
func WriteImage(fsys *fs.FS, name, program string) error {
	return fsys.WriteFile(name, []byte(Magic+program+"\n"))
}

// Program is the code of a user program. It starts with the stack pointer
// at esp, where argc and argv have been laid out.
type Program func(ctx context.Context, t *kernel.Task, esp memory.Addr)

// Programs maps program names to their code.
type Programs struct {
	mu       sync.RWMutex
	programs map[string]Program
}

func NewPrograms() *Programs {
	return &Programs{programs: make(map[string]Program)}
}

func (p *Programs) Register(name string, prog Program) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.programs[name] = prog
}

func (p *Programs) Lookup(name string) (Program, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prog, ok := p.programs[name]
	return prog, ok
}

func (p *Programs) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var names []string
	for name := range p.programs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Install writes an image for every registered program that fsys does not
// already have a file for.
func (p *Programs) Install(fsys *fs.FS) error {
	for _, name := range p.Names() {
		if _, err := fsys.ReadFile(name); err == nil {
			continue
		}

		if err := WriteImage(fsys, name, name); err != nil {
			return errors.Wrapf(err, "installing %s", name)
		}
	}

	return nil
}
