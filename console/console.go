// Package console is the kernel's keyboard and display.
package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	tty "github.com/mattn/go-tty"
)

type Console struct {
	in io.ByteReader

	mu  sync.Mutex
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Console {
	br, ok := in.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(in)
	}

	return &Console{in: br, out: out}
}

// ReadByte blocks for the next input byte.
func (c *Console) ReadByte() (byte, error) {
	return c.in.ReadByte()
}

// Write puts all of p on the display. Concurrent writes never interleave.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.out.Write(p)
}

func (c *Console) Printf(format string, args ...interface{}) {
	c.Write([]byte(fmt.Sprintf(format, args...)))
}

// TTYInput reads keystrokes from the controlling terminal.
type TTYInput struct {
	t       *tty.TTY
	pending []byte
}

func OpenTTY() (*TTYInput, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, err
	}

	return &TTYInput{t: t}, nil
}

func (ti *TTYInput) ReadByte() (byte, error) {
	if len(ti.pending) == 0 {
		r, err := ti.t.ReadRune()
		if err != nil {
			return 0, err
		}

		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], r)
		ti.pending = append(ti.pending, buf[:n]...)
	}

	b := ti.pending[0]
	ti.pending = ti.pending[1:]

	return b, nil
}

func (ti *TTYInput) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b, err := ti.ReadByte()
	if err != nil {
		return 0, err
	}

	p[0] = b
	return 1, nil
}

func (ti *TTYInput) Close() error {
	return ti.t.Close()
}
