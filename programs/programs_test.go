package programs

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/alansparrow/pintos-pintos/console"
	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/loader"
	"github.com/alansparrow/pintos-pintos/syscalls"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.String()
}

func boot(t *testing.T, input string, files map[string]string) (*kernel.Kernel, *syncBuffer) {
	reg := loader.NewPrograms()
	Register(reg)

	fsys := fs.NewMemFS()
	require.NoError(t, reg.Install(fsys))

	for name, data := range files {
		require.NoError(t, fsys.WriteFile(name, []byte(data)))
	}

	var out syncBuffer

	k, err := kernel.NewKernel(kernel.Config{
		FS:      fsys,
		Console: console.New(strings.NewReader(input), &out),
		Loader:  loader.NewLoader(loader.NewLoaderCache(), reg),
		Trap:    syscalls.NewInvoker(nil),
	})
	require.NoError(t, err)

	return k, &out
}

func TestPrograms(t *testing.T) {
	cases := []struct {
		name   string
		cmd    string
		input  string
		files  map[string]string
		status int
		out    string
	}{
		{
			name: "echo",
			cmd:  "echo hello  world",
			out:  "hello world\necho: exit(0)\n",
		},
		{
			name:   "cat files",
			cmd:    "cat a missing",
			files:  map[string]string{"a": "contents of a\n"},
			status: 1,
			out:    "contents of a\ncat: missing: no such file\ncat: exit(1)\n",
		},
		{
			name:  "cat keyboard",
			cmd:   "cat",
			input: "typed",
			out:   "typedcat: exit(0)\n",
		},
		{
			name:   "exit",
			cmd:    "exit 81",
			status: 81,
			out:    "exit: exit(81)\n",
		},
		{
			name:   "exec-wait",
			cmd:    "exec-wait exit 5",
			status: 5,
			out:    "exit: exit(5)\nexec-wait: exit(5)\n",
		},
		{
			name:   "exec-wait missing",
			cmd:    "exec-wait nothing",
			status: -1,
			out:    "nothing: exit(-1)\nexec-wait: unable to run nothing\nexec-wait: exit(-1)\n",
		},
		{
			name:   "bad-ptr",
			cmd:    "bad-ptr",
			status: -1,
			out:    "bad-ptr: exit(-1)\n",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			k, out := boot(t, c.input, c.files)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status, err := k.Run(ctx, c.cmd)
			require.NoError(t, err)
			require.NoError(t, k.Wait())

			require.Equal(t, c.status, status)
			require.Equal(t, c.out, out.String())
		})
	}
}

func TestWriteFile(t *testing.T) {
	k, _ := boot(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := k.Run(ctx, "write-file notes some text")
	require.NoError(t, err)
	require.Equal(t, 0, status)

	status, err = k.Run(ctx, "write-file notes again")
	require.NoError(t, err)
	require.Equal(t, 1, status)

	require.NoError(t, k.Wait())

	data, err := k.FS.ReadFile("notes")
	require.NoError(t, err)
	require.Equal(t, "some text", string(data))
}

func TestHalt(t *testing.T) {
	k, out := boot(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := k.Run(ctx, "exec-wait halt")
	require.Equal(t, kernel.ErrHalted, errors.Cause(err))
	require.NoError(t, k.Wait())

	require.Equal(t, "", out.String())
}
