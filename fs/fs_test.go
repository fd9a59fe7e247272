package fs

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	fs := NewMemFS()

	require.NoError(t, fs.Create("quux.dat", 10))

	err := fs.Create("quux.dat", 10)
	require.Equal(t, ErrExists, errors.Cause(err))

	err = fs.Create("", 0)
	require.Equal(t, ErrInvalidName, errors.Cause(err))

	err = fs.Create("this-name-is-too-long", 0)
	require.Equal(t, ErrInvalidName, errors.Cause(err))

	f, err := fs.Open("quux.dat")
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, int64(10), f.Length())
}

func TestCapacity(t *testing.T) {
	fs := NewMemFS()
	fs.SetCapacity(100)

	err := fs.Create("big", 0xFFFFFFF0)
	require.Equal(t, ErrNoSpace, errors.Cause(err))

	err = fs.Create("over", MaxFileSize+1)
	require.Equal(t, ErrNoSpace, errors.Cause(err))

	require.NoError(t, fs.Create("a", 60))

	err = fs.Create("b", 41)
	require.Equal(t, ErrNoSpace, errors.Cause(err))

	free, err := fs.Free()
	require.NoError(t, err)
	require.Equal(t, int64(40), free)

	require.NoError(t, fs.Remove("a"))
	require.NoError(t, fs.Create("b", 100))

	_, err = fs.Open("big")
	require.Equal(t, ErrUnknownPath, errors.Cause(err))
}

func TestOpenMissing(t *testing.T) {
	fs := NewMemFS()

	_, err := fs.Open("missing.txt")
	require.Equal(t, ErrUnknownPath, errors.Cause(err))

	err = fs.Remove("missing.txt")
	require.Equal(t, ErrUnknownPath, errors.Cause(err))
}

func TestFileIO(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("sample.txt", []byte("hello world")))

	f, err := fs.Open("sample.txt")
	require.NoError(t, err)
	defer f.Close()

	t.Run("reads and tracks the position", func(t *testing.T) {
		buf := make([]byte, 5)
		n, err := f.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.Equal(t, "hello", string(buf))
		require.Equal(t, int64(5), f.Tell())
	})

	t.Run("reads zero bytes at end of file", func(t *testing.T) {
		f.Seek(f.Length())

		n, err := f.Read(make([]byte, 4))
		require.NoError(t, err)
		require.Equal(t, 0, n)
	})

	t.Run("does not grow the file", func(t *testing.T) {
		f.Seek(6)

		n, err := f.Write([]byte("WORLD!!!"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.Equal(t, int64(11), f.Length())

		f.Seek(20)
		n, err = f.Write([]byte("x"))
		require.NoError(t, err)
		require.Equal(t, 0, n)

		data, err := fs.ReadFile("sample.txt")
		require.NoError(t, err)
		require.Equal(t, "hello WORLD", string(data))
	})
}

func TestDenyWrite(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("prog", []byte("image")))

	exe, err := fs.Open("prog")
	require.NoError(t, err)

	exe.DenyWrite()

	other, err := fs.Open("prog")
	require.NoError(t, err)
	defer other.Close()

	n, err := other.Write([]byte("X"))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, exe.Close())

	n, err = other.Write([]byte("X"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDenyWriteRecreated(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.Create("prog", 4))

	exe, err := fs.Open("prog")
	require.NoError(t, err)
	defer exe.Close()

	exe.DenyWrite()

	require.NoError(t, fs.Remove("prog"))
	require.NoError(t, fs.Create("prog", 4))

	f, err := fs.Open("prog")
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("abcd"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = exe.Write([]byte("abcd"))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestReadAfterRemove(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.WriteFile("gone", []byte("still here")))

	f, err := fs.Open("gone")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, fs.Remove("gone"))

	buf := make([]byte, 10)
	n, err := f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "still here", string(buf[:n]))

	_, err = fs.Open("gone")
	require.Equal(t, ErrUnknownPath, errors.Cause(err))
}

func TestLoadTar(t *testing.T) {
	var buf bytes.Buffer

	tw := tar.NewWriter(&buf)

	body := []byte("#!userprog echo\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "bin/echo",
		Mode:     0755,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	fs, err := LoadTar(&buf)
	require.NoError(t, err)

	data, err := fs.ReadFile("echo")
	require.NoError(t, err)
	require.Equal(t, body, data)
}
