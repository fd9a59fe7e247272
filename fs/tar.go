package fs

import (
	"archive/tar"
	"io"
	"path"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/alansparrow/pintos-pintos/log"
)

// LoadTar copies the regular files of the tar stream r into the root of a
// new in-memory FS. Directory structure is flattened.
func LoadTar(r io.Reader) (*FS, error) {
	mem := afero.NewMemMapFs()

	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return nil, errors.Wrapf(err, "reading tar")
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Base(hdr.Name)

		log.L.Trace("tar-load", "name", name, "size", hdr.Size)

		f, err := mem.Create(path.Join("/", name))
		if err != nil {
			return nil, err
		}

		_, err = io.Copy(f, tr)
		f.Close()

		if err != nil {
			return nil, errors.Wrapf(err, "copying %s", hdr.Name)
		}
	}

	return New(mem), nil
}
