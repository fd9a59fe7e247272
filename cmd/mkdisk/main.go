// Command mkdisk builds and inspects the tar disks userprog boots from.
package main

import (
	"archive/tar"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/loader"
	"github.com/alansparrow/pintos-pintos/programs"
)

var (
	fOutput   = pflag.StringP("output", "o", "disk.tar", "disk to write")
	fPrograms = pflag.BoolP("programs", "p", true, "add an image for every built in program")
	fDump     = pflag.StringP("dump", "d", "", "list the files of an existing disk instead")
)

func addFile(tw *tar.Writer, name string, data []byte) error {
	if len(name) > fs.NameMax {
		return errors.Errorf("%s: name longer than %d", name, fs.NameMax)
	}

	err := tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     0644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
	})
	if err != nil {
		return err
	}

	_, err = tw.Write(data)
	return err
}

func build(path string, files []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer f.Close()

	tw := tar.NewWriter(f)

	if *fPrograms {
		reg := loader.NewPrograms()
		programs.Register(reg)

		for _, name := range reg.Names() {
			if err := addFile(tw, name, []byte(loader.Magic+name+"\n")); err != nil {
				return err
			}
		}
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}

		if err := addFile(tw, filepath.Base(file), data); err != nil {
			return err
		}
	}

	return tw.Close()
}

func dump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close()

	fsys, err := fs.LoadTar(f)
	if err != nil {
		return err
	}

	entries, err := afero.ReadDir(fsys.Afero(), "/")
	if err != nil {
		return err
	}

	tr := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)

	for _, fi := range entries {
		data, err := fsys.ReadFile(fi.Name())
		if err != nil {
			return err
		}

		kind := "data"
		if img, err := loader.ParseImage(data); err == nil {
			kind = "program " + img.Program
		}

		fmt.Fprintf(tr, "%s\t%d\t%s\n", fi.Name(), fi.Size(), kind)
	}

	return tr.Flush()
}

func main() {
	pflag.Parse()

	var err error

	if *fDump != "" {
		err = dump(*fDump)
	} else {
		err = build(*fOutput, pflag.Args())
	}

	if err != nil {
		log.Fatal(err)
	}
}
