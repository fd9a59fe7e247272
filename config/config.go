package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/kernel"
	"github.com/alansparrow/pintos-pintos/loader"
)

// Config is the configuration of a userprog machine.
type Config struct {
	// LogLevel is any level hclog understands.
	LogLevel string `toml:"log_level"`

	// Root is a host directory served as the file system.
	Root string `toml:"root"`

	// Disk is a tar archive loaded into an in-memory file system. It is
	// ignored when Root is set.
	Disk string `toml:"disk"`

	// DiskSize is how many bytes the files on the disk may hold in total.
	DiskSize int64 `toml:"disk_size"`

	MaxOpenFiles int `toml:"max_open_files"`
	MaxChildren  int `toml:"max_children"`
	HeapPages    int `toml:"heap_pages"`

	// ConsoleTTY reads keyboard input from the controlling terminal.
	ConsoleTTY bool `toml:"console_tty"`
}

func Default() *Config {
	return &Config{
		LogLevel:     "info",
		DiskSize:     fs.DefaultCapacity,
		MaxOpenFiles: kernel.DefaultMaxOpenFiles,
		MaxChildren:  kernel.DefaultMaxChildren,
		HeapPages:    loader.DefaultHeapPages,
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		return c, nil
	}

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, errors.Errorf("unknown config key %s in %s", undec[0], path)
	}

	return c, c.Validate()
}

// Flags registers flags that override the values already in c.
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.StringVarP(&c.Root, "root", "r", c.Root, "directory to serve as the file system")
	fs.StringVar(&c.Disk, "disk", c.Disk, "tar archive to load as the file system")
	fs.Int64Var(&c.DiskSize, "disk-size", c.DiskSize, "bytes the file system may hold")
	fs.IntVar(&c.MaxOpenFiles, "max-open-files", c.MaxOpenFiles, "open files allowed per process")
	fs.IntVar(&c.MaxChildren, "max-children", c.MaxChildren, "unwaited children allowed per process")
	fs.IntVar(&c.HeapPages, "heap-pages", c.HeapPages, "pages of heap given to each process")
	fs.BoolVar(&c.ConsoleTTY, "tty", c.ConsoleTTY, "read the keyboard from the terminal")
}

func (c *Config) Validate() error {
	switch {
	case c.DiskSize <= 0:
		return errors.Errorf("disk_size must be positive, got %d", c.DiskSize)
	case c.MaxOpenFiles <= 0:
		return errors.Errorf("max_open_files must be positive, got %d", c.MaxOpenFiles)
	case c.MaxChildren <= 0:
		return errors.Errorf("max_children must be positive, got %d", c.MaxChildren)
	case c.HeapPages <= 0:
		return errors.Errorf("heap_pages must be positive, got %d", c.HeapPages)
	}

	return nil
}
