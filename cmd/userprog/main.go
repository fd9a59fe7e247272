package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/alansparrow/pintos-pintos/config"
	"github.com/alansparrow/pintos-pintos/console"
	"github.com/alansparrow/pintos-pintos/fs"
	"github.com/alansparrow/pintos-pintos/kernel"
	clog "github.com/alansparrow/pintos-pintos/log"
	"github.com/alansparrow/pintos-pintos/loader"
	"github.com/alansparrow/pintos-pintos/programs"
	"github.com/alansparrow/pintos-pintos/syscalls"
)

// configPath finds --config before the full flag set exists, since the file
// supplies the flag defaults.
func configPath(args []string) string {
	pre := pflag.NewFlagSet("userprog", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetInterspersed(false)
	pre.Usage = func() {}
	pre.SetOutput(io.Discard)

	path := pre.StringP("config", "c", "", "")
	pre.Parse(args)

	return *path
}

func openFS(cfg *config.Config, reg *loader.Programs) (*fs.FS, error) {
	if cfg.Root != "" {
		fsys := fs.NewHostFS(cfg.Root)
		fsys.SetCapacity(cfg.DiskSize)
		return fsys, nil
	}

	fsys := fs.NewMemFS()

	if cfg.Disk != "" {
		f, err := os.Open(cfg.Disk)
		if err != nil {
			return nil, err
		}

		defer f.Close()

		fsys, err = fs.LoadTar(f)
		if err != nil {
			return nil, errors.Wrapf(err, "loading disk %s", cfg.Disk)
		}
	}

	fsys.SetCapacity(cfg.DiskSize)

	if err := reg.Install(fsys); err != nil {
		return nil, err
	}

	return fsys, nil
}

func openConsole(cfg *config.Config) (*console.Console, func(), error) {
	if cfg.ConsoleTTY || term.IsTerminal(int(os.Stdin.Fd())) {
		in, err := console.OpenTTY()
		if err != nil {
			return nil, nil, err
		}

		return console.New(in, os.Stdout), func() { in.Close() }, nil
	}

	return console.New(os.Stdin, os.Stdout), func() {}, nil
}

func main() {
	cpuprofile := os.Getenv("CPUPROFILE")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		fmt.Fprintf(os.Stderr, "pprof: profiling started\n")
	}

	cfg, err := config.Load(configPath(os.Args[1:]))
	if err != nil {
		log.Fatal(err)
	}

	pflag.StringP("config", "c", "", "TOML configuration file")
	cfg.Flags(pflag.CommandLine)
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: userprog [flags] -- <program> [args...]\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	clog.SetLevel(cfg.LogLevel)
	clog.EnableDebug()

	inputArgs := pflag.Args()
	if len(inputArgs) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	reg := loader.NewPrograms()
	programs.Register(reg)

	fsys, err := openFS(cfg, reg)
	if err != nil {
		log.Fatal(err)
	}

	cons, closeConsole, err := openConsole(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ld := loader.NewLoader(loader.NewLoaderCache(), reg)
	ld.HeapPages = cfg.HeapPages

	k, err := kernel.NewKernel(kernel.Config{
		FS:           fsys,
		Console:      cons,
		Loader:       ld,
		Trap:         syscalls.NewInvoker(clog.L.Named("syscall")),
		Power:        kernel.PowerFunc(func() { clog.L.Debug("power off") }),
		Logger:       clog.L,
		MaxOpenFiles: cfg.MaxOpenFiles,
		MaxChildren:  cfg.MaxChildren,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	status, err := k.Run(ctx, strings.Join(inputArgs, " "))

	// The machine powers off when the first process is done.
	k.Shutdown()

	if cpuprofile != "" {
		pprof.StopCPUProfile()
		fmt.Fprintf(os.Stderr, "pprof: profiling finished\n")
	}

	switch errors.Cause(err) {
	case nil:
	case kernel.ErrHalted:
		status = 0
	default:
		clog.L.Error("run failed", "error", err)
	}

	closeConsole()
	os.Exit(status & 0xff)
}
