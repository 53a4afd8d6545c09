// Command ststctl creates, inspects and edits shared structstore segments.
//
// Usage:
//
//	ststctl [-config file] [-dir path] <command> [flags] <segment> [args]
//
// Commands:
//
//	create  create (or reinitialize) a segment
//	info    print segment header information without attaching
//	set     assign a JSON value at a dotted path
//	get     print the value at a dotted path as JSON
//	dump    print the whole store as JSON
//	rm      remove a segment
//	stress  run concurrent counter increments against a segment
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type command struct {
	name string
	help string
	run  func(a *app, args []string) error
}

var commands = []command{
	{"create", "create or reinitialize a segment", (*app).create},
	{"info", "print segment header information without attaching", (*app).info},
	{"set", "assign a JSON value at a dotted path", (*app).set},
	{"get", "print the value at a dotted path as JSON", (*app).get},
	{"dump", "print the whole store as JSON", (*app).dump},
	{"rm", "remove a segment", (*app).rm},
	{"stress", "run concurrent counter increments against a segment", (*app).stress},
}

// app carries the resolved configuration and output streams of one invocation.
type app struct {
	cfg    config
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ststctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configFile = fs.String("config", "", "YAML config file")
		dir        = fs.String("dir", "", "directory for file-backed segments (default /dev/shm)")
		cleanup    = fs.String("cleanup", "", "cleanup policy: on-owner-exit, always, never, if-last")
		logLevel   = fs.String("log-level", "", "log level: debug, info, warn, error")
	)
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a := &app{cfg: defaultConfig(), stdout: stdout, stderr: stderr}
	if *configFile != "" {
		if err := loadConfig(*configFile, &a.cfg); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			a.cfg.Dir = *dir
		case "cleanup":
			a.cfg.Cleanup = *cleanup
		case "log-level":
			a.cfg.LogLevel = *logLevel
		}
	})

	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	name := fs.Arg(0)
	for _, c := range commands {
		if c.name == name {
			return c.run(a, fs.Args()[1:])
		}
	}
	fmt.Fprintf(stderr, "unknown command %q\n", name)
	fs.Usage()
	return errUsage
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: ststctl [flags] <command> [command flags] <segment> [args]")
	fmt.Fprintln(w, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-7s %s\n", c.name, c.help)
	}
	fmt.Fprintln(w, "\nFlags:")
	fs.PrintDefaults()
}

// flags returns a FlagSet for a subcommand that reports errors to stderr.
func (a *app) flags(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: ststctl %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses subcommand flags and checks the positional argument count.
func (a *app) parse(fs *flag.FlagSet, args []string, nargs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != nargs {
		fs.Usage()
		return errUsage
	}
	return nil
}
