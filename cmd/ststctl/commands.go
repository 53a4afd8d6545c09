package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/structstore"
	"github.com/hupe1980/structstore/codec"
)

// open attaches to an existing segment. Commands other than create never
// create segments as a side effect.
func (a *app) open(name string) (*structstore.Shared, error) {
	opts, err := a.cfg.options(a.stderr)
	if err != nil {
		return nil, err
	}
	if _, err := structstore.InspectShared(name, opts...); err != nil {
		return nil, fmt.Errorf("segment %q: %w", name, err)
	}
	return structstore.OpenShared(name, a.cfg.Capacity, opts...)
}

func (a *app) create(args []string) error {
	fs := a.flags("create", "[-capacity n] [-reinit] <segment>")
	capacity := fs.Int("capacity", a.cfg.Capacity, "arena capacity in bytes")
	reinit := fs.Bool("reinit", false, "replace an existing segment")
	if err := a.parse(fs, args, 1); err != nil {
		return err
	}
	opts, err := a.cfg.options(a.stderr)
	if err != nil {
		return err
	}

	sh, err := structstore.OpenShared(fs.Arg(0), *capacity, append(opts, structstore.WithReinit(*reinit))...)
	if err != nil {
		return err
	}
	defer sh.Close()

	state := "attached"
	if sh.Created() {
		state = "created"
	}
	fmt.Fprintf(a.stdout, "%s %s (%d bytes)\n", state, sh.Name(), sh.Capacity())
	return nil
}

func (a *app) info(args []string) error {
	fs := a.flags("info", "<segment>")
	if err := a.parse(fs, args, 1); err != nil {
		return err
	}
	opts, err := a.cfg.options(a.stderr)
	if err != nil {
		return err
	}
	info, err := structstore.InspectShared(fs.Arg(0), opts...)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name\t%s\n", info.Name)
	fmt.Fprintf(tw, "path\t%s\n", info.Path)
	fmt.Fprintf(tw, "capacity\t%d\n", info.Capacity)
	fmt.Fprintf(tw, "creator pid\t%d\n", info.CreatorPID)
	fmt.Fprintf(tw, "cleanup\t%s\n", info.Cleanup)
	fmt.Fprintf(tw, "usage\t%d\n", info.Usage)
	fmt.Fprintf(tw, "ready\t%t\n", info.Ready)
	fmt.Fprintf(tw, "invalidated\t%t\n", info.Invalidated)
	fmt.Fprintf(tw, "created\t%s\n", info.CreatedAt.Format(time.RFC3339))
	return tw.Flush()
}

func (a *app) set(args []string) error {
	fs := a.flags("set", "<segment> <path> <json>")
	if err := a.parse(fs, args, 3); err != nil {
		return err
	}
	v, err := parseValue([]byte(fs.Arg(2)))
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	sh, err := a.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer sh.Close()
	root, err := sh.Store()
	if err != nil {
		return err
	}
	return assign(root, splitPath(fs.Arg(1)), v)
}

func (a *app) get(args []string) error {
	fs := a.flags("get", "[-indent s] <segment> <path>")
	indent := fs.String("indent", "  ", "JSON indentation")
	if err := a.parse(fs, args, 2); err != nil {
		return err
	}

	sh, err := a.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer sh.Close()
	root, err := sh.Store()
	if err != nil {
		return err
	}
	v, err := resolve(root, splitPath(fs.Arg(1)))
	if err != nil {
		return err
	}
	return a.print(codec.Default, v, *indent)
}

func (a *app) dump(args []string) error {
	fs := a.flags("dump", "[-indent s] [-codec name] <segment>")
	indent := fs.String("indent", "  ", "JSON indentation")
	codecName := fs.String("codec", codec.Default.Name(), "JSON codec: go-json or json")
	if err := a.parse(fs, args, 1); err != nil {
		return err
	}
	c, ok := codec.ByName(*codecName)
	if !ok {
		return fmt.Errorf("unknown codec %q", *codecName)
	}

	sh, err := a.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer sh.Close()
	root, err := sh.Store()
	if err != nil {
		return err
	}
	return a.print(c, root, *indent)
}

func (a *app) print(c codec.Codec, v any, indent string) error {
	plain, err := detach(v)
	if err != nil {
		return err
	}
	out, err := codec.MarshalIndent(c, plain, indent)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%s\n", out)
	return err
}

func (a *app) rm(args []string) error {
	fs := a.flags("rm", "<segment>")
	if err := a.parse(fs, args, 1); err != nil {
		return err
	}
	opts, err := a.cfg.options(a.stderr)
	if err != nil {
		return err
	}
	return structstore.Unlink(fs.Arg(0), opts...)
}

// stress increments one counter field from many goroutines, each acting as
// its own lock owner, and verifies no increment was lost.
func (a *app) stress(args []string) error {
	fs := a.flags("stress", "[-workers n] [-iterations n] [-key name] <segment>")
	workers := fs.Int("workers", 4, "concurrent lock owners")
	iterations := fs.Int("iterations", 1000, "increments per worker")
	key := fs.String("key", "stress_counter", "counter field")
	if err := a.parse(fs, args, 1); err != nil {
		return err
	}

	sh, err := a.open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer sh.Close()
	root, err := sh.Store()
	if err != nil {
		return err
	}

	start, err := counterStart(root, *key)
	if err != nil {
		return err
	}

	begin := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < *workers; w++ {
		s := root.Fork()
		g.Go(func() error {
			for i := 0; i < *iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := increment(s, *key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(begin)

	end, err := root.Int(*key)
	if err != nil {
		return err
	}
	want := start + int64(*workers**iterations)
	fmt.Fprintf(a.stdout, "%s: %d -> %d in %s (%.0f ops/s)\n",
		*key, start, end, elapsed.Round(time.Millisecond), float64(end-start)/elapsed.Seconds())
	if end < want {
		return fmt.Errorf("lost updates: counter is %d, want at least %d", end, want)
	}
	return nil
}

// counterStart returns the current counter value, initializing a missing
// field to zero under the root write lock.
func counterStart(root *structstore.Store, key string) (int64, error) {
	g, err := root.WriteLock()
	if err != nil {
		return 0, err
	}
	defer g.Release()

	ok, err := root.Has(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, root.Set(key, 0)
	}
	return root.Int(key)
}

func increment(s *structstore.Store, key string) error {
	g, err := s.WriteLock()
	if err != nil {
		return err
	}
	defer g.Release()

	n, err := s.Int(key)
	if err != nil {
		return err
	}
	return s.Set(key, n+1)
}
