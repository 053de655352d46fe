// profile.go implements the 'gcsim profile' command.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kolkov/tracegc/internal/gc/config"
	"github.com/kolkov/tracegc/internal/gc/snapshot"
)

// profileConfig holds the parsed arguments of 'gcsim profile'.
type profileConfig struct {
	output   string
	collect  bool
	snapshot string
}

// parseProfileArgs parses:
//
//	gcsim profile [-collect] -o heap.pb.gz snapshot.json
func parseProfileArgs(args []string) (*profileConfig, error) {
	cfg := &profileConfig{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-o", "--o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			cfg.output = args[i]
		case "-collect", "--collect":
			cfg.collect = true
		default:
			if cfg.snapshot != "" {
				return nil, fmt.Errorf("unexpected argument %q", arg)
			}
			cfg.snapshot = arg
		}
	}
	if cfg.snapshot == "" {
		return nil, errNoSnapshot
	}
	if cfg.output == "" {
		return nil, fmt.Errorf("no output file specified (use -o)")
	}
	return cfg, nil
}

// profileCommand implements 'gcsim profile'.
//
// Example:
//
//	gcsim profile -collect -o heap.pb.gz heap.json
func profileCommand(args []string) error {
	pc, err := parseProfileArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	w, err := loadWorld(pc.snapshot)
	if err != nil {
		return err
	}

	f, err := os.Create(pc.output)
	if err != nil {
		return err
	}
	if err := doProfile(f, w, cfg, pc.collect); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", pc.output)
	return nil
}

// doProfile writes the heap profile of w, after one cycle if collect is
// set.
func doProfile(out io.Writer, w *snapshot.World, cfg config.Config, collect bool) error {
	c := newCollector(w, cfg)
	if collect {
		if _, err := c.Collect(context.Background()); err != nil {
			return err
		}
	}
	return c.WriteHeapProfile(out)
}
