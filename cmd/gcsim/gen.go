// gen.go implements the 'gcsim gen' command.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kolkov/tracegc/internal/gc/snapshot"
)

// genConfig holds the parsed arguments of 'gcsim gen'.
type genConfig struct {
	seed   int64
	output string // "" writes to stdout
	opts   snapshot.GenOptions
}

// parseGenArgs parses:
//
//	gcsim gen [-objects N] [-threads N] [-seed S] [-o file]
func parseGenArgs(args []string) (*genConfig, error) {
	cfg := &genConfig{seed: 1, opts: snapshot.DefaultGenOptions()}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg != "-objects" && arg != "-threads" && arg != "-seed" && arg != "-o" {
			return nil, fmt.Errorf("unknown flag %q", arg)
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("%s requires a value", arg)
		}
		i++
		value := args[i]
		if arg == "-o" {
			cfg.output = value
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || (arg != "-seed" && n < 0) {
			return nil, fmt.Errorf("invalid value %q for %s", value, arg)
		}
		switch arg {
		case "-objects":
			cfg.opts.Objects = int(n)
		case "-threads":
			cfg.opts.Threads = int(n)
		case "-seed":
			cfg.seed = n
		}
	}
	return cfg, nil
}

// genCommand implements 'gcsim gen'.
//
// Example:
//
//	gcsim gen -objects 10000 -seed 7 -o heap.json
func genCommand(args []string) error {
	cfg, err := parseGenArgs(args)
	if err != nil {
		return err
	}
	if cfg.output == "" {
		return doGen(os.Stdout, cfg)
	}
	f, err := os.Create(cfg.output)
	if err != nil {
		return err
	}
	if err := doGen(f, cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func doGen(out io.Writer, cfg *genConfig) error {
	return snapshot.Generate(cfg.seed, cfg.opts).Encode(out)
}
