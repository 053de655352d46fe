// Package main implements the gcsim CLI tool.
//
// gcsim loads heap snapshots into the reference heap and drives the
// collector over them. It is used to reproduce collector behaviour on a
// fixed object graph, to check marking against the reachability oracle and
// to produce heap profiles.
//
// Usage:
//
//	gcsim gen -objects 10000 -o heap.json   # Generate a random snapshot
//	gcsim run -cycles 3 heap.json           # Collect and print gctrace lines
//	gcsim verify heap.json                  # Analyze and checkmark one cycle
//	gcsim profile -o heap.pb.gz heap.json   # Write a pprof heap profile
//
// Collector settings come from GCDEBUG, as for programs using package gc.
package main

import (
	"fmt"
	"os"

	"golang.org/x/mod/semver"

	"github.com/kolkov/tracegc/gc"
	"github.com/kolkov/tracegc/internal/gc/snapshot"
)

const version = "v" + gc.Version

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "run":
		err = runCommand(os.Args[2:])
	case "verify":
		err = verifyCommand(os.Args[2:])
	case "profile":
		err = profileCommand(os.Args[2:])
	case "gen":
		err = genCommand(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("gcsim version %s (snapshot format %s, reads %s.x)\n",
		semver.Canonical(version), snapshot.FormatVersion, semver.Major(snapshot.FormatVersion))
}

func printUsage() {
	fmt.Print(`gcsim - tracing collector simulator

USAGE:
    gcsim <command> [arguments]

COMMANDS:
    run        Load a snapshot and run collection cycles
    verify     Analyze a snapshot and checkmark one cycle
    profile    Write a pprof heap profile of a snapshot
    gen        Generate a random heap snapshot
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Generate a snapshot with 10000 heap objects
    gcsim gen -objects 10000 -seed 7 -o heap.json

    # Run three cycles with parallel marking and per-cycle trace lines
    GCDEBUG=worklist=parallel,markworkers=4 gcsim run -cycles 3 heap.json

    # Check marking against the reachability oracle
    gcsim verify heap.json

    # Profile what survives a collection
    gcsim profile -collect -o heap.pb.gz heap.json
    go tool pprof -top heap.pb.gz

SNAPSHOTS:
    A snapshot is a JSON document with a semantic "format" version, a list
    of objects (id, type, size, kind, ptrs, finalizer, weakReferent,
    associated), mutator threads with stack and tls roots, globals and
    stable references. Only format major version v1 is accepted.

`)
}
