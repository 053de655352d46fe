package gc

import "github.com/kolkov/tracegc/internal/gc/snapshot"

// Version information for the collector.
const (
	// Version is the current version of the collector runtime.
	Version = "0.3.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 3

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the collector.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Algorithm is the collection algorithm used.
	Algorithm string

	// Worklist is the configured marking strategy.
	Worklist string

	// SnapshotFormat is the heap snapshot format version written by
	// gcsim gen.
	SnapshotFormat string
}

// GetInfo returns information about the collector runtime.
//
// Example:
//
//	info := gc.GetInfo()
//	fmt.Printf("tracegc %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:        Version,
		Algorithm:      "stop-the-world mark-sweep",
		Worklist:       string(current().Config.Worklist),
		SnapshotFormat: snapshot.FormatVersion,
	}
}
