// Package epoch implements collection-cycle identifiers.
//
// Every collection cycle is identified by an Epoch drawn from a Counter.
// Epochs increase monotonically for the lifetime of the process; the value
// -1 (Unset) marks a cycle record that has not been started.
package epoch

import (
	"strconv"
	"sync/atomic"
)

// Epoch identifies a single collection cycle.
type Epoch int64

// Unset is the epoch of a cycle record that was never started.
const Unset Epoch = -1

// IsSet reports whether e identifies a started cycle.
func (e Epoch) IsSet() bool {
	return e != Unset
}

// String returns "#N" for a set epoch and "unset" otherwise.
//
// Used by trace output and test failure messages, not on hot paths.
func (e Epoch) String() string {
	if !e.IsSet() {
		return "unset"
	}
	return "#" + strconv.FormatInt(int64(e), 10)
}

// Counter hands out increasing epochs.
//
// The zero Counter starts at epoch 1, leaving 0 free for hosts that want
// to pre-seed a bootstrap cycle.
//
// Thread Safety: All methods are safe for concurrent calls. Two concurrent
// Next calls always return distinct epochs.
type Counter struct {
	last atomic.Int64
}

// Next returns the epoch for a new cycle.
func (c *Counter) Next() Epoch {
	return Epoch(c.last.Add(1))
}

// Last returns the most recently issued epoch, or Unset if none.
func (c *Counter) Last() Epoch {
	n := c.last.Load()
	if n == 0 {
		return Unset
	}
	return Epoch(n)
}
