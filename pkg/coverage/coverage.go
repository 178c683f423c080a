// Package coverage tracks, per Address, which of {pending, scanned_ok,
// failed} it currently occupies, plus an advisory quarantine overlay for
// addresses that have failed repeatedly.
package coverage

import (
	"sync"

	"github.com/scanord/engine/pkg/types"
)

type state int

const (
	statePending state = iota
	stateScannedOK
	stateFailed
)

// Tracker is the mutex-guarded coverage set accountant.
type Tracker struct {
	mu                      sync.RWMutex
	addrState               map[types.Address]state
	failureCount            map[types.Address]int
	quarantined             map[types.Address]bool
	killedChunks            int
	quarantineAfterFailures int
}

// NewTracker returns a Tracker that quarantines an Address once it has
// failed quarantineAfterFailures times (minimum 1).
func NewTracker(quarantineAfterFailures int) *Tracker {
	if quarantineAfterFailures < 1 {
		quarantineAfterFailures = 1
	}
	return &Tracker{
		addrState:               make(map[types.Address]state),
		failureCount:            make(map[types.Address]int),
		quarantined:             make(map[types.Address]bool),
		quarantineAfterFailures: quarantineAfterFailures,
	}
}

// Ingest places address into pending if it has never been seen before.
// Re-ingesting an Address already tracked is a no-op: the latest
// outcome, not the latest ingest, wins (§4.8).
func (t *Tracker) Ingest(address types.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.addrState[address]; !seen {
		t.addrState[address] = statePending
	}
}

// MarkCompleted atomically moves address from pending (or its prior
// state, on reprocessing after a requeue) to scanned_ok or failed.
func (t *Tracker) MarkCompleted(address types.Address, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ok {
		t.addrState[address] = stateScannedOK
		delete(t.failureCount, address)
		delete(t.quarantined, address)
		return
	}

	t.addrState[address] = stateFailed
	t.failureCount[address]++
	if t.failureCount[address] >= t.quarantineAfterFailures {
		t.quarantined[address] = true
	}
}

// MarkChunkKilled records one more Chunk entering the KILLED state, for
// the coverage() snapshot's killed count.
func (t *Tracker) MarkChunkKilled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killedChunks++
}

// Coverage returns the current set sizes.
func (t *Tracker) Coverage() types.Coverage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var cov types.Coverage
	for _, st := range t.addrState {
		switch st {
		case statePending:
			cov.Pending++
		case stateScannedOK:
			cov.Completed++
		case stateFailed:
			cov.Failed++
		}
	}
	cov.Total = cov.Completed + cov.Failed + cov.Pending
	cov.Killed = t.killedChunks
	return cov
}

// QuarantinedCount returns the number of addresses currently quarantined.
func (t *Tracker) QuarantinedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.quarantined)
}

// IsQuarantined reports whether address has failed enough times to be
// quarantined.
func (t *Tracker) IsQuarantined(address types.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.quarantined[address]
}
