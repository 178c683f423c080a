// Package aggregator implements the Snapshot/Aggregator: on demand, it
// streams every artifact in the store through the Result Parser and
// projects the result into a consolidated, Address-keyed report.
package aggregator

import (
	"time"

	"github.com/scanord/engine/pkg/artifact"
	"github.com/scanord/engine/pkg/chunk"
	"github.com/scanord/engine/pkg/parser"
	"github.com/scanord/engine/pkg/types"
)

// Entry is one Address's consolidated export record: its parsed Host
// Record plus the earliest/latest timestamps of the chunk(s) that
// scanned it.
type Entry struct {
	Address      types.Address    `json:"address"`
	Record       types.HostRecord `json:"record"`
	ScanStarted  *time.Time       `json:"scan_started,omitempty"`
	ScanFinished *time.Time       `json:"scan_finished,omitempty"`
}

// Summary is the cheap format=summary projection over the same data:
// status and open port count only, without re-deriving a new persisted
// shape.
type Summary struct {
	Address       types.Address `json:"address"`
	Status        string        `json:"status"`
	OpenPortCount int           `json:"open_port_count"`
}

// ChunkTimestamps is the minimal chunk-store view the aggregator needs
// to attribute scan_started/scan_finished to an artifact's chunk.
type ChunkTimestamps interface {
	Get(id string) (*types.Chunk, error)
}

// Export iterates every artifact in store, parses it, and returns one
// Entry per Address whose parse did not fail. Parse errors are dropped
// from the export (they remain inspectable via get_scan_result) per
// §4.10. When the same Address appears under more than one chunk (a
// requeue or split lineage), the chunk with the latest completion wins
// the Entry's Record, and scan_started/scan_finished span the earliest
// start and latest finish observed across all of them.
func Export(store *artifact.Store, chunks ChunkTimestamps) ([]Entry, error) {
	type accum struct {
		entry      Entry
		recordAt   *time.Time // CompletedAt of the chunk that produced entry.Record
		haveRecord bool
	}
	byAddress := make(map[types.Address]*accum)

	err := store.Iterate(func(a artifact.Artifact, data []byte) error {
		rec := parser.Parse(data)
		if rec.Error != "" {
			return nil
		}

		acc, ok := byAddress[types.Address(a.Address)]
		if !ok {
			acc = &accum{entry: Entry{Address: types.Address(a.Address)}}
			byAddress[types.Address(a.Address)] = acc
		}

		c, cerr := chunks.Get(a.ChunkID)

		// Only the chunk with the latest completion wins the Record;
		// iteration order (filesystem walk, lexicographic by chunk id)
		// is not completion order, so this can't be a plain overwrite.
		if !acc.haveRecord {
			acc.entry.Record = rec
			acc.haveRecord = true
			if cerr == nil {
				acc.recordAt = c.CompletedAt
			}
		} else if cerr == nil && c.CompletedAt != nil && (acc.recordAt == nil || c.CompletedAt.After(*acc.recordAt)) {
			acc.entry.Record = rec
			acc.recordAt = c.CompletedAt
		}

		if cerr == nil {
			if c.StartedAt != nil && (acc.entry.ScanStarted == nil || c.StartedAt.Before(*acc.entry.ScanStarted)) {
				acc.entry.ScanStarted = c.StartedAt
			}
			if c.CompletedAt != nil && (acc.entry.ScanFinished == nil || c.CompletedAt.After(*acc.entry.ScanFinished)) {
				acc.entry.ScanFinished = c.CompletedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(byAddress))
	for _, acc := range byAddress {
		out = append(out, acc.entry)
	}
	return out, nil
}

// Summarize projects Export's output into the cheap per-Address
// {status, open_port_count} shape used by format=summary.
func Summarize(entries []Entry) []Summary {
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		open := 0
		for _, p := range e.Record.Ports {
			if p.State == "open" {
				open++
			}
		}
		out = append(out, Summary{Address: e.Address, Status: e.Record.Status, OpenPortCount: open})
	}
	return out
}

var _ ChunkTimestamps = (*chunk.Store)(nil)
