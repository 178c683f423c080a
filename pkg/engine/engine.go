// Package engine implements the Control Surface (§4.9): the single
// contract external collaborators — the CLI entrypoint, and in a full
// deployment the out-of-scope REST/WebSocket layer — call against. It
// owns no scheduling logic of its own; it wires the Target Expander,
// Chunk Store, Coverage Tracker, Artifact Store, Event Broker, Settings
// store, and Scheduler together and exposes the operations named in §6.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/scanord/engine/pkg/aggregator"
	"github.com/scanord/engine/pkg/artifact"
	"github.com/scanord/engine/pkg/chunk"
	"github.com/scanord/engine/pkg/coverage"
	"github.com/scanord/engine/pkg/events"
	"github.com/scanord/engine/pkg/expander"
	"github.com/scanord/engine/pkg/log"
	"github.com/scanord/engine/pkg/metrics"
	"github.com/scanord/engine/pkg/parser"
	"github.com/scanord/engine/pkg/scheduler"
	"github.com/scanord/engine/pkg/settingsstore"
	"github.com/scanord/engine/pkg/types"
)

// InputError is returned for caller-supplied data rejected before any
// state change: malformed targets, invalid chunk_size, invalid settings.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return "engine: invalid input: " + e.Msg }

// defaultChunkSize is used by Import when the caller passes <= 0.
const defaultChunkSize = 256

// defaultMaxExpand bounds a single ingest line's expansion.
const defaultMaxExpand = 65536

// Config bundles the directories and tunables an Engine needs to start.
type Config struct {
	StateDir        string
	ScannerBinary   string
	DefaultSettings types.Settings
}

// Engine is the long-lived process object: one per running scand
// instance. Construct with New, then call Start before accepting
// control operations and Stop on shutdown.
type Engine struct {
	chunks    *chunk.Store
	coverage  *coverage.Tracker
	artifacts *artifact.Store
	broker    *events.Broker
	settings  *settingsstore.Store
	scheduler *scheduler.Scheduler
}

// New wires every component together against cfg. The settings store is
// opened (and seeded on first run) synchronously; callers should treat a
// non-nil error as fatal to startup.
func New(cfg Config) (*Engine, error) {
	settingsStore, err := settingsstore.Open(cfg.StateDir, cfg.DefaultSettings)
	if err != nil {
		return nil, fmt.Errorf("engine: opening settings store: %w", err)
	}

	chunks := chunk.NewStore()
	cov := coverage.NewTracker(settingsStore.Current().QuarantineAfterFailures)
	artifacts := artifact.NewStore(cfg.StateDir)
	broker := events.NewBroker(1000)

	sched := scheduler.New(scheduler.Config{
		Chunks:    chunks,
		Coverage:  cov,
		Artifacts: artifacts,
		Broker:    broker,
		Settings:  settingsStore,
		Binary:    cfg.ScannerBinary,
	})

	return &Engine{
		chunks:    chunks,
		coverage:  cov,
		artifacts: artifacts,
		broker:    broker,
		settings:  settingsStore,
		scheduler: sched,
	}, nil
}

// Start launches the scheduler's promotion and watchdog loops. Callers
// should cancel ctx (or call Stop) to shut everything down.
func (e *Engine) Start(ctx context.Context) {
	e.scheduler.Start(ctx)
}

// Stop cancels every in-flight supervisor and waits for the scheduler's
// loops to return, then closes the event broker and settings store.
func (e *Engine) Stop() error {
	e.scheduler.Stop()
	e.broker.Close()
	return e.settings.Close()
}

// Import expands lines from r, partitions the result into contiguous
// slices of at most chunkSize addresses (default 256), ingests every
// address into the Coverage Tracker's pending set, and creates one
// QUEUED chunk per slice.
func (e *Engine) Import(r io.Reader, chunkSize int) ([]string, int, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	addrs, err := expander.Expand(r, defaultMaxExpand)
	if err != nil {
		return nil, 0, &InputError{Msg: err.Error()}
	}

	var ids []string
	for i := 0; i < len(addrs); i += chunkSize {
		end := i + chunkSize
		if end > len(addrs) {
			end = len(addrs)
		}
		slice := addrs[i:end]

		for _, a := range slice {
			e.coverage.Ingest(a)
		}

		c := e.chunks.Create(slice, "", 0)
		ids = append(ids, c.ID)
		e.broker.Publish(types.Event{Type: types.EventChunkCreated, ChunkID: c.ID})
	}

	return ids, len(addrs), nil
}

// ListChunks returns chunks matching an optional status filter, paged
// by limit/offset, stable by created_at, plus the count of matches
// before paging was applied.
func (e *Engine) ListChunks(status *types.ChunkStatus, limit, offset int) ([]*types.Chunk, int) {
	all := e.chunks.List(chunk.ListFilter{Status: status})
	total := len(all)

	paged := e.chunks.List(chunk.ListFilter{Status: status, Limit: limit, Offset: offset})
	return paged, total
}

// GetChunk returns one chunk by id, or NotFoundError.
func (e *Engine) GetChunk(id string) (*types.Chunk, error) {
	return e.chunks.Get(id)
}

// ChunkDetails is the read-through projection for get_chunk_details:
// the chunk itself plus any children produced by a prior split.
type ChunkDetails struct {
	Chunk    *types.Chunk
	Children []string
}

// GetChunkDetails returns a chunk plus its split lineage children.
func (e *Engine) GetChunkDetails(id string) (*ChunkDetails, error) {
	c, err := e.chunks.Get(id)
	if err != nil {
		return nil, err
	}
	return &ChunkDetails{Chunk: c, Children: e.chunks.Children(id)}, nil
}

// GetScanResult reads the artifact for (chunkID, address) and parses it.
// A never-written artifact surfaces as NotFoundError; any other read
// failure is returned wrapped.
func (e *Engine) GetScanResult(chunkID, address string) (types.HostRecord, error) {
	data, err := e.artifacts.Read(chunkID, address)
	if err != nil {
		if os.IsNotExist(err) {
			return types.HostRecord{}, &chunk.NotFoundError{ID: chunkID + "/" + address}
		}
		return types.HostRecord{}, fmt.Errorf("engine: reading artifact %s/%s: %w", chunkID, address, err)
	}
	return parseArtifact(data), nil
}

// Kill aborts a chunk. See pkg/scheduler.Scheduler.Kill.
func (e *Engine) Kill(id string) error {
	return e.scheduler.Kill(id)
}

// Split decomposes a chunk into n children. See pkg/scheduler.Scheduler.Split.
func (e *Engine) Split(id string, n int) ([]string, error) {
	if n < 1 {
		n = 2
	}
	return e.scheduler.Split(id, n)
}

// Requeue resets a terminal chunk to QUEUED. See pkg/scheduler.Scheduler.Requeue.
func (e *Engine) Requeue(id string) error {
	return e.scheduler.Requeue(id)
}

// UpdateSettings replaces the live Settings with next (replace-then-
// publish, §4.9): the new value is durably versioned, then a
// settings_updated event is published. It takes effect for subsequent
// chunk promotions only.
func (e *Engine) UpdateSettings(next types.Settings) (types.Settings, error) {
	if err := validateSettings(next); err != nil {
		return types.Settings{}, err
	}

	updated, err := e.settings.Apply(next)
	if err != nil {
		return types.Settings{}, fmt.Errorf("engine: applying settings: %w", err)
	}

	e.broker.Publish(types.Event{Type: types.EventSettingsUpdated, Attempt: updated.Version})
	log.Info("settings updated")
	return updated, nil
}

// CurrentSettings returns the live Settings value.
func (e *Engine) CurrentSettings() types.Settings {
	return e.settings.Current()
}

// SettingsHistory returns every accepted Settings version, oldest first.
func (e *Engine) SettingsHistory() ([]types.Settings, error) {
	return e.settings.History()
}

// Coverage returns the current coverage snapshot.
func (e *Engine) Coverage() types.Coverage {
	return e.coverage.Coverage()
}

// Metrics returns the control surface's summary counters (distinct from
// the Prometheus /metrics HTTP surface, which exposes a superset as time
// series via pkg/metrics.Handler).
func (e *Engine) Metrics() types.Metrics {
	return types.Metrics{
		Running: e.scheduler.RunningCount(),
		Queued:  len(e.chunks.ListQueuedByAge()),
		Chunks:  e.chunks.Count(),
	}
}

// MetricsCollector returns a Prometheus collector polling this engine's
// chunk store, coverage tracker, and event broker on interval, for the
// serve subcommand to Start/Stop around its HTTP listener's lifetime.
func (e *Engine) MetricsCollector(interval time.Duration) *metrics.Collector {
	return metrics.NewCollector(e.chunks, e.coverage, e.broker, interval)
}

// Subscribe registers a new event stream subscriber.
func (e *Engine) Subscribe() *events.Subscriber {
	return e.broker.Subscribe()
}

// Unsubscribe detaches a subscriber.
func (e *Engine) Unsubscribe(sub *events.Subscriber) {
	e.broker.Unsubscribe(sub)
}

// Export streams every artifact through the Result Parser and returns
// either the full per-Address report (format="json") or the cheap
// {status, open_port_count} projection (format="summary").
func (e *Engine) Export(format string) (any, error) {
	entries, err := aggregator.Export(e.artifacts, e.chunks)
	if err != nil {
		return nil, fmt.Errorf("engine: export: %w", err)
	}

	switch format {
	case "", "json":
		return entries, nil
	case "summary":
		return aggregator.Summarize(entries), nil
	default:
		return nil, &InputError{Msg: fmt.Sprintf("unknown export format %q", format)}
	}
}

func parseArtifact(data []byte) types.HostRecord {
	return parser.Parse(data)
}

func validateSettings(s types.Settings) error {
	if s.MaxWorkers < 1 {
		return &InputError{Msg: "max_workers must be >= 1"}
	}
	if s.PerHostWorkers < 1 {
		return &InputError{Msg: "per_host_workers must be >= 1"}
	}
	if s.HostTimeoutSec < 1 {
		return &InputError{Msg: "host_timeout_sec must be >= 1"}
	}
	switch s.Profile {
	case types.ProfileFast, types.ProfileBalanced, types.ProfileThorough:
	default:
		return &InputError{Msg: fmt.Sprintf("unknown profile %q", s.Profile)}
	}
	if s.ScanType == "" {
		return &InputError{Msg: "scan_type is required"}
	}
	return nil
}
