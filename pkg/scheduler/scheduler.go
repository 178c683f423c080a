// Package scheduler owns the promotion tick, the per-chunk supervisors,
// and the control operations (kill, split, requeue) that mutate a
// running scan. It is the orchestration core: everything else in this
// module is a component the scheduler drives or reports through.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/scanord/engine/pkg/artifact"
	"github.com/scanord/engine/pkg/chunk"
	"github.com/scanord/engine/pkg/coverage"
	"github.com/scanord/engine/pkg/events"
	"github.com/scanord/engine/pkg/log"
	"github.com/scanord/engine/pkg/metrics"
	"github.com/scanord/engine/pkg/parser"
	"github.com/scanord/engine/pkg/scanner"
	"github.com/scanord/engine/pkg/types"
)

// SettingsProvider supplies the live Settings. The scheduler re-reads it
// on every promotion tick; a chunk already RUNNING keeps the Settings it
// was promoted with (§4.9: update_settings takes effect for subsequent
// promotions only).
type SettingsProvider interface {
	Current() types.Settings
}

// Config bundles the collaborators and tunables a Scheduler needs.
type Config struct {
	Chunks    *chunk.Store
	Coverage  *coverage.Tracker
	Artifacts *artifact.Store
	Broker    *events.Broker
	Settings  SettingsProvider

	// Binary is the scanner executable invoked by the Scanner Adapter.
	Binary string

	// Tick is the promotion loop interval, default 1s (spec: "≤1s").
	Tick time.Duration
	// Watchdog is the stale-supervisor sweep interval, default 5s.
	Watchdog time.Duration
}

// supervisor tracks the live state the scheduler needs to abort or
// inspect one RUNNING chunk's in-flight scans.
type supervisor struct {
	cancel   context.CancelFunc
	adapter  *scanner.Adapter
	liveHost int32 // atomic: host scans past the semaphore, not yet accounted for
}

// Scheduler is the bounded worker pool described in §4.7: at most
// max_workers chunks RUNNING at once, each with its own supervisor, each
// supervisor bounding its host concurrency to per_host_workers.
type Scheduler struct {
	chunks    *chunk.Store
	coverage  *coverage.Tracker
	artifacts *artifact.Store
	broker    *events.Broker
	settings  SettingsProvider
	binary    string
	tick      time.Duration
	watchdog  time.Duration

	logger zerolog.Logger

	mu          sync.Mutex
	supervisors map[string]*supervisor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. It does not start the promotion or watchdog
// loops; call Start for that.
func New(cfg Config) *Scheduler {
	if cfg.Binary == "" {
		cfg.Binary = "nmap"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = 5 * time.Second
	}
	return &Scheduler{
		chunks:      cfg.Chunks,
		coverage:    cfg.Coverage,
		artifacts:   cfg.Artifacts,
		broker:      cfg.Broker,
		settings:    cfg.Settings,
		binary:      cfg.Binary,
		tick:        cfg.Tick,
		watchdog:    cfg.Watchdog,
		logger:      log.WithComponent("scheduler"),
		supervisors: make(map[string]*supervisor),
	}
}

// Start begins the promotion tick and watchdog loops, both cancelled
// when ctx is done or Stop is called. It is safe to call Start once.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.tickLoop()
	go s.watchdogLoop()
}

// Stop cancels the root context, which cascades to every live
// supervisor and host task, then waits for the loops to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.promote()
		case <-s.ctx.Done():
			return
		}
	}
}

// promote computes remaining capacity and starts supervisors for the
// oldest QUEUED chunks up to that capacity, strictly in created_at
// order (no priority, no preemption).
func (s *Scheduler) promote() {
	settings := s.settings.Current()

	s.mu.Lock()
	running := len(s.supervisors)
	s.mu.Unlock()

	capacity := settings.MaxWorkers - running
	if capacity <= 0 {
		return
	}

	queued := s.chunks.ListQueuedByAge()
	if len(queued) > capacity {
		queued = queued[:capacity]
	}

	for _, c := range queued {
		s.startSupervisor(c, settings)
	}
}

// startSupervisor promotes one QUEUED chunk to RUNNING and launches its
// supervisor goroutine. The promoting transition is the compare-and-set
// guaranteeing at most one supervisor per chunk (§9): Store.Transition
// only succeeds from QUEUED, under the store's own mutex.
func (s *Scheduler) startSupervisor(c *types.Chunk, settings types.Settings) {
	if _, err := s.chunks.Transition(c.ID, types.ChunkRunning); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sup := &supervisor{cancel: cancel, adapter: scanner.NewAdapter(s.binary)}

	s.mu.Lock()
	s.supervisors[c.ID] = sup
	s.mu.Unlock()

	metrics.ChunksScheduledTotal.Inc()
	s.publish(types.Event{Type: types.EventChunkStarted, ChunkID: c.ID})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSupervisor(ctx, sup, c, settings)
	}()
}

// runSupervisor drives every host scan for one chunk and performs the
// chunk's terminal transition. A deferred recover() converts a panic on
// the supervisor's own goroutine into a SupervisorException: the chunk
// fails, siblings are unaffected. The per-host goroutines started by
// runHosts have no recover of their own.
func (s *Scheduler) runSupervisor(ctx context.Context, sup *supervisor, c *types.Chunk, settings types.Settings) {
	logger := log.WithChunkID(c.ID)

	defer func() {
		s.mu.Lock()
		delete(s.supervisors, c.ID)
		s.mu.Unlock()
	}()

	terminal, failMsg := func() (status types.ChunkStatus, msg string) {
		defer func() {
			if r := recover(); r != nil {
				status = types.ChunkFailed
				msg = fmt.Sprintf("supervisor panic: %v", r)
			}
		}()
		s.runHosts(ctx, sup, c, settings)
		if ctx.Err() != nil {
			return types.ChunkKilled, ""
		}
		return types.ChunkCompleted, ""
	}()

	updated, err := s.chunks.Transition(c.ID, terminal)
	if err != nil {
		logger.Error().Err(err).Msg("terminal transition failed")
		return
	}

	metrics.ChunksCompletedTotal.WithLabelValues(string(terminal)).Inc()

	switch terminal {
	case types.ChunkCompleted:
		s.publish(types.Event{Type: types.EventChunkCompleted, ChunkID: c.ID, Completed: updated.ProgressCompleted, Total: updated.ProgressTotal})
	case types.ChunkFailed:
		s.publish(types.Event{Type: types.EventChunkFailed, ChunkID: c.ID, Message: failMsg})
	case types.ChunkKilled:
		s.coverage.MarkChunkKilled()
		s.publish(types.Event{Type: types.EventChunkKilled, ChunkID: c.ID})
	}
}

// runHosts fans the chunk's addresses out across a per-chunk host
// semaphore, running each scan to completion, persisting its artifact,
// and updating progress/coverage before the next host_completed event.
func (s *Scheduler) runHosts(ctx context.Context, sup *supervisor, c *types.Chunk, settings types.Settings) {
	perHost := settings.PerHostWorkers
	if perHost < 1 {
		perHost = 1
	}
	sem := semaphore.NewWeighted(int64(perHost))

	var wg sync.WaitGroup
	for _, addr := range c.Addresses {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// ctx was cancelled while waiting: stop issuing new scans.
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}

		atomic.AddInt32(&sup.liveHost, 1)
		wg.Add(1)
		go func(addr types.Address) {
			defer wg.Done()
			defer sem.Release(1)
			defer atomic.AddInt32(&sup.liveHost, -1)
			s.runOneHost(ctx, sup, c, settings, addr)
		}(addr)
	}
	wg.Wait()
}

func (s *Scheduler) runOneHost(ctx context.Context, sup *supervisor, c *types.Chunk, settings types.Settings, addr types.Address) {
	timer := metrics.NewTimer()
	outcome, err := sup.adapter.Scan(ctx, settings, addr)
	timer.ObserveDuration(metrics.HostScanDuration)

	if err != nil {
		log.WithAddress(string(addr)).Error().Err(err).Msg("scan invocation failed")
		outcome = types.ScanOutcome{OK: false}
	}

	if werr := s.artifacts.Write(c.ID, string(addr), outcome.Stdout); werr != nil {
		log.WithAddress(string(addr)).Warn().Err(werr).Msg("artifact write failed")
	}

	// Coverage tracks whether the host was successfully scanned, not
	// merely whether the scanner process exited 0: a process that exits
	// cleanly but emits unparsable or host-less XML has not produced a
	// usable result either (seed scenario: malformed XML -> host failed).
	rec := parser.Parse(outcome.Stdout)
	ok := outcome.OK && rec.Error == ""

	s.coverage.MarkCompleted(addr, ok)
	updated, perr := s.chunks.Progress(c.ID, 1)
	if perr != nil {
		log.WithChunkID(c.ID).Error().Err(perr).Msg("progress update failed")
		return
	}

	if ok {
		metrics.HostScansTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.HostScansTotal.WithLabelValues("failed").Inc()
	}

	reason := rec.Error
	if reason == "" {
		reason = rec.Reason
	}
	// host_completed must precede the chunk_progress it caused (§5).
	s.publish(types.Event{Type: types.EventHostCompleted, ChunkID: c.ID, Address: addr, Message: reason})
	s.publish(types.Event{Type: types.EventChunkProgress, ChunkID: c.ID, Completed: updated.ProgressCompleted, Total: updated.ProgressTotal})
}

// Kill aborts a chunk: a RUNNING chunk's supervisor is cancelled and its
// live children escalated to SIGTERM/SIGKILL; a QUEUED chunk transitions
// straight to KILLED since it has no supervisor. Terminal chunks reject
// with InvalidState. Kill is idempotent on an already-KILLED chunk.
func (s *Scheduler) Kill(id string) error {
	c, err := s.chunks.Get(id)
	if err != nil {
		return err
	}

	if c.Status == types.ChunkKilled {
		return nil
	}

	if c.Status == types.ChunkQueued {
		if _, err := s.chunks.Transition(id, types.ChunkKilled); err != nil {
			return err
		}
		s.coverage.MarkChunkKilled()
		s.publish(types.Event{Type: types.EventChunkKilled, ChunkID: id})
		return nil
	}

	s.mu.Lock()
	sup, ok := s.supervisors[id]
	s.mu.Unlock()
	if !ok {
		return &chunk.InvalidStateError{ID: id, From: c.Status, To: types.ChunkKilled}
	}

	sup.cancel()
	sup.adapter.AbortAll()
	return nil
}

// Split decomposes a chunk into contiguous children regardless of its
// current status; see chunk.Store.Split for how many children nParts
// yields (at most nParts). If the chunk is RUNNING its supervisor is aborted
// first so the parent's host loop stops before the children are
// promoted. Already-written artifacts from the parent are retained
// under the parent's id and continue to count toward coverage.
func (s *Scheduler) Split(id string, nParts int) ([]string, error) {
	c, err := s.chunks.Get(id)
	if err != nil {
		return nil, err
	}

	if c.Status == types.ChunkRunning {
		s.mu.Lock()
		sup, ok := s.supervisors[id]
		s.mu.Unlock()
		if ok {
			sup.cancel()
			sup.adapter.AbortAll()
		}
	}

	childIDs, err := s.chunks.Split(id, nParts)
	if err != nil {
		return nil, err
	}

	// chunk_created for each child precedes chunk_split (§5).
	for _, childID := range childIDs {
		s.publish(types.Event{Type: types.EventChunkCreated, ChunkID: childID, ParentID: id})
	}
	s.publish(types.Event{Type: types.EventChunkSplit, ChunkID: id, ChildIDs: childIDs})
	return childIDs, nil
}

// Requeue resets a terminal chunk to QUEUED; the next promotion tick
// picks it up. Legal only from COMPLETED, FAILED, or KILLED.
func (s *Scheduler) Requeue(id string) error {
	updated, err := s.chunks.Transition(id, types.ChunkQueued)
	if err != nil {
		return err
	}
	s.publish(types.Event{Type: types.EventChunkRequeued, ChunkID: id, Attempt: updated.Attempt})
	return nil
}

// watchdogLoop is a defensive backstop, not part of the documented state
// machine's legal transitions: it force-fails a RUNNING chunk whose
// last_heartbeat is stale and which has no live host tasks tracked,
// which can only happen if its supervisor goroutine wedged or panicked
// past its own recover().
func (s *Scheduler) watchdogLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.watchdog)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepStale()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) sweepStale() {
	settings := s.settings.Current()
	staleAfter := time.Duration(settings.HostTimeoutSec) * 3 * time.Second
	if staleAfter <= 0 {
		return
	}

	running := types.ChunkRunning
	for _, c := range s.chunks.List(chunk.ListFilter{Status: &running}) {
		if time.Since(c.LastHeartbeat) < staleAfter {
			continue
		}

		s.mu.Lock()
		sup, ok := s.supervisors[c.ID]
		live := int32(0)
		if ok {
			live = atomic.LoadInt32(&sup.liveHost)
		}
		s.mu.Unlock()

		if ok && live > 0 {
			continue
		}

		if _, err := s.chunks.Transition(c.ID, types.ChunkFailed); err != nil {
			continue
		}
		s.mu.Lock()
		delete(s.supervisors, c.ID)
		s.mu.Unlock()

		log.WithChunkID(c.ID).Warn().Msg("watchdog: forcing stale chunk to FAILED")
		s.publish(types.Event{Type: types.EventChunkFailed, ChunkID: c.ID, Message: "SupervisorException: stale heartbeat, no live host tasks"})
	}
}

func (s *Scheduler) publish(e types.Event) {
	if s.broker != nil {
		s.broker.Publish(e)
	}
}

// RunningCount returns the number of chunks this scheduler currently
// considers RUNNING (i.e. has a live supervisor for).
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.supervisors)
}
