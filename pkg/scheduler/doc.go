/*
Package scheduler drives the bounded worker pool that turns QUEUED chunks
into scanned hosts.

It owns two independent ticking loops and a set of per-chunk supervisor
goroutines:

	┌────────────────────────────────────────────────────────────┐
	│                   Promotion tick (1s)                      │
	│  capacity = max_workers - |RUNNING|                         │
	│  promote oldest `capacity` QUEUED chunks, created_at order  │
	└────────────────┬─────────────────────────────────────────────┘
	                 │ one goroutine per promoted chunk
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│                  Chunk supervisor                           │
	│  per-chunk semaphore bounds per_host_workers                │
	│  per address: Scan -> write artifact -> progress -> events  │
	│  terminal: COMPLETED | FAILED (panic) | KILLED (abort)      │
	└──────────────────────────────────────────────────────────────┘

A second, slower loop (the watchdog, 5s default) is a defensive backstop
independent of the documented state machine: it force-fails a RUNNING
chunk whose last_heartbeat has gone stale with zero live host tasks
tracked, which can only happen if a supervisor goroutine wedged or
panicked past its own recover(). It does not add a new legal transition;
FAILED is already reachable from RUNNING.

# Control operations

Kill, Split, and Requeue are called directly against a live Scheduler by
the control surface. Kill cancels the per-chunk context (if the chunk has
a supervisor) and escalates SIGTERM/SIGKILL to every live child process
via the chunk's Scanner Adapter; a QUEUED chunk with no supervisor
transitions straight to KILLED. Split aborts a RUNNING chunk's supervisor
before handing off to the chunk store's own Split, so the parent's host
loop has stopped issuing new scans before its children are promoted.
Requeue is a plain state-machine transition available only from a
terminal status.

# Concurrency discipline

Only chunk store, coverage tracker, and event broker state is shared
across goroutines, and each of those owns its own lock. The scheduler's
own mutex guards only the supervisors map — never held across an I/O or
process-wait boundary. Every host scan, artifact write, progress update,
and event publish happens without holding that mutex.
*/
package scheduler
