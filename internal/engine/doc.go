// Package engine implements the audit orchestration core: it accepts jobs,
// fans batch jobs out into per-target execution units, dispatches units
// under a global concurrency bound with per-target mutual exclusion, runs
// each unit's checks sequentially with per-check timeouts, aggregates
// results into a terminal job state, and hands finished results to the
// reporting collaborator. The scheduler materializes jobs from recurring
// rules on a fixed tick.
package engine
