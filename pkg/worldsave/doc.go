/*
Package worldsave persists and restores the state of a live game world.

# Overview

A Session binds the engine to one simulation (any world.World). It saves
the player objects and the entities of the active level into a slot, and
loads them back, without stalling the frame loop: every save and load is
a task state machine that advances by one step each time the session is
ticked. Heavy encode work can run on a worker pool while the simulation
keeps mutating its entities.

# Basic Usage

	sim := world.NewSim("Village")
	// ... add actors ...

	s, err := worldsave.New(sim,
	    worldsave.WithSettings(settings),
	    worldsave.WithLogger(logger))
	if err != nil {
	    log.Fatal(err)
	}
	defer s.Close()

	task, err := s.Save(worldsave.ScopeBoth)
	if err != nil {
	    log.Fatal(err) // a save for this scope is already running
	}
	task.OnComplete(func(o worldsave.Outcome, err error) {
	    log.Printf("save %s: %v", o, err)
	})

	for !task.Done() {
	    s.Tick() // once per frame
	}

Load works the same way. A full reload re-applies state to entities that
were already loaded:

	task, err := s.Load(worldsave.ScopeBoth, true)

# Scopes and Conflicts

A task covers the player, the level, or both. At most one save and one load
may be active for overlapping scopes; a second request is rejected at once
with a TaskConflict error and leaves no state behind. Saves and loads are
also rejected while the world reports a level still streaming in.

# Multi-Level Strategies

config.Settings.Strategy chooses how levels combine into one slot:

  - disabled: the slot holds only the active level
  - stacked: one archive per visited level plus the persistent entities
  - streamed: a running snapshot of placed and destroyed entities across levels
  - full: both

# Loading

Entities are matched to saved records by identity. Records of runtime and
persistent entities with no live match are spawned from their class path,
through the class registry and its redirects. A class that cannot be
resolved is logged and skipped without failing the task.

config.Settings.LoadMethod picks how matches are delivered: all at once,
in fixed-size batches per tick, or matched on a worker with every apply
posted back to the ticking goroutine. The load watchdog fails a task that
has not finished within config.Settings.LoadTimeout.

# Regions

For open worlds, RegionVisible applies saved state to a region's entities
as it streams in, nearest to the viewpoint first. RegionHidden captures a
region's entities as it streams out and schedules one accumulated level
save once nothing else is in flight.

# Observability

Tasks log through slog with task_id, task_kind and scope fields, record
OpenTelemetry metrics (worldsave.task.runs, worldsave.step.latency_ms, ...)
and trace spans (worldsave.save > worldsave.step.encode_level). Outcomes
are published on the session's event bus as save.completed, load.failed
and so on.

# Thread Safety

  - Save, Load, RegionVisible, RegionHidden and Tick must be called from the
    goroutine that owns the world
  - Task accessors (Done, Err, Outcome, State) are safe from any goroutine
  - Completion callbacks run during Tick

# Subpackages

  - world: the simulation contract and an arena-backed reference simulation
  - codec: schemas, the binary format and version handling
  - archive: records, level and player archives, blob layouts
  - aggregate: the multi-level strategies
  - stream: region reconciliation
  - store: blob backends (memory, bolt, sqlite) and the adapter over them
  - config: settings loaded from YAML
*/
package worldsave
