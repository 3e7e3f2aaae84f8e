// Package examlab runs fixed system administration exercises inside
// disposable Linux containers and grades them automatically.
//
// The root package holds the domain model shared by every component:
//
//   - Exercise, the immutable catalog record
//   - ExerciseState and the Store that owns it
//   - CheckResult and CheckDetail produced by the checker engine
//   - the error taxonomy (ErrEngineUnavailable, ErrNotRunning, ...)
//
// The moving parts live in sub-packages:
//
//   - catalog: the embedded table of exercises
//   - container: Docker lifecycle, exec and interactive shell attach
//   - checker: declarative verification probes and their aggregation
//   - terminal: the session bridge between a shell and a remote stream
//   - serve: the HTTP, WebSocket and SSE boundary
//
// # Quick Start
//
//	exercises, _ := catalog.Load()
//	store := examlab.NewStore(exercises.All())
//	mgr, _ := container.NewManager(container.DefaultConfig())
//	lc := container.NewLifecycle(mgr, store, exercises)
//	status, err := lc.Start(ctx, 4)
package examlab
