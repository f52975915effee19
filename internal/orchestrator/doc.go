// Package orchestrator runs task graphs for users.
//
// An Engine takes a plan (from a planner.Planner or given directly),
// resolves it into execution groups with internal/graph, and walks the
// groups in order. Tasks within a group are invoked concurrently and the
// engine waits for every outcome before moving on. Each invocation yields
// one of three outcomes:
//   - success: the result is stored and, for mutating tools, recorded in
//     the session's operation history
//   - failure: the declared fallback tool is tried once; if that fails too
//     the task fails and its dependents are skipped
//   - ambiguity: the run is suspended into a ConfirmationContext kept on
//     the session until Resume or Cancel
//
// Resuming splices the chosen replacement into the remaining tasks and
// continues with every completed result preloaded. Completed tasks are
// never invoked again.
//
// Example usage:
//
//	engine := orchestrator.New(orchestrator.RequiredConfig{
//		Tools:    registry,
//		Sessions: session.NewMemoryStore(),
//	}, orchestrator.WithPlanner(p))
//	result, err := engine.Run(ctx, "alice", "delete the milk")
//	if result.Status == models.RunAwaitingConfirmation {
//		result, err = engine.Resume(ctx, "alice", models.Resolution{Label: "oldest"})
//	}
package orchestrator
