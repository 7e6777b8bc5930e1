// Package messenger implements one ordered outbound queue per worker,
// demultiplexing framed request/response pairs over a Dialer-provided
// transport. It generalizes the teacher's per-subsystem run-loop
// idiom (scheduler.run, reconciler.run: a goroutine looping over a
// stop channel) to a goroutine per worker draining a priority-ordered
// queue, with at most one send in flight at a time.
package messenger
