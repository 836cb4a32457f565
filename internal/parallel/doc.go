// Package parallel runs the same independent-task workload under one of
// several execution backends, selected automatically from what the host
// makes available: distributed task-pull workers, a bounded pool of
// goroutines or worker processes, or strict sequential execution.
//
// It provides:
//   - Parallelizer: façade that resolves a backend once and streams results
//   - Zip/FromSlice: data iterator adapter combining a primary stream with
//     broadcast scalars and cycled auxiliary sequences
//   - Register: named task registry for backends that cross a process
//     boundary
//
// Every submitted argument tuple yields exactly one Result, success or
// fail-sentinel; a single task failure never aborts its siblings.
package parallel
