// Package asyncsched implements the Component Model async scheduler: a
// single-threaded, cooperative task graph over tasks, subtasks,
// waitable sets, streams, futures, and error contexts, driven by a
// fixed catalog of host built-ins callable directly from guest code.
//
// # Architecture
//
// A [Store] is the isolation unit: it owns every handle and every piece
// of scheduler state reachable from it, and nothing is shared across
// Stores at runtime. Four cooperating pieces live inside a Store:
//
//   - the waitable registry ([WaitableSet], [Store.Join]): typed handle
//     tables plus the join/drop relationship between a waitable and the
//     at-most-one set it belongs to;
//   - the stream/future engine ([Store.StreamNew], [Store.FutureNew]):
//     typed producer/consumer rendezvous channels with cancellation and
//     partial-transfer semantics;
//   - the task/subtask state machines ([Task], [CallStatus]): every
//     in-flight call modeled as a task with a STARTING/STARTED/
//     RETURNED/CANCELLED lifecycle;
//   - the event loop and built-ins dispatcher ([Store.Run] and the
//     Store methods named after the built-in catalog): the
//     single-threaded cooperative runner.
//
// # Execution model
//
// [Store.Run] drives tasks to completion or suspension in FIFO order.
// Control returns to the loop only when a built-in call yields, a
// callback returns a non-EXIT code, or a task reaches a terminal state.
// If the ready queue and every waitable set are empty while a task is
// still live, the loop declares deadlock and returns a [Trap].
//
// # Usage
//
//	store := asyncsched.NewStore()
//	store.StartSyncTask(0, 0, func() ([]byte, error) {
//	    return []byte("hello"), nil
//	})
//	if err := store.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error types
//
// [Trap] carries the stable, user-visible messages for misuse,
// liveness-failure, and cross-Store-smuggling errors (spec §7's
// taxonomy). Guest-level cancellation and peer-drop are never traps:
// they are ordinary status words ([Status]) and [Event] values observed
// by guest code.
package asyncsched
