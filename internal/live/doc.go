// Package live keeps query results current as writes commit.
//
// ARCHITECTURE:
//
// Single Dispatch Loop:
// Writes run concurrently through the mutation pipeline, but their outcomes
// are delivered to views by one goroutine (Driver.Run) in commit order.
// This ensures:
//   - Views observe events in sequence order
//   - A failed write is reported before any later event
//   - Relevance checks never race with view bookkeeping
//
// Event Flow:
//  1. Driver.Execute commits a request (or fails it) via mutation.Pipeline
//  2. The event or failure is enqueued on the unbounded dispatch queue
//  3. Run dequeues one item at a time
//  4. Events go to every view of the store whose query is relevant
//  5. Failures go to the error streams and fail every subscribed view whose
//     query the attempted change concerns
//
// Views:
// A View is shared by every subscriber of the same query fingerprint. It
// reads once for the first subscriber, again after each relevant event,
// and coalesces events that arrive while a read is in flight into a single
// reread. Late subscribers are replayed the last snapshot. A count view
// only emits when the count changes. Failed is terminal: the error is
// delivered once and every subscription closes.
//
// CRITICAL PATTERNS:
//
// Lock Order:
// cache.mu is always taken before View.mu, never the reverse.
//
// Delivery:
// Each subscription has its own mailbox goroutine, so a slow consumer never
// blocks the dispatch loop or other subscribers.
package live
