// Package store provides SQLite-backed durable storage for the pipeline.
//
// Tables:
//   - messages: serialized event records awaiting upload
//   - sessions: session lifecycle rows (open/closed)
//   - breadcrumbs: per-mpid diagnostic ring buffer
//   - user_attributes: single and list attributes, one row per (mpid, key)
//   - reporting_messages: records for the secondary reporting sink
//   - alias_requests: identity alias requests
//
// Ordering: the messages table is ordered by its monotonic insertion id
// (_id ASC). The upload path relies on this to define batch boundaries, so
// every selection query orders by _id and is capped at message.SelectLimit.
//
// Concurrency: the serial processor is the sole writer. Readers (the upload
// selector, diagnostic queries) run concurrently against the same store;
// physical access is serialized by a single connection.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
