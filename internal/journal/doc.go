// Package journal keeps an SQLite audit trail of values that crossed the
// bridge.
//
// Transfers are queued by RecordTransfer and written in batches by a single
// background goroutine, so the routing path never waits on disk. When the
// queue is full the transfer is counted and discarded. Rows older than the
// retention window are pruned periodically. Nothing in the journal is read
// back into bridge state.
package journal
