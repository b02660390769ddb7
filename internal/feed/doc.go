// Package feed implements the Reconciliation Engine.
//
// A Feed merges a REST snapshot with the push stream for one category into a
// capped, deduplicated list ordered by each entity's ordering key, newest
// first. Equal keys are ordered by arrival, later arrival first.
//
// Per envelope:
//   - known identity: replace in place and re-position if the key moved
//   - new identity: insert at its key position, then evict the oldest entry
//     if the list exceeds capacity
//   - equal to the current entry: ignored (retransmission)
//
// Envelopes that arrive while a snapshot fetch is in flight are held and
// applied after the snapshot is merged. Every mutation publishes a fresh
// slice to listeners along with structured ops; side effects such as
// notifications observe those ops and never run inside the merge.
package feed
