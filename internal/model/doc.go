// Package model defines the data types shared by the live synchronization layer.
//
// Conventions:
//   - Push data arrives as an Envelope: a category tag, an opaque JSON payload
//     and the server timestamp. Envelopes carry no id; feeds deduplicate by
//     entity identity plus ordering key.
//   - Entities mirror the backend REST schemas (events, parking sessions,
//     occupancy, barrier and camera status).
//   - Timestamps are time.Time in UTC. The backend emits naive ISO-8601 strings
//     and, for hardware stats, float Unix seconds; Timestamp accepts both.
//   - IDs: uuid.UUID for database-backed entities, strings for hardware names.
package model
