// Package api provides the REST client for the parking backend.
//
// The base URL includes the API prefix, e.g. http://localhost:8000/api/v1.
//
// Endpoints used:
//   - GET /events             paged event listing with filters
//   - GET /events/recent      newest events (limit <= 100)
//   - GET /events/stats/today today's summary
//   - GET /sessions/active    active parking sessions
//   - GET /sessions/history   completed sessions (limit <= 200)
//
// Occupancy has no endpoint of its own and is derived from active sessions.
package api
