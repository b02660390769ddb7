// Package status serves the local status endpoints of a parkwatch instance:
//
//	GET  /health        live/offline plus per-feed state
//	GET  /feeds         per-feed status
//	GET  /feeds/{name}  current reconciled view of one feed
//	GET  /stats         connection, registry and resync counters
//	GET  /stats/today   backend event summary, passed through
//	POST /resync        refetch every snapshot-backed feed
package status
