// Package dashboard is the application context of the sync layer.
//
// An App owns exactly one connection.Manager, one router.Registry and the
// REST client, and builds every feed on top of them:
//
//	events     recent detection events, newest first
//	sessions   active parking sessions, completed ones drop out
//	occupancy  vehicles per lot, derived from active sessions
//	barriers   latest barrier controller status (push only)
//	cameras    latest camera health (push only)
//	alerts     operator alerts, newest first (push only)
//
// Each feed owns its list. A consumer that wants a private view builds its
// own feed.Feed on App.Registry() rather than sharing one. Structured
// changes from every feed go to the configured notify.Notifier, and
// snapshot-backed feeds are refetched by a resync.Resyncer after the
// connection recovers.
package dashboard
