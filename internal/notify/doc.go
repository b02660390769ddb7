// Package notify delivers feed changes to observers outside the dashboard:
// the log, an MQTT broker driving wall displays, and a Postgres journal.
//
// Feeds publish feed.Change values; Attach flattens them into Records and
// hands them to a Notifier on the dispatch goroutine. Notifiers queue or
// publish asynchronously and never report failures back to the feed.
package notify
