// Package database provides the PostgreSQL connection pool for the change
// journal.
//
// The journal is an audit trail of every change the dashboard's feeds
// published. It is written append-only and never read back by this process.
package database
