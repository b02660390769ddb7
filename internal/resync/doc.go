// Package resync refreshes every live feed's snapshot when the push
// connection recovers and, optionally, on a fixed interval.
//
// Refreshes run concurrently with a bound, each under its own timeout. A
// failing feed is logged and counted; it does not stop the others.
package resync
