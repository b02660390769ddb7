// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Holds the one push WebSocket of the process
//   - Subscribes to the configured channels after every open
//   - Parses frames into envelopes and hands them to a single sink
//   - Drops malformed frames and ignores unknown categories
//   - Reconnects with capped, jittered exponential backoff until Disconnect
//
// Connection loss is never fatal; it is reported through state transitions.
package connection
