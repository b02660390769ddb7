// Package router implements the Subscription Registry.
//
// Envelopes from the Connection Manager enter through Publish into an
// unbounded queue and are dispatched by a single goroutine (Run), one
// envelope at a time, to every subscriber whose filter accepts it. The
// registry holds no business state.
package router
