// Package kv provides the key/value layer the directory is built on: a
// Redis-protocol remote backend, an in-process engine with the same command
// surface, and a connection manager that fails over between them.
//
// # Backends
//
// Both backends implement the Commands interface. The remote backend wraps a
// go-redis client; the Engine keeps strings, sets, hashes and sorted sets in
// process memory with real TTL expiry. Because the two are command-compatible,
// code above this package never branches on which one is active.
//
// # Connection management
//
// ConnManager owns the remote connection lifecycle as a small state machine:
//
//	disconnected -> connecting -> connected
//	connected -> disconnected -> reconnecting -> connected
//	reconnecting -> failed (attempts exhausted, engine takes over)
//
// Reconnect attempts back off exponentially (base * 1.5^(n-1), capped), and a
// throttle guard suppresses a fresh cycle started too soon after the previous
// one. Once attempts are exhausted the manager pins itself to the in-memory
// engine until ForceReconnect is called. State changes are published to
// observers registered with Notify.
//
// # Facade
//
// Store is the read/write surface handed to application code. It resolves the
// active backend per call, applies the configured key prefix, JSON-encodes
// non-string values, and records per-command metrics. A miss is not an error
// at this level:
//
//	val, ok, err := store.Get(ctx, "role:"+id)
//	if err != nil { ... }        // backend failure
//	if !ok { ... }               // key absent
//
// Construct one Store per ConnManager and inject it; SetDefault/Default exist
// for binaries that want a process-wide handle.
package kv
