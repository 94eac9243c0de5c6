// Package sshsession keeps the table of persistent SSH sessions.
//
// A [Session] owns exactly one connection, the host it was opened against,
// the remote working directory last observed for it and a last-used
// timestamp. The [Store] maps session IDs to sessions and enforces two limits:
// a maximum number of live sessions and an idle timeout.
//
// # Lifecycle
//
//  1. [Store.Create] evicts stale sessions, reserves a slot (or fails with
//     [ErrCapacity]), dials through the [sshconn.Provider] and inserts the
//     session with working directory [DefaultCwd].
//  2. [Store.Get] evicts stale sessions, then returns the session and marks it
//     used. An evicted or closed ID reports [ErrNotFound].
//  3. [Store.Close], idle eviction ([Store.EvictStale]) or [Store.CloseAll] at
//     shutdown closes the connection exactly once and forgets the ID.
//
// Connection close failures are logged and never returned: one failing close
// must not stop the others.
//
// # Concurrency
//
// Every Store operation holds one mutex while it touches the map; dialing and
// closing connections happen outside it. Capacity is reserved before dialing so
// concurrent creations cannot overshoot the limit.
//
// # Log Prefixes
//
// Store operations log at the [session-store] prefix.
package sshsession
