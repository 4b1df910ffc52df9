// Package audit records authentication events for the gateway.
//
// # Overview
//
// A Log keeps the most recent events in a fixed-size in-memory window and
// returns them oldest first. Recording never fails and never blocks the
// request path: when a Sink is configured, events are handed to it in order
// on a single background goroutine.
//
// # Event Types
//
//	login_success    a password login created a session
//	login_failure    a password login was rejected
//	logout           a session was ended by its holder
//	session_revoked  a session was ended by another session
//
// # Sinks
//
// FileSink appends newline-delimited JSON with size-based rotation. DBSink
// stores events in PostgreSQL and supports Search. MultiSink fans out to
// several sinks.
//
// # Usage Example
//
//	log := audit.NewLog(audit.WithSink(sink), audit.WithLogger(logger))
//	defer log.Close(ctx)
//
//	log.Record(ctx, audit.EventLoginFailure, ip, audit.Detail{})
//
// # Export
//
// Export writes events as JSON, NDJSON or CSV.
package audit
