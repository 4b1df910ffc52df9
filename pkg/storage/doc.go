// Package storage opens the optional backing services of the gateway.
//
// Redis holds shared sessions and rate-limit windows when the gateway runs
// as several replicas. PostgreSQL receives a durable copy of the audit log.
// Both connections are verified with a ping before they are returned.
package storage
