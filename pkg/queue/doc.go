// Package queue implements the per-queue manager loop: one
// long-lived worker per queue that drains its spool directory in strict
// order, hops each object to the configured downstream peer, and advances
// the crash-consistent next/current counters only after a successful hop.
package queue
