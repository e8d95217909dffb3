// Package journal is an optional, write-mostly bbolt-backed sink for
// per-hop timing and error records, one bucket per queue. It gives an
// operator a queryable history of completed hops beyond the append-only
// log.in/log.out text files pkg/spool already writes, without ever being
// read by the data plane itself.
package journal
