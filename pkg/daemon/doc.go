// Package daemon wires the per-process DTS components — spool, queue
// managers, the xrpc command server, downstream reachability monitoring,
// and the optional hop journal — into one running node.
package daemon
