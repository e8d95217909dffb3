// Package health checks whether a downstream node's command port is
// reachable before a queue manager attempts a hop.
package health
