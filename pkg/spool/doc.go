// Package spool implements the on-disk, crash-safe queue store: a
// directory tree under spool/<queue>/ holding the next and current
// counters and a sequence of integer-keyed slot directories, each
// carrying a payload, a _control file, and transient _lock/_status/ERR
// markers.
package spool
