// Package transport implements the striped, multi-stream bulk-transfer
// engine: a file is split into N contiguous byte ranges
// ("stripes"), each carried by its own worker over a dedicated TCP
// connection, framed into fixed-size chunks with an optional per-chunk
// checksum and resend. Push and pull sessions share identical per-stripe
// framing; only which side dials and which side listens differs.
package transport
