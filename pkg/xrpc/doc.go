// Package xrpc implements the transfer handshake / control-protocol
// dispatcher: a dynamically
// registered, positional, arbitrary-arity RPC surface carried over plain
// TCP with gob-encoded frames, instead of a fixed-schema protocol like
// grpc/protobuf. Every call is password-prefixed; every response collapses
// to an OK/ERR status plus a message and a string result list.
package xrpc
