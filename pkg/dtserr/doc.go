// Package dtserr defines the sentinel error kinds shared across the
// daemon. Callers wrap these with fmt.Errorf("...: %w", ...)
// and test for them with errors.Is, never by matching error strings.
package dtserr
