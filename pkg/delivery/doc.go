// Package delivery implements the endpoint delivery stage:
// macro-substituting a queue's configured command template against a
// slot's control record, running it, mapping its exit status to an
// outcome, and absorbing any parameter file it leaves behind.
package delivery
