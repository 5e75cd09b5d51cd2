// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): the store, the embedder, the chunker, and
// the URI loader.
package driven
