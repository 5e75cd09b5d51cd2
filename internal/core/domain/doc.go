// Package domain holds the core entities of the retrieval engine:
// collections, documents, chunks, embeddings, the hybrid logical clock
// used to order every mutation, the closed content-type enumeration, and
// the error taxonomy shared by all ports.
package domain
