package domain

import "context"

// VectorEncoder turns text into fixed-dimensionality embedding vectors via
// an external embedding service. Callers must treat unavailability as
// non-fatal: retrieval degrades, the request does not fail.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Version() string
}
