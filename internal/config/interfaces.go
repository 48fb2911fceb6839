package config

import "context"

// SecretProvider abstracts secret retrieval so production can pull from
// AWS SSM Parameter Store while tests and local development inject
// values directly.
type SecretProvider interface {
	// GetParametersBatch resolves the given parameter paths, returning
	// path -> plaintext for every parameter it found. Implementations
	// handle batching and API limits internally.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
