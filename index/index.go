// Package index defines the retrieval capabilities the candidate
// generator depends on. Each interface stands in for an external
// backend (vector database, spatial index, hash index); the in-memory
// implementations here are brute-force but concurrency-safe, fed from
// the reports table and kept current by the service.
package index

import "context"

// EmbeddingMatch is one approximate-nearest-neighbor hit. Distance is
// cosine distance (1 - cosine similarity); lower is closer.
type EmbeddingMatch struct {
	ID       string
	Distance float64
}

// EmbeddingIndex retrieves the reports whose embeddings are nearest to
// a query vector.
type EmbeddingIndex interface {
	// Nearest returns up to k hits ordered by ascending distance.
	Nearest(ctx context.Context, vector []float32, k int) ([]EmbeddingMatch, error)
	Upsert(id string, vector []float32)
	Remove(id string)
}

// GeoMatch is one radius-search hit.
type GeoMatch struct {
	ID         string
	DistanceKm float64
}

// GeoIndex retrieves the reports within a radius of a point.
type GeoIndex interface {
	// Within returns hits ordered by ascending distance.
	Within(ctx context.Context, lat, lon, radiusKm float64) ([]GeoMatch, error)
	Upsert(id string, lat, lon float64)
	Remove(id string)
}

// HashMatch is one perceptual-hash hit. Distance is in bits.
type HashMatch struct {
	ID       string
	Distance int
}

// ImageHashIndex retrieves the reports whose perceptual hashes are
// within a Hamming distance of a query hash.
type ImageHashIndex interface {
	// Similar returns hits ordered by ascending distance.
	Similar(ctx context.Context, hash []byte, maxDistance int) ([]HashMatch, error)
	Upsert(id string, hash []byte)
	Remove(id string)
}
