package index

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/geo/s2"

	"report-match-engine/scoring"
)

// checkEvery bounds how many entries a brute-force scan visits between
// context checks, so a cancelled retrieval stops promptly.
const checkEvery = 1024

// MemoryEmbeddingIndex is a brute-force in-memory EmbeddingIndex.
type MemoryEmbeddingIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewMemoryEmbeddingIndex() *MemoryEmbeddingIndex {
	return &MemoryEmbeddingIndex{vectors: make(map[string][]float32)}
}

func (m *MemoryEmbeddingIndex) Upsert(id string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[id] = vector
}

func (m *MemoryEmbeddingIndex) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, id)
}

func (m *MemoryEmbeddingIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Nearest scans all vectors and keeps the k closest by cosine distance.
func (m *MemoryEmbeddingIndex) Nearest(ctx context.Context, vector []float32, k int) ([]EmbeddingMatch, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]EmbeddingMatch, 0, len(m.vectors))
	i := 0
	for id, v := range m.vectors {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i++
		if len(v) != len(vector) {
			continue
		}
		matches = append(matches, EmbeddingMatch{
			ID:       id,
			Distance: 1 - scoring.CosineSimilarity(vector, v),
		})
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Distance < matches[b].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// MemoryGeoIndex is a brute-force in-memory GeoIndex backed by s2.
type MemoryGeoIndex struct {
	mu     sync.RWMutex
	points map[string]s2.LatLng
}

func NewMemoryGeoIndex() *MemoryGeoIndex {
	return &MemoryGeoIndex{points: make(map[string]s2.LatLng)}
}

func (m *MemoryGeoIndex) Upsert(id string, lat, lon float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = s2.LatLngFromDegrees(lat, lon)
}

func (m *MemoryGeoIndex) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
}

func (m *MemoryGeoIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Within scans all points and keeps those inside the radius.
func (m *MemoryGeoIndex) Within(ctx context.Context, lat, lon, radiusKm float64) ([]GeoMatch, error) {
	if radiusKm <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []GeoMatch
	i := 0
	for id, p := range m.points {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i++
		d := scoring.DistanceKm(lat, lon, p.Lat.Degrees(), p.Lng.Degrees())
		if d <= radiusKm {
			matches = append(matches, GeoMatch{ID: id, DistanceKm: d})
		}
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].DistanceKm < matches[b].DistanceKm })
	return matches, nil
}

// MemoryImageHashIndex is a brute-force in-memory ImageHashIndex.
type MemoryImageHashIndex struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

func NewMemoryImageHashIndex() *MemoryImageHashIndex {
	return &MemoryImageHashIndex{hashes: make(map[string][]byte)}
}

func (m *MemoryImageHashIndex) Upsert(id string, hash []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[id] = hash
}

func (m *MemoryImageHashIndex) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, id)
}

func (m *MemoryImageHashIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes)
}

// Similar scans all hashes and keeps those within maxDistance bits.
func (m *MemoryImageHashIndex) Similar(ctx context.Context, hash []byte, maxDistance int) ([]HashMatch, error) {
	if len(hash) == 0 || maxDistance < 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []HashMatch
	i := 0
	for id, h := range m.hashes {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i++
		if len(h) != len(hash) {
			continue
		}
		d := scoring.HammingDistance(hash, h)
		if d <= maxDistance {
			matches = append(matches, HashMatch{ID: id, Distance: d})
		}
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Distance < matches[b].Distance })
	return matches, nil
}
