package index

import (
	"context"
	"testing"
)

func TestMemoryEmbeddingIndexNearest(t *testing.T) {
	idx := NewMemoryEmbeddingIndex()
	idx.Upsert("exact", []float32{1, 0})
	idx.Upsert("close", []float32{0.9, 0.1})
	idx.Upsert("far", []float32{-1, 0})
	idx.Upsert("wrong-dim", []float32{1, 0, 0})

	matches, err := idx.Nearest(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Nearest() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Nearest() returned %d matches, want 2", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "close" {
		t.Errorf("Nearest() order = [%s, %s], want [exact, close]", matches[0].ID, matches[1].ID)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("Nearest() results not ordered by ascending distance")
	}
}

func TestMemoryEmbeddingIndexRemove(t *testing.T) {
	idx := NewMemoryEmbeddingIndex()
	idx.Upsert("a", []float32{1, 0})
	idx.Remove("a")

	matches, err := idx.Nearest(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Nearest() error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Nearest() after Remove returned %d matches, want 0", len(matches))
	}
}

func TestMemoryGeoIndexWithin(t *testing.T) {
	idx := NewMemoryGeoIndex()
	// Warsaw city center and two points roughly 2 and 60 km away.
	idx.Upsert("near", 52.2479, 21.0122)
	idx.Upsert("inside", 52.4, 21.0122)
	idx.Upsert("outside", 52.8, 21.0122)

	matches, err := idx.Within(context.Background(), 52.2297, 21.0122, 25)
	if err != nil {
		t.Fatalf("Within() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Within() returned %d matches, want 2", len(matches))
	}
	if matches[0].ID != "near" {
		t.Errorf("Within() closest = %s, want near", matches[0].ID)
	}
	for _, m := range matches {
		if m.DistanceKm > 25 {
			t.Errorf("match %s at %.1f km exceeds the radius", m.ID, m.DistanceKm)
		}
	}
}

func TestMemoryImageHashIndexSimilar(t *testing.T) {
	idx := NewMemoryImageHashIndex()
	idx.Upsert("same", []byte{0xff, 0x00})
	idx.Upsert("onebit", []byte{0xfe, 0x00})
	idx.Upsert("far", []byte{0x00, 0xff})
	idx.Upsert("short", []byte{0xff})

	matches, err := idx.Similar(context.Background(), []byte{0xff, 0x00}, 4)
	if err != nil {
		t.Fatalf("Similar() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Similar() returned %d matches, want 2", len(matches))
	}
	if matches[0].ID != "same" || matches[0].Distance != 0 {
		t.Errorf("Similar() best = %s (%d bits), want same (0 bits)", matches[0].ID, matches[0].Distance)
	}
	if matches[1].ID != "onebit" || matches[1].Distance != 1 {
		t.Errorf("Similar() second = %s (%d bits), want onebit (1 bit)", matches[1].ID, matches[1].Distance)
	}
}

func TestRetrievalHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emb := NewMemoryEmbeddingIndex()
	emb.Upsert("a", []float32{1})
	if _, err := emb.Nearest(ctx, []float32{1}, 1); err == nil {
		t.Error("Nearest() with cancelled context should fail")
	}

	geo := NewMemoryGeoIndex()
	geo.Upsert("a", 0, 0)
	if _, err := geo.Within(ctx, 0, 0, 10); err == nil {
		t.Error("Within() with cancelled context should fail")
	}

	hash := NewMemoryImageHashIndex()
	hash.Upsert("a", []byte{0x01})
	if _, err := hash.Similar(ctx, []byte{0x01}, 8); err == nil {
		t.Error("Similar() with cancelled context should fail")
	}
}
