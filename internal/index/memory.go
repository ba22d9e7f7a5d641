package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"manual-rag/internal/manual"
)

// Memory is an in-process store that scans every entry per query. It is
// the default backend: the dataset tops out at a few hundred thousand
// vectors, well within brute-force range.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func (m *Memory) Add(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := manual.ValidateEmbedding(e.Vector); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, limit int) ([]Scored, error) {
	if err := manual.ValidateEmbedding(vector); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]Scored, 0, len(m.entries))
	for _, e := range m.entries {
		scored = append(scored, Scored{Entry: e, Score: cosine(vector, e.Vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Close() error {
	return nil
}

// cosine computes full cosine similarity. Vectors truncated to the target
// dimensionality are not unit length, so the norms cannot be skipped.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
