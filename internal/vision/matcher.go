package vision

import (
	"context"
	"math"
	"sync"

	"github.com/ariavoice/aria/internal/store"
)

// MatchThreshold is the minimum cosine similarity for a face to be reported
// under a registered identity's name.
const MatchThreshold = 0.55

// Matcher holds an in-memory snapshot of one user's face embeddings and
// resolves observations to names by cosine-similarity argmax. The snapshot
// is replaced wholesale on Refresh; readers never see a partial update.
type Matcher struct {
	mu    sync.RWMutex
	known []store.KnownEmbedding
}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Refresh reloads the snapshot from storage. Called at vision_start and
// after face CRUD.
func (m *Matcher) Refresh(ctx context.Context, st *store.Store, userID string) error {
	known, err := st.ListEmbeddings(ctx, userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.known = known
	m.mu.Unlock()
	return nil
}

// Match returns the best identity name for the embedding, or ("", score)
// when nothing clears the threshold.
func (m *Matcher) Match(embedding []float32) (string, float64) {
	m.mu.RLock()
	known := m.known
	m.mu.RUnlock()

	best := ""
	bestScore := -1.0
	for _, k := range known {
		score := cosineSimilarity(embedding, k.Embedding)
		if score > bestScore {
			best, bestScore = k.Name, score
		}
	}
	if bestScore < MatchThreshold {
		return "", bestScore
	}
	return best, bestScore
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
