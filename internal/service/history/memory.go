package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
)

// MemoryStore keeps transcripts in process memory. The least recently used
// scenes are evicted once maxScenes is reached, and each scene keeps at most
// maxTurns turns.
type MemoryStore struct {
	mu       sync.Mutex
	scenes   *lru.Cache[string, []dialogue.Turn]
	maxTurns int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps the in-memory store.
func NewMemoryStore(maxScenes, maxTurns int) (*MemoryStore, error) {
	if maxScenes < 1 {
		maxScenes = 1
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	scenes, err := lru.New[string, []dialogue.Turn](maxScenes)
	if err != nil {
		return nil, fmt.Errorf("failed to create scene cache: %w", err)
	}
	return &MemoryStore{scenes: scenes, maxTurns: maxTurns}, nil
}

// Append adds turns to the end of the scene transcript.
func (s *MemoryStore) Append(_ context.Context, sceneID string, turns ...dialogue.Turn) ([]dialogue.Turn, error) {
	if sceneID == "" {
		return nil, ErrSceneRequired
	}
	if len(turns) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.scenes.Get(sceneID)
	var last time.Time
	if len(existing) > 0 {
		last = existing[len(existing)-1].CreatedAt
	}
	stored := sequence(last, turns)

	merged := make([]dialogue.Turn, 0, len(existing)+len(stored))
	merged = append(merged, existing...)
	merged = append(merged, stored...)
	if len(merged) > s.maxTurns {
		merged = merged[len(merged)-s.maxTurns:]
	}
	s.scenes.Add(sceneID, merged)
	return stored, nil
}

// Recent returns the newest n turns, oldest first. n <= 0 returns everything.
func (s *MemoryStore) Recent(_ context.Context, sceneID string, n int) ([]dialogue.Turn, error) {
	if sceneID == "" {
		return nil, ErrSceneRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns, _ := s.scenes.Get(sceneID)
	return tail(turns, n), nil
}

// Since returns turns created strictly after the given instant.
func (s *MemoryStore) Since(_ context.Context, sceneID string, since time.Time) ([]dialogue.Turn, error) {
	if sceneID == "" {
		return nil, ErrSceneRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns, _ := s.scenes.Get(sceneID)
	return after(turns, since), nil
}

// Scenes reports how many scenes are currently retained.
func (s *MemoryStore) Scenes() int {
	return s.scenes.Len()
}
