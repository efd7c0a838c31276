package history

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
)

// ErrSceneRequired is returned when a scene identifier is missing.
var ErrSceneRequired = errors.New("scene id is required")

// MinSpacing separates consecutive stored turns of a scene.
const MinSpacing = time.Millisecond

// Store keeps the running transcript of each scene. The dialogue engine is
// stateless; callers load recent turns from here and feed them back in.
//
// Append returns the turns as stored. CreatedAt is moved forward when needed
// so it is strictly after the previous turn of the scene, which keeps Since
// usable as a polling cursor.
type Store interface {
	Append(ctx context.Context, sceneID string, turns ...dialogue.Turn) ([]dialogue.Turn, error)
	Recent(ctx context.Context, sceneID string, n int) ([]dialogue.Turn, error)
	Since(ctx context.Context, sceneID string, after time.Time) ([]dialogue.Turn, error)
}

// sequence stamps turns so each CreatedAt is strictly after last.
func sequence(last time.Time, turns []dialogue.Turn) []dialogue.Turn {
	out := make([]dialogue.Turn, len(turns))
	for i, turn := range turns {
		if !last.IsZero() && !turn.CreatedAt.After(last) {
			turn.CreatedAt = last.Add(MinSpacing)
		}
		last = turn.CreatedAt
		out[i] = turn
	}
	return out
}

func tail(turns []dialogue.Turn, n int) []dialogue.Turn {
	if n <= 0 || n >= len(turns) {
		out := make([]dialogue.Turn, len(turns))
		copy(out, turns)
		return out
	}
	out := make([]dialogue.Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}

func after(turns []dialogue.Turn, since time.Time) []dialogue.Turn {
	out := make([]dialogue.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.CreatedAt.After(since) {
			out = append(out, turn)
		}
	}
	return out
}
