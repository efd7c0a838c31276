package ambient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/tavern"
)

type recordingConversor struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingConversor) Converse(_ context.Context, in tavern.ConverseInput) (tavern.ConverseOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, in.ParticipantIDs)
	if r.err != nil {
		return tavern.ConverseOutput{}, r.err
	}
	return tavern.ConverseOutput{SceneID: in.Scene.Key()}, nil
}

func (r *recordingConversor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func trio() *persona.Registry {
	return persona.MustRegistry([]persona.Persona{
		{ID: "a", Name: "Ada"},
		{ID: "b", Name: "Bo"},
		{ID: "c", Name: "Cy"},
	})
}

func TestTickRotatesPairs(t *testing.T) {
	conv := &recordingConversor{}
	w := NewWorker(conv, trio(), Config{
		Interval: time.Minute,
		Scene:    dialogue.Scene{Name: "Common Room"},
		Logger:   logger.Discard(),
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, w.Tick(context.Background()))
	}
	assert.Equal(t, [][]string{{"a", "b"}, {"a", "c"}, {"b", "c"}, {"a", "b"}}, conv.calls)
}

func TestTickNeedsTwoPersonas(t *testing.T) {
	conv := &recordingConversor{}
	lonely := persona.MustRegistry([]persona.Persona{{ID: "a", Name: "Ada"}})
	w := NewWorker(conv, lonely, Config{Interval: time.Minute, Logger: logger.Discard()})

	assert.NoError(t, w.Tick(context.Background()))
	assert.Zero(t, conv.count())
}

func TestTickReportsErrors(t *testing.T) {
	conv := &recordingConversor{err: errors.New("boom")}
	w := NewWorker(conv, trio(), Config{Interval: time.Minute, Logger: logger.Discard()})

	assert.Error(t, w.Tick(context.Background()))
	// rotation still advances
	_ = w.Tick(context.Background())
	assert.Equal(t, []string{"a", "c"}, conv.calls[1])
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	conv := &recordingConversor{}
	w := NewWorker(conv, trio(), Config{Logger: logger.Discard()})

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should not block")
	}
	assert.Zero(t, conv.count())
}

func TestRunTicksUntilCancelled(t *testing.T) {
	conv := &recordingConversor{err: errors.New("backend down")}
	w := NewWorker(conv, trio(), Config{
		Interval:    5 * time.Millisecond,
		Scene:       dialogue.Scene{Name: "Common Room"},
		MaxInFlight: 2,
		Logger:      logger.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return conv.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
