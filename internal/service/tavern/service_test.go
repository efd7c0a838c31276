package tavern

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
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/ai"
	engine "github.com/zhouzirui/tavern-chatter/backend/internal/service/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/history"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/live"
)

type scriptedGenerator struct {
	mu           sync.Mutex
	responses    []string
	err          error
	instructions []string
	block        chan struct{}
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Complete(ctx context.Context, instruction string, _ ai.Options) (string, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", &ai.GenerationError{Kind: ai.Timeout, Backend: "scripted", Cause: ctx.Err()}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.instructions = append(g.instructions, instruction)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", nil
	}
	out := g.responses[0]
	g.responses = g.responses[1:]
	return out, nil
}

func (g *scriptedGenerator) lastInstruction() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.instructions) == 0 {
		return ""
	}
	return g.instructions[len(g.instructions)-1]
}

type fixture struct {
	svc   *Service
	gen   *scriptedGenerator
	store *history.MemoryStore
	hub   *live.Hub
}

func newFixture(t *testing.T, gen *scriptedGenerator, inFlight int) fixture {
	t.Helper()
	store, err := history.NewMemoryStore(16, 100)
	require.NoError(t, err)
	hub := live.NewHub(nil, 8, logger.Discard())
	orch := engine.NewOrchestrator(persona.MustRegistry(persona.Seed()), gen, engine.Options{Logger: logger.Discard()})
	svc := NewService(orch, store, hub, Config{MaxInFlight: inFlight, Logger: logger.Discard()})
	return fixture{svc: svc, gen: gen, store: store, hub: hub}
}

func commonRoom() dialogue.Scene {
	return dialogue.Scene{Name: "The Common Room", Atmosphere: "smoky"}
}

func TestConverseStoresAndPublishes(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"messages":[{"speakerId":"bram-tapwell","text":"Another round, friend?"},{"speakerId":"greta-ironforge","text":"Haha, always!"}]}`,
		`{"messages":[{"speakerId":"greta-ironforge","text":"Put it on the scribe's tab."}]}`,
	}}
	f := newFixture(t, gen, 2)
	session, leave := f.hub.Subscribe("the-common-room")
	defer leave()

	ctx := context.Background()
	out, err := f.svc.Converse(ctx, ConverseInput{
		ParticipantIDs: []string{"bram-tapwell", "greta-ironforge"},
		Scene:          commonRoom(),
	})
	require.NoError(t, err)
	assert.Equal(t, "the-common-room", out.SceneID)
	assert.False(t, out.Fallback)
	require.Len(t, out.Turns, 2)
	for _, turn := range out.Turns {
		assert.NotEmpty(t, turn.ID)
		assert.NotEmpty(t, turn.Mood)
	}
	assert.Equal(t, "happy", out.Turns[1].Mood)

	select {
	case ev := <-session.Events():
		assert.Len(t, ev.Turns, 2)
		assert.Equal(t, out.Turns[0].ID, ev.Turns[0].ID)
	case <-time.After(time.Second):
		t.Fatal("expected a published event")
	}

	stored, err := f.store.Recent(ctx, "the-common-room", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// the next exchange sees the stored transcript
	_, err = f.svc.Converse(ctx, ConverseInput{
		ParticipantIDs: []string{"bram-tapwell", "greta-ironforge"},
		Scene:          commonRoom(),
	})
	require.NoError(t, err)
	assert.Contains(t, gen.lastInstruction(), "Another round, friend?")
}

func TestConverseFallbackIsStoredToo(t *testing.T) {
	gen := &scriptedGenerator{err: &ai.GenerationError{Kind: ai.BackendRejected, Backend: "scripted"}}
	f := newFixture(t, gen, 1)

	out, err := f.svc.Converse(context.Background(), ConverseInput{
		SceneID:        "cellar",
		ParticipantIDs: []string{"wilhelm-scribe", "lyra-thornwhistle"},
		Scene:          dialogue.Scene{Name: "The Cellar"},
	})
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, string(ai.BackendRejected), out.FailureKind)
	assert.Equal(t, "cellar", out.SceneID)

	stored, err := f.store.Recent(context.Background(), "cellar", 0)
	require.NoError(t, err)
	assert.Len(t, stored, len(out.Turns))
}

func TestConverseInvalidRequestStoresNothing(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{}, 1)

	_, err := f.svc.Converse(context.Background(), ConverseInput{
		ParticipantIDs: []string{"bram-tapwell"},
		Scene:          commonRoom(),
	})
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)

	_, err = f.svc.Converse(context.Background(), ConverseInput{
		ParticipantIDs: []string{"bram-tapwell", "greta-ironforge"},
	})
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)

	stored, err := f.store.Recent(context.Background(), "the-common-room", 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReplyStoresPlayerAndAnswer(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"Hotter than a dragon's breath."}}
	f := newFixture(t, gen, 1)

	out, err := f.svc.Reply(context.Background(), ReplyInput{
		PersonaID:  "greta-ironforge",
		PlayerText: "  Tell me about your forge. ",
		Scene:      commonRoom(),
	})
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.Equal(t, dialogue.PlayerSpeaker, out.PlayerTurn.SpeakerID)
	assert.Equal(t, "Tell me about your forge.", out.PlayerTurn.Text)
	assert.Equal(t, "greta-ironforge", out.Turn.SpeakerID)
	assert.Equal(t, "Hotter than a dragon's breath.", out.Turn.Text)
	assert.True(t, out.Turn.CreatedAt.After(out.PlayerTurn.CreatedAt))

	stored, err := f.store.Recent(context.Background(), "the-common-room", 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, stored[0].IsPlayer())
}

func TestReplyEmptyTextIsRejected(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{}, 1)
	_, err := f.svc.Reply(context.Background(), ReplyInput{
		PersonaID:  "greta-ironforge",
		PlayerText: "   ",
		Scene:      commonRoom(),
	})
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)
}

func TestTurnsSince(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"Aye.", "Nay."}}
	fixed := time.Date(2025, 5, 5, 21, 0, 0, 0, time.UTC)
	tick := fixed
	f := newFixture(t, gen, 1)
	f.svc.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	ctx := context.Background()
	first, err := f.svc.Reply(ctx, ReplyInput{PersonaID: "bram-tapwell", PlayerText: "Ale?", Scene: commonRoom()})
	require.NoError(t, err)
	_, err = f.svc.Reply(ctx, ReplyInput{PersonaID: "bram-tapwell", PlayerText: "Wine?", Scene: commonRoom()})
	require.NoError(t, err)

	all, err := f.svc.Turns(ctx, "the-common-room", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	newer, err := f.svc.Turns(ctx, "the-common-room", first.Turn.CreatedAt)
	require.NoError(t, err)
	require.Len(t, newer, 2)
	assert.Equal(t, "Wine?", newer[0].Text)
}

func TestReplyAfterConversationIsPolled(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"messages":[{"speakerId":"bram-tapwell","text":"Quiet night."},{"speakerId":"greta-ironforge","text":"Too quiet."},{"speakerId":"bram-tapwell","text":"Drink up."}]}`,
		"Welcome, stranger.",
	}}
	f := newFixture(t, gen, 1)
	ctx := context.Background()

	conv, err := f.svc.Converse(ctx, ConverseInput{
		ParticipantIDs: []string{"bram-tapwell", "greta-ironforge"},
		Scene:          commonRoom(),
	})
	require.NoError(t, err)
	require.Len(t, conv.Turns, 3)
	cursor := conv.Turns[len(conv.Turns)-1].CreatedAt

	reply, err := f.svc.Reply(ctx, ReplyInput{PersonaID: "bram-tapwell", PlayerText: "Evening.", Scene: commonRoom()})
	require.NoError(t, err)
	assert.True(t, reply.PlayerTurn.CreatedAt.After(cursor))
	assert.True(t, reply.Turn.CreatedAt.After(reply.PlayerTurn.CreatedAt))

	newer, err := f.svc.Turns(ctx, "the-common-room", cursor)
	require.NoError(t, err)
	require.Len(t, newer, 2)
	assert.True(t, newer[0].IsPlayer())
	assert.Equal(t, "Welcome, stranger.", newer[1].Text)
}

func TestMaxInFlightHonoursContext(t *testing.T) {
	gen := &scriptedGenerator{block: make(chan struct{})}
	f := newFixture(t, gen, 1)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := f.svc.Reply(context.Background(), ReplyInput{PersonaID: "bram-tapwell", PlayerText: "Hello?", Scene: commonRoom()})
		done <- err
	}()
	<-started

	// wait until the first call holds the only slot
	require.Eventually(t, func() bool { return len(f.svc.sem) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Reply(ctx, ReplyInput{PersonaID: "greta-ironforge", PlayerText: "Me too?", Scene: commonRoom()})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(gen.block)
	require.NoError(t, <-done)
}
