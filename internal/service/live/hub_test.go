package live

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
)

func sampleTurns(texts ...string) []dialogue.Turn {
	turns := make([]dialogue.Turn, len(texts))
	for i, text := range texts {
		turns[i] = dialogue.Turn{SpeakerID: "bram-tapwell", Text: text}
	}
	return turns
}

func receive(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubPublishesPerScene(t *testing.T) {
	hub := NewHub(nil, 4, logger.Discard())
	common, leaveCommon := hub.Subscribe("common-room")
	defer leaveCommon()
	cellar, leaveCellar := hub.Subscribe("cellar")
	defer leaveCellar()

	delivered := hub.Publish("common-room", sampleTurns("Another round?"), false)
	assert.Equal(t, 1, delivered)

	ev := receive(t, common)
	assert.Equal(t, EventTurns, ev.Type)
	assert.Equal(t, "common-room", ev.SceneID)
	require.Len(t, ev.Turns, 1)
	assert.Equal(t, "Another round?", ev.Turns[0].Text)

	select {
	case ev := <-cellar.Events():
		t.Fatalf("cellar should not receive common-room events, got %+v", ev)
	default:
	}
}

func TestHubDropsForSlowSessions(t *testing.T) {
	hub := NewHub(nil, 1, logger.Discard())
	s, leave := hub.Subscribe("common-room")
	defer leave()

	assert.Equal(t, 1, hub.Publish("common-room", sampleTurns("one"), false))
	assert.Equal(t, 0, hub.Publish("common-room", sampleTurns("two"), false))
	assert.EqualValues(t, 1, hub.Dropped())

	ev := receive(t, s)
	assert.Equal(t, "one", ev.Turns[0].Text)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(NewMemorySessionStore(), 2, logger.Discard())
	s, leave := hub.Subscribe("common-room")
	assert.Equal(t, 1, hub.Sessions())

	leave()
	leave()
	assert.Equal(t, 0, hub.Sessions())

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Publish("common-room", sampleTurns("anyone?"), false))
}

func TestHubIgnoresEmptyPublish(t *testing.T) {
	hub := NewHub(nil, 2, logger.Discard())
	_, leave := hub.Subscribe("common-room")
	defer leave()
	assert.Equal(t, 0, hub.Publish("common-room", nil, false))
}

func TestHubConcurrentPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub(nil, 8, logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		s, leave := hub.Subscribe("common-room")
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.Publish("common-room", sampleTurns("busy night"), false)
			}
		}()
		go func() {
			defer wg.Done()
			leave()
			for range s.Events() {
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Sessions())
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	a := newSession("a", "common-room", 1)
	b := newSession("b", "cellar", 1)
	store.Add(a)
	store.Add(b)

	assert.Equal(t, 2, store.Count())
	assert.Len(t, store.ForScene("common-room"), 1)

	removed, ok := store.Remove("a")
	require.True(t, ok)
	assert.Same(t, a, removed)
	_, ok = store.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Count())
}
