package tavern

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tavern-chatter/backend/internal/analysis/emotion"
	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	engine "github.com/zhouzirui/tavern-chatter/backend/internal/service/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/history"
)

// Orchestrator is the dialogue engine surface the service drives.
type Orchestrator interface {
	GenerateConversation(ctx context.Context, req engine.ConversationRequest) (engine.ConversationResult, error)
	GenerateReply(ctx context.Context, req engine.ReplyRequest) (engine.ReplyResult, error)
	HistoryWindow() int
}

// Publisher pushes fresh turns to live listeners.
type Publisher interface {
	Publish(sceneID string, turns []dialogue.Turn, fallback bool) int
}

// Config tunes the service.
type Config struct {
	// MaxInFlight bounds concurrent orchestrations (and so outbound
	// generation calls). Zero means 4.
	MaxInFlight int
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Service is the one application entry point every transport uses: it loads
// history, runs the engine, stamps turns, stores them and publishes them.
type Service struct {
	orch  Orchestrator
	store history.Store
	hub   Publisher
	sem   chan struct{}
	now   func() time.Time
	log   *slog.Logger
}

// NewService wires the service. hub may be nil.
func NewService(orch Orchestrator, store history.Store, hub Publisher, cfg Config) *Service {
	inFlight := cfg.MaxInFlight
	if inFlight < 1 {
		inFlight = 4
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orch:  orch,
		store: store,
		hub:   hub,
		sem:   make(chan struct{}, inFlight),
		now:   now,
		log:   logger.Component(cfg.Logger, "tavern"),
	}
}

// ConverseInput asks for NPC banter in a scene.
type ConverseInput struct {
	SceneID        string
	ParticipantIDs []string
	Scene          dialogue.Scene
}

// ConverseOutput is the stored, published result.
type ConverseOutput struct {
	SceneID     string
	Turns       []dialogue.Turn
	Fallback    bool
	FailureKind string
}

// ReplyInput is a player line aimed at one persona.
type ReplyInput struct {
	SceneID    string
	PersonaID  string
	PlayerText string
	Scene      dialogue.Scene
}

// ReplyOutput holds the player's turn and the persona's answer.
type ReplyOutput struct {
	SceneID     string
	PlayerTurn  dialogue.Turn
	Turn        dialogue.Turn
	Fallback    bool
	FailureKind string
}

// Converse runs one multi-party exchange.
func (s *Service) Converse(ctx context.Context, in ConverseInput) (ConverseOutput, error) {
	sceneID, err := resolveSceneID(in.SceneID, in.Scene)
	if err != nil {
		return ConverseOutput{}, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return ConverseOutput{}, err
	}
	defer release()

	past := s.recent(ctx, sceneID)
	result, err := s.orch.GenerateConversation(ctx, engine.ConversationRequest{
		ParticipantIDs: in.ParticipantIDs,
		Scene:          in.Scene,
		History:        past,
	})
	if err != nil {
		return ConverseOutput{}, err
	}

	cue := ""
	if len(past) > 0 {
		cue = past[len(past)-1].Text
	}
	turns := make([]dialogue.Turn, len(result.Turns))
	for i, turn := range result.Turns {
		turns[i] = s.stamp(turn, cue)
		cue = turn.Text
	}

	turns = s.record(ctx, sceneID, turns, result.Fallback)
	return ConverseOutput{
		SceneID:     sceneID,
		Turns:       turns,
		Fallback:    result.Fallback,
		FailureKind: result.FailureKind,
	}, nil
}

// Reply answers a player line.
func (s *Service) Reply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	sceneID, err := resolveSceneID(in.SceneID, in.Scene)
	if err != nil {
		return ReplyOutput{}, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return ReplyOutput{}, err
	}
	defer release()

	asked := s.now()
	result, err := s.orch.GenerateReply(ctx, engine.ReplyRequest{
		PersonaID:  in.PersonaID,
		PlayerText: in.PlayerText,
		Scene:      in.Scene,
		History:    s.recent(ctx, sceneID),
	})
	if err != nil {
		return ReplyOutput{}, err
	}

	playerText := strings.TrimSpace(in.PlayerText)
	playerTurn := s.stamp(dialogue.Turn{
		SpeakerID: dialogue.PlayerSpeaker,
		Text:      playerText,
		CreatedAt: asked,
	}, "")

	answeredAt := s.now()
	if !answeredAt.After(asked) {
		answeredAt = asked.Add(engine.TurnSpacing)
	}
	replyTurn := s.stamp(dialogue.Turn{
		SpeakerID: result.Persona.ID,
		Text:      result.Text,
		CreatedAt: answeredAt,
	}, playerText)

	stored := s.record(ctx, sceneID, []dialogue.Turn{playerTurn, replyTurn}, result.Fallback)
	return ReplyOutput{
		SceneID:     sceneID,
		PlayerTurn:  stored[0],
		Turn:        stored[1],
		Fallback:    result.Fallback,
		FailureKind: result.FailureKind,
	}, nil
}

// Turns serves the polling transport: turns after since, or the whole
// retained transcript when since is zero.
func (s *Service) Turns(ctx context.Context, sceneID string, since time.Time) ([]dialogue.Turn, error) {
	if since.IsZero() {
		return s.store.Recent(ctx, sceneID, 0)
	}
	return s.store.Since(ctx, sceneID, since)
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recent loads history; a store failure degrades to an empty history.
func (s *Service) recent(ctx context.Context, sceneID string) []dialogue.Turn {
	turns, err := s.store.Recent(ctx, sceneID, s.orch.HistoryWindow())
	if err != nil {
		logger.WithError(s.log, err).Warn("load history failed", "scene", sceneID)
		return nil
	}
	return turns
}

// record stores and publishes turns, returning them as stored. A store
// failure still publishes the turns unchanged.
func (s *Service) record(ctx context.Context, sceneID string, turns []dialogue.Turn, fallback bool) []dialogue.Turn {
	stored, err := s.store.Append(ctx, sceneID, turns...)
	if err != nil {
		logger.WithError(s.log, err).Error("save turns failed", "scene", sceneID)
	}
	if len(stored) == len(turns) {
		turns = stored
	}
	if s.hub != nil {
		s.hub.Publish(sceneID, turns, fallback)
	}
	return turns
}

func (s *Service) stamp(turn dialogue.Turn, cue string) dialogue.Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	turn.Mood = emotion.Mood(cue, turn.Text)
	return turn
}

func resolveSceneID(sceneID string, scene dialogue.Scene) (string, error) {
	if id := dialogue.Slug(sceneID); id != "" {
		return id, nil
	}
	if id := scene.Key(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: scene is required", engine.ErrInvalidRequest)
}
