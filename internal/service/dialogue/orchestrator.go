package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	model "github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/ai"
)

// Registry is the persona lookup the orchestrator needs.
type Registry interface {
	Get(id string) (persona.Persona, bool)
	Position(id string) int
}

// Options configures an Orchestrator. Zero values are usable.
type Options struct {
	Compiler      *Compiler
	Decoding      ai.Options // conversations
	ReplyDecoding ai.Options
	Clock         func() time.Time
	Logger        *slog.Logger
}

// ConversationRequest asks for the next lines between several personas.
type ConversationRequest struct {
	ParticipantIDs []string
	Scene          model.Scene
	History        []model.Turn
}

// ConversationResult carries the turns plus whether they came from the
// fallback generator, and why.
type ConversationResult struct {
	Turns        []model.Turn
	Participants []persona.Persona
	Fallback     bool
	FailureKind  string
}

// ReplyRequest asks one persona to answer the player.
type ReplyRequest struct {
	PersonaID  string
	PlayerText string
	Scene      model.Scene
	History    []model.Turn
}

// ReplyResult is the persona's answer.
type ReplyResult struct {
	Persona     persona.Persona
	Text        string
	Fallback    bool
	FailureKind string
}

// Orchestrator sequences compile, generate and parse, substituting fallback
// dialogue on any generation or validation failure. It keeps no state
// between calls and is safe for concurrent use.
type Orchestrator struct {
	registry      Registry
	generator     ai.Generator
	compiler      *Compiler
	fallback      Fallback
	decoding      ai.Options
	replyDecoding ai.Options
	now           func() time.Time
	log           *slog.Logger
}

// NewOrchestrator wires the engine. A nil generator behaves as ai.Disabled.
func NewOrchestrator(registry Registry, generator ai.Generator, opts Options) *Orchestrator {
	if generator == nil {
		generator = ai.Disabled{}
	}
	compiler := opts.Compiler
	if compiler == nil {
		compiler = NewCompiler(CompilerConfig{})
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	replyDecoding := opts.ReplyDecoding
	if replyDecoding == (ai.Options{}) {
		replyDecoding = opts.Decoding
	}

	return &Orchestrator{
		registry:      registry,
		generator:     generator,
		compiler:      compiler,
		decoding:      opts.Decoding,
		replyDecoding: replyDecoding,
		now:           now,
		log:           logger.Component(opts.Logger, "orchestrator"),
	}
}

// HistoryWindow exposes K so callers know how much history to load.
func (o *Orchestrator) HistoryWindow() int {
	return o.compiler.HistoryWindow()
}

// GenerateConversation produces the next lines between the requested
// personas. Only ErrInvalidRequest is returned as an error.
func (o *Orchestrator) GenerateConversation(ctx context.Context, req ConversationRequest) (ConversationResult, error) {
	if len(req.ParticipantIDs) < 2 {
		return ConversationResult{}, invalidf("conversation needs at least 2 participant ids, got %d", len(req.ParticipantIDs))
	}
	if err := req.Scene.Validate(); err != nil {
		return ConversationResult{}, invalidf("%v", err)
	}

	participants := o.resolve(req.ParticipantIDs)
	if len(participants) < 2 {
		return ConversationResult{}, invalidf("only %d of %d participants are known", len(participants), len(req.ParticipantIDs))
	}
	if len(participants) > o.compiler.MaxParticipants() {
		return ConversationResult{}, invalidf("conversation allows at most %d participants, got %d", o.compiler.MaxParticipants(), len(participants))
	}

	instruction, err := o.compiler.CompileConversation(participants, req.Scene, req.History)
	if err != nil {
		return ConversationResult{}, err
	}

	raw, err := o.generator.Complete(ctx, instruction, o.decoding)
	if err != nil {
		return o.fallbackConversation(participants, err), nil
	}

	turns, err := ParseConversation(raw, participants, o.now())
	if err != nil {
		return o.fallbackConversation(participants, err), nil
	}

	o.log.Debug("conversation generated",
		"backend", o.generator.Name(),
		"participants", len(participants),
		"turns", len(turns),
	)
	return ConversationResult{Turns: turns, Participants: participants}, nil
}

// GenerateReply produces one persona's answer to the player.
func (o *Orchestrator) GenerateReply(ctx context.Context, req ReplyRequest) (ReplyResult, error) {
	playerText := strings.TrimSpace(req.PlayerText)
	if playerText == "" {
		return ReplyResult{}, invalidf("player text is empty")
	}
	if err := req.Scene.Validate(); err != nil {
		return ReplyResult{}, invalidf("%v", err)
	}
	p, ok := o.registry.Get(req.PersonaID)
	if !ok {
		return ReplyResult{}, invalidf("unknown persona %q", req.PersonaID)
	}

	instruction, err := o.compiler.CompileReply(p, playerText, req.Scene, req.History)
	if err != nil {
		return ReplyResult{}, err
	}

	raw, err := o.generator.Complete(ctx, instruction, o.replyDecoding)
	if err == nil {
		var text string
		if text, err = ParseReply(raw, p); err == nil {
			return ReplyResult{Persona: p, Text: text}, nil
		}
	}

	kind := failureKind(err)
	logger.WithError(o.log, err).Warn("reply generation failed, using fallback",
		"kind", kind,
		"backend", o.generator.Name(),
		"persona", p.ID,
	)
	return ReplyResult{
		Persona:     p,
		Text:        o.fallback.Reply(p, playerText),
		Fallback:    true,
		FailureKind: kind,
	}, nil
}

// resolve maps ids to personas in request order, skipping duplicates and
// unknown ids.
func (o *Orchestrator) resolve(ids []string) []persona.Persona {
	seen := make(map[string]struct{}, len(ids))
	participants := make([]persona.Persona, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, ok := o.registry.Get(id)
		if !ok {
			o.log.Warn("dropping unknown participant", "persona", id)
			continue
		}
		participants = append(participants, p)
	}
	return participants
}

func (o *Orchestrator) fallbackConversation(participants []persona.Persona, cause error) ConversationResult {
	kind := failureKind(cause)
	log := logger.WithError(o.log, cause)
	if errors.Is(cause, context.Canceled) {
		log.Info("conversation generation cancelled, using fallback", "kind", kind, "backend", o.generator.Name())
	} else {
		log.Warn("conversation generation failed, using fallback", "kind", kind, "backend", o.generator.Name())
	}

	ordered := append([]persona.Persona(nil), participants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return o.registry.Position(ordered[i].ID) < o.registry.Position(ordered[j].ID)
	})

	return ConversationResult{
		Turns:        o.fallback.Conversation(ordered, o.now()),
		Participants: participants,
		Fallback:     true,
		FailureKind:  kind,
	}
}
