package dialogue

import (
	"fmt"
	"sort"
	"strings"

	model "github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
)

const (
	DefaultHistoryWindow   = 6
	DefaultMaxParticipants = 6

	// NeutralRelationship is rendered for a pair with no relationship hint.
	NeutralRelationship = "no strong feelings either way"

	defaultAtmosphere = "nothing out of the ordinary"
	playerLabel       = "The player"
)

// ResponseShape is the JSON layout conversation prompts demand.
const ResponseShape = `{"messages":[{"speakerId":"<id>","text":"<line>"}]}`

// CompilerConfig bounds prompt size. Zero values select the defaults.
type CompilerConfig struct {
	HistoryWindow   int
	MaxParticipants int
}

// Compiler renders personas, scene and history into one instruction string.
// Output is a pure function of the inputs.
type Compiler struct {
	historyWindow   int
	maxParticipants int
}

// NewCompiler creates a compiler.
func NewCompiler(cfg CompilerConfig) *Compiler {
	c := &Compiler{
		historyWindow:   cfg.HistoryWindow,
		maxParticipants: cfg.MaxParticipants,
	}
	if c.historyWindow <= 0 {
		c.historyWindow = DefaultHistoryWindow
	}
	if c.maxParticipants < 2 {
		c.maxParticipants = DefaultMaxParticipants
	}
	return c
}

// HistoryWindow returns K, the number of recent turns kept in a prompt.
func (c *Compiler) HistoryWindow() int {
	return c.historyWindow
}

// MaxParticipants returns N, the largest cast a conversation may have.
func (c *Compiler) MaxParticipants() int {
	return c.maxParticipants
}

// CompileConversation builds the multi-party instruction.
func (c *Compiler) CompileConversation(participants []persona.Persona, scene model.Scene, history []model.Turn) (string, error) {
	if len(participants) < 2 {
		return "", invalidf("conversation needs at least 2 participants, got %d", len(participants))
	}
	if len(participants) > c.maxParticipants {
		return "", invalidf("conversation allows at most %d participants, got %d", c.maxParticipants, len(participants))
	}

	scene = scene.Normalized()
	names := speakerNames(participants)

	var b strings.Builder
	fmt.Fprintf(&b, "You are writing a short exchange of spoken dialogue between %d patrons of a fantasy tavern.\n", len(participants))
	b.WriteString("Every character must stay true to their voice, history and goals.\n\n")

	writeScene(&b, scene)

	b.WriteString("## Characters\n")
	for _, p := range participants {
		writePersona(&b, p)
	}

	b.WriteString("## Relationships\n")
	for _, a := range participants {
		for _, other := range participants {
			if a.ID == other.ID {
				continue
			}
			hint, ok := a.RelationshipTo(other.ID)
			if !ok {
				hint = NeutralRelationship
			}
			fmt.Fprintf(&b, "- %s about %s: %s\n", a.Name, other.Name, hint)
		}
	}
	b.WriteString("\n")

	writeHistory(&b, recentTurns(history, c.historyWindow), names)

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}

	b.WriteString("## Instructions\n")
	fmt.Fprintf(&b, "Write the next %d to %d lines of the conversation. ", len(participants), len(participants)*2)
	b.WriteString("Let the characters react to each other and to the scene. Keep each line to one or two sentences. ")
	b.WriteString("Secrets may be hinted at but never stated outright.\n")
	b.WriteString("Respond with ONLY one JSON object, no prose and no markdown fences, in exactly this shape:\n")
	b.WriteString(ResponseShape)
	b.WriteString("\n")
	fmt.Fprintf(&b, "speakerId must be one of: %s. Do not put the speaker's name inside text.\n", strings.Join(ids, ", "))

	return b.String(), nil
}

// CompileReply builds the single-persona instruction answering the player.
func (c *Compiler) CompileReply(p persona.Persona, playerText string, scene model.Scene, history []model.Turn) (string, error) {
	playerText = strings.TrimSpace(playerText)
	if playerText == "" {
		return "", invalidf("player text is empty")
	}
	if strings.TrimSpace(p.ID) == "" {
		return "", invalidf("reply needs a persona")
	}

	scene = scene.Normalized()
	names := speakerNames([]persona.Persona{p})

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a patron of a fantasy tavern, answering a traveller who has spoken to you.\n", p.Name)
	b.WriteString("Stay fully in character.\n\n")

	writeScene(&b, scene)

	b.WriteString("## Who you are\n")
	writePersona(&b, p)

	if len(p.Relationships) > 0 {
		b.WriteString("## What you think of the regulars\n")
		others := make([]string, 0, len(p.Relationships))
		for id := range p.Relationships {
			others = append(others, id)
		}
		sort.Strings(others)
		for _, id := range others {
			if hint, ok := p.RelationshipTo(id); ok {
				fmt.Fprintf(&b, "- %s: %s\n", id, hint)
			}
		}
		b.WriteString("\n")
	}

	writeHistory(&b, recentTurns(history, c.historyWindow), names)

	b.WriteString("## The traveller says\n")
	fmt.Fprintf(&b, "%q\n\n", playerText)

	b.WriteString("## Instructions\n")
	fmt.Fprintf(&b, "Answer as %s in one to three sentences of plain spoken dialogue. ", p.Name)
	b.WriteString("No speaker label, no surrounding quotes, no JSON, no stage directions.\n")

	return b.String(), nil
}

func writeScene(b *strings.Builder, scene model.Scene) {
	b.WriteString("## Scene\n")
	fmt.Fprintf(b, "Name: %s\n", scene.Name)
	atmosphere := scene.Atmosphere
	if atmosphere == "" {
		atmosphere = defaultAtmosphere
	}
	fmt.Fprintf(b, "Atmosphere: %s\n", atmosphere)
	if scene.Theme != "" {
		fmt.Fprintf(b, "Theme: %s\n", scene.Theme)
	}
	if len(scene.RecentEvents) > 0 {
		b.WriteString("Recent events:\n")
		for _, event := range scene.RecentEvents {
			fmt.Fprintf(b, "- %s\n", event)
		}
	}
	b.WriteString("\n")
}

func writePersona(b *strings.Builder, p persona.Persona) {
	fmt.Fprintf(b, "### %s (id: %s)\n", p.Name, p.ID)
	writeField(b, "Title", p.Title)
	writeField(b, "Origin", p.Origin)
	writeField(b, "Archetype", p.Archetype)
	writeField(b, "Voice", p.Voice)
	writeField(b, "Background", p.Background)
	if len(p.Traits) > 0 {
		fmt.Fprintf(b, "Traits: %s\n", strings.Join(p.Traits, ", "))
	}
	writeList(b, "Goals", p.Goals)
	writeList(b, "Secrets (hint only, never reveal)", p.Secrets)
	b.WriteString("\n")
}

func writeField(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func writeHistory(b *strings.Builder, turns []model.Turn, names map[string]string) {
	b.WriteString("## Recent conversation\n")
	if len(turns) == 0 {
		b.WriteString("(nothing has been said yet)\n\n")
		return
	}
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(b, "%s: %s\n", speakerLabel(turn, names), text)
	}
	b.WriteString("\n")
}

// recentTurns keeps the newest k turns, dropping the oldest first.
func recentTurns(history []model.Turn, k int) []model.Turn {
	if k <= 0 || len(history) <= k {
		return history
	}
	return history[len(history)-k:]
}

func speakerNames(participants []persona.Persona) map[string]string {
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}
	return names
}

func speakerLabel(turn model.Turn, names map[string]string) string {
	if turn.IsPlayer() {
		return playerLabel
	}
	if name, ok := names[turn.SpeakerID]; ok && name != "" {
		return name
	}
	return turn.SpeakerID
}
