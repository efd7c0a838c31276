package dialogue

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	model "github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
)

const catchAllOpening = "Evening, traveller. Quiet night, isn't it?"

var catchAllReplies = []string{
	"Hm. Give me a moment to think on that.",
	"Now there's a question. Ask me again once the fire's burned down a little.",
	"Interesting. Tell me more, traveller.",
	"Ah, I couldn't rightly say. Another round, perhaps?",
}

// Fallback produces offline dialogue when generation fails. It never makes a
// network call and always returns something.
type Fallback struct{}

// Conversation returns at most one line per persona, in the given order,
// each attributed to that persona.
func (Fallback) Conversation(participants []persona.Persona, base time.Time) []model.Turn {
	turns := make([]model.Turn, 0, len(participants))
	for _, p := range participants {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		turns = append(turns, model.Turn{
			SpeakerID: p.ID,
			Text:      openingLine(p),
			CreatedAt: base.Add(time.Duration(len(turns)) * TurnSpacing),
		})
	}
	return turns
}

// Reply returns a deterministic canned answer for the player's line.
func (Fallback) Reply(p persona.Persona, playerText string) string {
	options := make([]string, 0, len(p.FallbackReplies))
	for _, reply := range p.FallbackReplies {
		if trimmed := strings.TrimSpace(reply); trimmed != "" {
			options = append(options, trimmed)
		}
	}
	if len(options) == 0 {
		options = catchAllReplies
	}
	return options[pick(strings.TrimSpace(playerText), len(options))]
}

func openingLine(p persona.Persona) string {
	if line := strings.TrimSpace(p.OpeningLine); line != "" {
		return line
	}
	if name := strings.TrimSpace(p.Name); name != "" && name != p.ID {
		return fmt.Sprintf("Evening. %s, at your service. Pull up a chair.", name)
	}
	return catchAllOpening
}

func pick(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
