package dialogue

import (
	"encoding/json"
	"strings"
	"time"

	model "github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
)

// TurnSpacing separates consecutive CreatedAt values of one batch.
const TurnSpacing = time.Second

var (
	speakerKeys = []string{"speakerId", "characterId", "speaker"}
	textKeys    = []string{"text", "message"}
)

// ParseConversation extracts turns from a backend payload. Elements with a
// missing speaker or text, or a speaker outside participants, are dropped;
// the call fails only when nothing usable remains.
func ParseConversation(raw string, participants []persona.Persona, base time.Time) ([]model.Turn, error) {
	elements, err := extractMessages(raw)
	if err != nil {
		return nil, err
	}

	resolve := speakerResolver(participants)
	turns := make([]model.Turn, 0, len(elements))
	for _, element := range elements {
		var fields map[string]any
		if err := json.Unmarshal(element, &fields); err != nil {
			continue
		}

		speakerID, ok := resolve(firstString(fields, speakerKeys))
		if !ok {
			continue
		}
		text := cleanLine(firstString(fields, textKeys), participantByID(participants, speakerID))
		if text == "" {
			continue
		}

		turns = append(turns, model.Turn{
			SpeakerID: speakerID,
			Text:      text,
			CreatedAt: base.Add(time.Duration(len(turns)) * TurnSpacing),
		})
	}

	if len(turns) == 0 {
		return nil, &ValidationError{Reason: "no valid messages in payload"}
	}
	return turns, nil
}

// ParseReply cleans a single-line reply.
func ParseReply(raw string, p persona.Persona) (string, error) {
	text := cleanLine(stripCodeFence(raw), p)
	if text == "" {
		return "", &ValidationError{Reason: "empty reply"}
	}
	return text, nil
}

// extractMessages finds the messages array. The payload may be wrapped in
// prose or markdown fences, and may be a bare array. An object carrying
// messages wins over any bracket that appears earlier in the prose.
func extractMessages(raw string) ([]json.RawMessage, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, &ValidationError{Reason: "empty response"}
	}

	objStart := strings.Index(cleaned, "{")
	arrStart := strings.Index(cleaned, "[")

	messages, objErr := decodeObject(cleaned, objStart)
	if objErr == nil {
		return messages, nil
	}

	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		elements, arrErr := decodeArray(cleaned, arrStart)
		if arrErr == nil {
			return elements, nil
		}
		if objStart == -1 {
			return nil, arrErr
		}
	}
	return nil, objErr
}

// decodeObject reads {"messages":[...]} spanning the first "{" to the last "}".
func decodeObject(cleaned string, start int) ([]json.RawMessage, error) {
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return nil, &ValidationError{Reason: "missing json object"}
	}

	var payload struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &payload); err != nil {
		return nil, &ValidationError{Reason: "malformed json object", Cause: err}
	}
	if payload.Messages == nil {
		return nil, &ValidationError{Reason: "payload has no messages array"}
	}
	return payload.Messages, nil
}

func decodeArray(cleaned string, start int) ([]json.RawMessage, error) {
	end := strings.LastIndex(cleaned, "]")
	if end <= start {
		return nil, &ValidationError{Reason: "unterminated json array"}
	}
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &elements); err != nil {
		return nil, &ValidationError{Reason: "malformed json array", Cause: err}
	}
	return elements, nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// drop the opening fence line, e.g. ```json
	if idx := strings.Index(text, "\n"); idx != -1 {
		text = text[idx+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func firstString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		if value, ok := fields[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// speakerResolver matches a payload speaker to a participant by ID, then
// case-insensitively by ID or display name.
func speakerResolver(participants []persona.Persona) func(string) (string, bool) {
	return func(speaker string) (string, bool) {
		if speaker == "" {
			return "", false
		}
		for _, p := range participants {
			if p.ID == speaker {
				return p.ID, true
			}
		}
		for _, p := range participants {
			if strings.EqualFold(p.ID, speaker) || strings.EqualFold(strings.TrimSpace(p.Name), speaker) {
				return p.ID, true
			}
		}
		return "", false
	}
}

func participantByID(participants []persona.Persona, id string) persona.Persona {
	for _, p := range participants {
		if p.ID == id {
			return p
		}
	}
	return persona.Persona{ID: id}
}

// cleanLine trims a spoken line, removing a leading "Name:" label and
// wrapping quotes.
func cleanLine(text string, p persona.Persona) string {
	text = strings.TrimSpace(text)
	for _, label := range []string{p.Name, p.ID} {
		label = strings.TrimSpace(label)
		if label == "" || len(text) <= len(label) {
			continue
		}
		if strings.EqualFold(text[:len(label)], label) && strings.HasPrefix(strings.TrimSpace(text[len(label):]), ":") {
			text = strings.TrimSpace(text[len(label):])
			text = strings.TrimSpace(strings.TrimPrefix(text, ":"))
			break
		}
	}
	return trimQuotes(text)
}

func trimQuotes(text string) string {
	pairs := [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}}
	for {
		trimmed := false
		for _, pair := range pairs {
			if len(text) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
				inner := text[len(pair[0]) : len(text)-len(pair[1])]
				// keep quotes that do not wrap the whole line, e.g. "Aye," she said, "aye."
				if strings.Contains(inner, pair[0]) || strings.Contains(inner, pair[1]) {
					continue
				}
				text = strings.TrimSpace(inner)
				trimmed = true
			}
		}
		if !trimmed {
			return text
		}
	}
}
