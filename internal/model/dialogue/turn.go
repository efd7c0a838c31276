package dialogue

import "time"

// PlayerSpeaker is the reserved speaker id for lines typed by the player.
const PlayerSpeaker = "player"

// Turn is one attributed utterance in a conversation.
type Turn struct {
	ID        string    `json:"id,omitempty"`
	SpeakerID string    `json:"speakerId"`
	Text      string    `json:"text"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsPlayer reports whether the turn was spoken by the player.
func (t Turn) IsPlayer() bool {
	return t.SpeakerID == PlayerSpeaker
}
