package dialogue

import (
	"errors"
	"strings"
)

// ErrSceneNameRequired is returned by Scene.Validate for an unnamed scene.
var ErrSceneNameRequired = errors.New("scene name is required")

// Scene describes the situation a conversation takes place in.
type Scene struct {
	Name         string   `json:"scene"`
	Atmosphere   string   `json:"atmosphere"`
	RecentEvents []string `json:"recentEvents,omitempty"`
	Theme        string   `json:"theme,omitempty"`
}

// Validate checks the scene is usable for prompt compilation.
func (s Scene) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrSceneNameRequired
	}
	return nil
}

// Normalized trims every field and drops blank event summaries.
func (s Scene) Normalized() Scene {
	out := Scene{
		Name:       strings.TrimSpace(s.Name),
		Atmosphere: strings.TrimSpace(s.Atmosphere),
		Theme:      strings.TrimSpace(s.Theme),
	}
	for _, event := range s.RecentEvents {
		if trimmed := strings.TrimSpace(event); trimmed != "" {
			out.RecentEvents = append(out.RecentEvents, trimmed)
		}
	}
	return out
}

// Key derives a storage key from the scene name, e.g. "Quiet Evening" -> "quiet-evening".
func (s Scene) Key() string {
	return Slug(s.Name)
}

// Slug lowercases and hyphenates a free-text name.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
