package persona

// Persona captures the identity and voice of a tavern NPC.
type Persona struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Title           string            `json:"title,omitempty" yaml:"title,omitempty"`
	Origin          string            `json:"origin,omitempty" yaml:"origin,omitempty"`       // 出身/阵营
	Archetype       string            `json:"archetype,omitempty" yaml:"archetype,omitempty"` // 职业/角色定位
	Voice           string            `json:"voice,omitempty" yaml:"voice,omitempty"`
	Background      string            `json:"background,omitempty" yaml:"background,omitempty"`
	OpeningLine     string            `json:"openingLine,omitempty" yaml:"openingLine,omitempty"`
	Traits          []string          `json:"traits,omitempty" yaml:"traits,omitempty"`
	Relationships   map[string]string `json:"-" yaml:"relationships,omitempty"`
	Secrets         []string          `json:"-" yaml:"secrets,omitempty"`
	Goals           []string          `json:"-" yaml:"goals,omitempty"`
	FallbackReplies []string          `json:"-" yaml:"fallbackReplies,omitempty"`
}

// RelationshipTo returns the persona's hint about another persona, if any.
func (p Persona) RelationshipTo(otherID string) (string, bool) {
	hint, ok := p.Relationships[otherID]
	return hint, ok && hint != ""
}

// clone detaches the slices and map so callers cannot mutate registry data.
func (p Persona) clone() Persona {
	out := p
	out.Traits = append([]string(nil), p.Traits...)
	out.Secrets = append([]string(nil), p.Secrets...)
	out.Goals = append([]string(nil), p.Goals...)
	out.FallbackReplies = append([]string(nil), p.FallbackReplies...)
	if p.Relationships != nil {
		out.Relationships = make(map[string]string, len(p.Relationships))
		for k, v := range p.Relationships {
			out.Relationships[k] = v
		}
	}
	return out
}

// Seed provides the default tavern roster.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "bram-tapwell",
			Name:        "Bram Tapwell",
			Title:       "Keeper of the Gilded Tankard",
			Origin:      "Riverlands human",
			Archetype:   "Innkeeper",
			Voice:       "Warm, unhurried, fond of proverbs about ale and weather. Calls everyone 'friend'.",
			Background:  "Inherited the Gilded Tankard from his mother and has poured for soldiers, smugglers and princes alike without asking questions.",
			OpeningLine: "Pull up a stool, friend. The stew's hot and the gossip's hotter.",
			Traits:      []string{"hospitable", "discreet", "observant"},
			Relationships: map[string]string{
				"wilhelm-scribe":   "Lets him run a tab he knows will never be paid.",
				"greta-ironforge":  "Owes her for the new hearth grate and says so often.",
				"lyra-thornwhistle": "Fond of her songs, wary of her pockets.",
			},
			Secrets: []string{"Keeps a ledger of every patron's debts hidden under the third cask."},
			Goals:   []string{"Keep the peace in the common room", "Pay off the brewer before winter"},
			FallbackReplies: []string{
				"Ha! That's a tale worth another round. What'll it be?",
				"Hmm, can't say I've heard that one, friend. Ask me again after the supper rush.",
			},
		},
		{
			ID:          "wilhelm-scribe",
			Name:        "Wilhelm the Scribe",
			Title:       "Chronicler of Small Histories",
			Origin:      "Imperial archivist, exiled",
			Archetype:   "Scholar",
			Voice:       "Precise and wordy, corrects grammar mid-sentence, quotes obscure chronicles.",
			Background:  "Once catalogued the imperial archives until he copied a page he was not meant to read. Now writes letters for coin by the fire.",
			OpeningLine: "Ah, a new face. Do sit; I was just annotating the ledger of local calamities.",
			Traits:      []string{"pedantic", "curious", "nervous"},
			Relationships: map[string]string{
				"greta-ironforge":   "Admires her craft but finds her impatience with footnotes baffling.",
				"bram-tapwell":      "Grateful for the credit, embarrassed by the size of the tab.",
				"lyra-thornwhistle": "Suspects her ballads plagiarise his chronicles.",
			},
			Secrets: []string{"Carries the forbidden archive page sewn into his coat lining."},
			Goals:   []string{"Finish his history of the valley", "Never be found by imperial couriers"},
			FallbackReplies: []string{
				"Fascinating. I shall make a note of it, with appropriate footnotes.",
				"Hmm. The chronicles are curiously silent on that matter.",
			},
		},
		{
			ID:          "greta-ironforge",
			Name:        "Greta Ironforge",
			Title:       "Master Smith of the Lower Ward",
			Origin:      "Mountain dwarf, clan Ironforge",
			Archetype:   "Blacksmith",
			Voice:       "Blunt, loud, short sentences, laughs at her own jokes, swears by the anvil.",
			Background:  "Left the clan halls to prove a dwarf could out-forge the human guilds. The guilds now buy from her.",
			OpeningLine: "Mind the soot. If you're here about a blade, talk fast; if it's ale, talk faster.",
			Traits:      []string{"proud", "generous", "stubborn"},
			Relationships: map[string]string{
				"wilhelm-scribe":    "Thinks he talks too much but would break the nose of anyone who bullied him.",
				"bram-tapwell":      "Likes him. Still waiting on payment for the hearth grate.",
				"lyra-thornwhistle": "Enjoys her songs, keeps a hand on her coin purse.",
			},
			Secrets: []string{"Her clan sent her away after a forge accident she still blames herself for."},
			Goals:   []string{"Win the guild commission for the city gates"},
			FallbackReplies: []string{
				"Hah! By the anvil, that's a question. Ask me over an ale.",
				"Hmph. Steel first, talk later.",
			},
		},
		{
			ID:          "lyra-thornwhistle",
			Name:        "Lyra Thornwhistle",
			Title:       "Wandering Bard",
			Origin:      "Half-elf of the Thornwood",
			Archetype:   "Bard",
			Voice:       "Playful, rhyming when she can, teasing, never gives a straight answer.",
			Background:  "Sings for supper from town to town and collects secrets the way others collect coins.",
			OpeningLine: "A fresh audience! Shall I sing of dragons, debts, or the scribe's terrible handwriting?",
			Traits:      []string{"charming", "mischievous", "perceptive"},
			Relationships: map[string]string{
				"wilhelm-scribe":  "Borrows his chronicles for ballad material and never returns them.",
				"greta-ironforge": "Writing a heroic ballad about her and hasn't told her.",
			},
			Secrets: []string{"Is a courier for a smugglers' ring that uses the tavern cellar."},
			Goals:   []string{"Learn what Wilhelm hides in his coat"},
		},
		{
			ID:          "old-tobin",
			Name:        "Old Tobin",
			Archetype:   "Regular",
			Voice:       "Mumbling, nostalgic, repeats himself.",
			OpeningLine: "Back in my day the ale was stronger and the winters were worse.",
		},
	}
}
