package emotion

import (
	"math"
	"strings"
)

// Label 表示一句台词的情绪（前端据此展示表情与气泡样式）。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Excited  Label = "excited"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// Decision 给出情绪识别结果以及推荐情绪强度。
type Decision struct {
	Emotion Label
	Scale   float32
	Score   int
}

// labelOrder fixes tie-breaking between buckets.
var labelOrder = []Label{Angry, Sad, Excited, Happy, Comfort, Tender, Magnetic}

var keywordBuckets = map[Label][]string{
	Happy: {
		"haha", "hah!", "ha!", "laugh", "grin", "cheers", "merry", "glad", "delight", "splendid",
		"thank", "fine ale", "good ale", "a toast", "huzzah", "love", "lovely", "jolly", "wonderful", "great",
	},
	Sad: {
		"sad", "sorrow", "grief", "mourn", "weep", "tears", "cry", "lost", "alone", "lonely",
		"miss her", "miss him", "dead", "died", "funeral", "regret", "heartbroken", "hurt", "ruin", "sigh",
	},
	Angry: {
		"angry", "furious", "rage", "curse", "damn", "blast it", "how dare", "liar", "thief", "cheat",
		"outrage", "fool", "idiot", "get out", "i'll break", "enough!", "swindle", "scoundrel", "mad", "annoyed",
	},
	Excited: {
		"dragon", "treasure", "adventure", "can't wait", "by the anvil", "by the gods", "incredible",
		"unbelievable", "wow", "at last", "a quest", "legendary", "fortune", "glory", "hurry", "look!",
	},
	Tender: {
		"gently", "softly", "quiet", "calm", "dear", "sweet", "warm", "hush", "rest now", "fond",
		"my friend", "kindly", "lullaby", "peace", "tender",
	},
	Comfort: {
		"don't worry", "it's alright", "it's all right", "you're safe", "i'm here", "take heart",
		"there, there", "easy now", "sit down", "rest your", "have a drink", "on the house", "breathe",
		"no shame", "we'll manage", "you'll be fine",
	},
	Magnetic: {
		"listen", "mark my words", "beware", "secret", "warning", "serious", "must", "swear", "oath",
		"never tell", "between us", "important", "careful", "heed", "remember this",
	},
}

var punctuationBoost = map[Label]int{
	Happy:   2,
	Excited: 3,
}

// Analyze 根据引发台词的话语（cue）与台词本身（line）推断台词情绪。
func Analyze(cue, line string) Decision {
	cueScore := scoreText(cue)
	lineScore := scoreText(line)

	finalScore := lineScore
	// 台词本身缺少明显情感时，根据对方情绪进行映射，从而体现安抚或共情。
	if finalScore.Score == 0 && cueScore.Score > 0 {
		finalScore = coerceEmotionFromCue(cueScore)
	}

	if finalScore.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3, Score: 0}
	}

	scale := 2 + float32(finalScore.Score)/4 // 基础为2，强度随得分提升
	if finalScore.Emotion == Excited {
		scale += 1
	}
	if finalScore.Emotion == Magnetic {
		scale = float32(math.Min(4.0, float64(scale)))
	}
	if finalScore.Emotion == Comfort || finalScore.Emotion == Tender {
		scale = float32(math.Min(3.5, float64(scale)))
	}

	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}

	return Decision{Emotion: finalScore.Emotion, Scale: scale, Score: finalScore.Score}
}

// Mood 返回单句台词的情绪标签。
func Mood(cue, line string) string {
	return string(Analyze(cue, line).Emotion)
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral, Scale: 0, Score: 0}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 0 {
		scores[Excited] += exclamations * punctuationBoost[Excited]
		if exclamations == 1 {
			scores[Happy] += punctuationBoost[Happy]
		}
	}

	bestLabel := Neutral
	bestScore := 0
	for _, label := range labelOrder {
		if s := scores[label]; s > bestScore {
			bestScore = s
			bestLabel = label
		}
	}

	if bestScore == 0 {
		return Decision{Emotion: Neutral, Score: 0, Scale: 0}
	}

	return Decision{Emotion: bestLabel, Score: bestScore, Scale: 0}
}

func coerceEmotionFromCue(cue Decision) Decision {
	switch cue.Emotion {
	case Sad:
		return Decision{Emotion: Comfort, Score: cue.Score}
	case Angry:
		return Decision{Emotion: Magnetic, Score: cue.Score}
	case Excited:
		return Decision{Emotion: Excited, Score: cue.Score}
	case Happy:
		return Decision{Emotion: Happy, Score: cue.Score}
	case Tender, Comfort:
		return Decision{Emotion: Tender, Score: cue.Score}
	default:
		return cue
	}
}
