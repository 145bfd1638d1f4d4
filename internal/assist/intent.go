package assist

import (
	"strconv"
	"strings"
)

// SpeechType classifies what kind of utterance the quality path just
// translated.
type SpeechType string

const (
	SpeechQuestion  SpeechType = "QUESTION"
	SpeechInfo      SpeechType = "INFO"
	SpeechStory     SpeechType = "STORY"
	SpeechSmallTalk SpeechType = "SMALL_TALK"
	SpeechUnknown   SpeechType = "UNKNOWN"
)

// Intent is the classification attached to each quality-translation result.
type Intent struct {
	ContainsQuestion   bool
	QuestionConfidence int // 0–100
	SpeechType         SpeechType
}

// ParseIntent extracts the intent classification from an analysis section.
// The model is instructed to emit "type:" and "question_confidence:" lines,
// but the parser tolerates free-form analysis text by falling back to token
// scanning. Missing or unparsable fields yield SpeechUnknown / zero.
func ParseIntent(analysis string) Intent {
	upper := strings.ToUpper(analysis)

	// "question_confidence" must not be mistaken for the QUESTION type.
	typeText := strings.ReplaceAll(upper, "QUESTION_CONFIDENCE", "")

	intent := Intent{SpeechType: SpeechUnknown}
	switch {
	case strings.Contains(typeText, string(SpeechSmallTalk)):
		intent.SpeechType = SpeechSmallTalk
	case strings.Contains(typeText, string(SpeechQuestion)):
		intent.SpeechType = SpeechQuestion
	case strings.Contains(typeText, string(SpeechStory)):
		intent.SpeechType = SpeechStory
	case strings.Contains(typeText, string(SpeechInfo)):
		intent.SpeechType = SpeechInfo
	}

	intent.QuestionConfidence = confidenceAfter(upper, "CONFIDENCE")
	intent.ContainsQuestion = intent.SpeechType == SpeechQuestion ||
		intent.QuestionConfidence > 0

	return intent
}

// confidenceAfter finds the first integer following key and clamps it to
// [0, 100]. Returns 0 when key or the number is absent.
func confidenceAfter(upper, key string) int {
	i := strings.Index(upper, key)
	if i < 0 {
		return 0
	}
	rest := upper[i+len(key):]

	start := strings.IndexFunc(rest, func(r rune) bool { return r >= '0' && r <= '9' })
	if start < 0 {
		return 0
	}
	end := start
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[start:end])
	if err != nil {
		return 0
	}
	if n > 100 {
		n = 100
	}
	return n
}
