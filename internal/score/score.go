// Package score rates the plausibility of a machine translation using cheap
// text heuristics. The scorer is pure: no I/O, no state, safe for concurrent
// use.
//
// Scores are informational and never block output. A low score is logged by
// callers as a warning and the translation is shown anyway — hiding content
// from a live conversation is worse than showing a clumsy rendering.
package score

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// AcceptableThreshold is the minimum score considered usable.
	AcceptableThreshold = 50

	minLengthRatio = 0.6
	maxLengthRatio = 1.8

	minWordRatio = 0.3
	maxWordRatio = 2.5

	wordRatioPenalty  = 20
	repetitionPenalty = 25
	scriptPenalty     = 40
	degeneratePenalty = 60
)

// Script identifies the expected writing system of the translated text.
type Script string

const (
	ScriptLatin    Script = "latin"
	ScriptCyrillic Script = "cyrillic"
)

// ScriptForLanguage returns the expected [Script] for a BCP-47-ish language
// code. Unknown languages default to Latin.
func ScriptForLanguage(lang string) Script {
	switch strings.ToLower(strings.SplitN(lang, "-", 2)[0]) {
	case "ru", "uk", "be", "bg", "sr", "mk":
		return ScriptCyrillic
	default:
		return ScriptLatin
	}
}

// Result is the outcome of scoring a single translation.
type Result struct {
	// Confidence is in [0, 100].
	Confidence int

	// Acceptable is true when Confidence >= [AcceptableThreshold].
	Acceptable bool

	// Reasons lists every penalty that was applied, for logging.
	Reasons []string
}

// Score rates translation against original. targetScript selects which
// writing system the translation is expected to contain; pass the result of
// [ScriptForLanguage] for the session's target language.
//
// The score starts at 100 and penalties are subtracted. An empty translation
// scores 0; a translation containing a replacement/placeholder glyph scores
// at most 10. Both of those short-circuit the remaining checks.
func Score(original, translation string, targetScript Script) Result {
	translation = strings.TrimSpace(translation)
	original = strings.TrimSpace(original)

	if translation == "" {
		return Result{Confidence: 0, Reasons: []string{"empty translation"}}
	}
	if strings.ContainsAny(translation, "�□▯") {
		return Result{Confidence: 10, Reasons: []string{"placeholder glyph in output"}}
	}

	confidence := 100
	var reasons []string

	// Character-length ratio, penalty proportional to the deviation.
	if len(original) > 0 {
		ratio := float64(len(translation)) / float64(len(original))
		switch {
		case ratio < minLengthRatio:
			p := int((minLengthRatio - ratio) * 50)
			confidence -= p
			reasons = append(reasons, fmt.Sprintf("length ratio %.2f below %.1f", ratio, minLengthRatio))
		case ratio > maxLengthRatio:
			p := int((ratio - maxLengthRatio) * 50)
			confidence -= p
			reasons = append(reasons, fmt.Sprintf("length ratio %.2f above %.1f", ratio, maxLengthRatio))
		}
	}

	origWords := strings.Fields(original)
	transWords := strings.Fields(translation)

	// Word-count ratio, only meaningful on inputs longer than two words.
	if len(origWords) > 2 && len(transWords) > 0 {
		ratio := float64(len(transWords)) / float64(len(origWords))
		if ratio < minWordRatio || ratio > maxWordRatio {
			confidence -= wordRatioPenalty
			reasons = append(reasons, fmt.Sprintf("word ratio %.2f outside [%.1f, %.1f]", ratio, minWordRatio, maxWordRatio))
		}
	}

	// Degenerate repetition: one word dominating the output.
	if word, frac := dominantWord(transWords); len(transWords) >= 3 && frac > 0.5 {
		confidence -= repetitionPenalty
		reasons = append(reasons, fmt.Sprintf("word %q is %.0f%% of output", word, frac*100))
	}

	// Expected target script must appear in any non-trivial translation.
	if len(translation) > 10 && !containsScript(translation, targetScript) {
		confidence -= scriptPenalty
		reasons = append(reasons, fmt.Sprintf("no %s characters in output", targetScript))
	}

	// All-punctuation output or a long single-character run.
	if isDegenerate(translation) {
		confidence -= degeneratePenalty
		reasons = append(reasons, "degenerate output pattern")
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return Result{
		Confidence: confidence,
		Acceptable: confidence >= AcceptableThreshold,
		Reasons:    reasons,
	}
}

// dominantWord returns the most frequent word (case-folded) and the fraction
// of all words it accounts for.
func dominantWord(words []string) (string, float64) {
	if len(words) == 0 {
		return "", 0
	}
	counts := make(map[string]int, len(words))
	best, bestCount := "", 0
	for _, w := range words {
		lw := strings.ToLower(w)
		counts[lw]++
		if counts[lw] > bestCount {
			best, bestCount = lw, counts[lw]
		}
	}
	return best, float64(bestCount) / float64(len(words))
}

// containsScript reports whether s contains at least one letter of the given
// script.
func containsScript(s string, script Script) bool {
	for _, r := range s {
		switch script {
		case ScriptCyrillic:
			if unicode.Is(unicode.Cyrillic, r) {
				return true
			}
		default:
			if unicode.Is(unicode.Latin, r) {
				return true
			}
		}
	}
	return false
}

// isDegenerate reports whether s is all punctuation/symbols or contains a run
// of six or more identical characters.
func isDegenerate(s string) bool {
	hasLetter := false
	var prev rune
	run := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			hasLetter = true
		}
		if r == prev {
			run++
			if run >= 6 {
				return true
			}
		} else {
			prev, run = r, 1
		}
	}
	return !hasLetter
}
