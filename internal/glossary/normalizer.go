package glossary

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/tolk-ai/tolk/internal/cache"
)

const (
	// defaultCacheSize bounds the normaliser result cache.
	defaultCacheSize = 128

	// cacheKeyPrefixLen is how many leading characters of the input identify
	// a cache entry. Live transcripts mostly re-submit the same growing text,
	// so a prefix key gives high hit rates at small key size.
	cacheKeyPrefixLen = 160

	// fuzzyThreshold is the minimum Jaro-Winkler similarity for treating a
	// word as a mis-transcribed spelling of a source term.
	fuzzyThreshold = 0.88
)

// Normalizer applies a [File] glossary to translated text.
//
// Normalizer is safe for concurrent use: the glossary is read-only after
// construction and the result cache handles its own synchronisation.
type Normalizer struct {
	terms        []Term
	caseTriggers map[string]string // lowercased function word → case name
	formIndex    map[string]*formRef
	maxFormWords int
	results      *cache.Bounded[string, string]
}

// indexForm registers a known word form (possibly multi-word) for lookup.
func (nm *Normalizer) indexForm(form string, term *Term) {
	key := strings.ToLower(strings.TrimSpace(form))
	if key == "" {
		return
	}
	nm.formIndex[key] = &formRef{term: term}
	if n := len(strings.Fields(key)); n > nm.maxFormWords {
		nm.maxFormWords = n
	}
}

// formRef points a known word form back to its term.
type formRef struct {
	term *Term
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithCacheSize overrides the result cache capacity. Default: 128.
func WithCacheSize(n int) Option {
	return func(nm *Normalizer) {
		nm.results = cache.NewBounded[string, string](n)
	}
}

// NewNormalizer builds a [Normalizer] from a loaded glossary file.
func NewNormalizer(gf *File, opts ...Option) *Normalizer {
	nm := &Normalizer{
		terms:        gf.Terms,
		caseTriggers: make(map[string]string, len(gf.CaseTriggers)),
		formIndex:    make(map[string]*formRef),
		results:      cache.NewBounded[string, string](defaultCacheSize),
	}
	for trigger, caseName := range gf.CaseTriggers {
		nm.caseTriggers[strings.ToLower(trigger)] = caseName
	}
	for i := range nm.terms {
		term := &nm.terms[i]
		nm.indexForm(term.Canonical, term)
		for _, form := range term.Inflections {
			nm.indexForm(form, term)
		}
	}
	for _, o := range opts {
		o(nm)
	}
	return nm
}

// Process rewrites glossary terms in text to their canonical forms and
// applies grammatical-case inflection driven by the preceding function word.
//
// Results are cached by a prefix of the input so repeated processing of the
// same growing transcript is cheap.
func (nm *Normalizer) Process(text string) string {
	if text == "" || len(nm.terms) == 0 {
		return text
	}

	key := cacheKey(text)
	if cached, ok := nm.results.Get(key); ok {
		return cached
	}

	out := nm.replaceSourceForms(text)
	out = nm.applyInflections(out)

	nm.results.Put(key, out)
	return out
}

// replaceSourceForms replaces exact-word matches of each term's source form
// with the canonical target form. Matching is case-insensitive; an all-caps
// match keeps the replacement in all caps. Terms whose source or canonical
// form does not appear anywhere in the text (case-insensitively) are skipped
// without tokenising.
//
// Words that do not match exactly are additionally tested with Jaro-Winkler
// similarity against the source form, so terms mangled by speech recognition
// ("styrings gruppa", "stiringsgruppe") still normalise.
func (nm *Normalizer) replaceSourceForms(text string) string {
	lowerText := strings.ToLower(text)

	for i := range nm.terms {
		term := &nm.terms[i]
		srcLower := strings.ToLower(term.Source)
		if !strings.Contains(lowerText, srcLower) &&
			!strings.Contains(lowerText, strings.ToLower(term.Canonical)) &&
			!fuzzyPresent(lowerText, srcLower) {
			continue
		}

		words := strings.Fields(text)
		changed := false
		for wi, w := range words {
			core, trailing := splitTrailingPunct(w)
			coreLower := strings.ToLower(core)

			match := coreLower == srcLower
			if !match && len(coreLower) > 3 {
				match = matchr.JaroWinkler(coreLower, srcLower, false) >= fuzzyThreshold
			}
			if !match {
				continue
			}

			replacement := term.Canonical
			if isAllCaps(core) {
				replacement = strings.ToUpper(replacement)
			}
			words[wi] = replacement + trailing
			changed = true
		}
		if changed {
			text = strings.Join(words, " ")
			lowerText = strings.ToLower(text)
		}
	}
	return text
}

// applyInflections scans word-by-word and replaces any recognised form of a
// term with the inflected form required by the immediately preceding function
// word. Multi-word forms are matched as n-gram windows, longest first.
// Leading-capital casing and the trailing punctuation of the window's last
// word are preserved.
func (nm *Normalizer) applyInflections(text string) string {
	words := strings.Fields(text)
	if len(words) < 2 || nm.maxFormWords == 0 {
		return text
	}

	var out []string
	changed := false

	i := 0
	for i < len(words) {
		if len(out) == 0 {
			out = append(out, words[i])
			i++
			continue
		}

		prev, _ := splitTrailingPunct(out[len(out)-1])
		caseName, triggered := nm.caseTriggers[strings.ToLower(prev)]
		if !triggered {
			out = append(out, words[i])
			i++
			continue
		}

		matched := false
		maxN := nm.maxFormWords
		if i+maxN > len(words) {
			maxN = len(words) - i
		}
		for n := maxN; n >= 1; n-- {
			window := words[i : i+n]
			lastCore, trailing := splitTrailingPunct(window[n-1])

			cores := make([]string, n)
			copy(cores, window[:n-1])
			cores[n-1] = lastCore
			key := strings.ToLower(strings.Join(cores, " "))

			ref, ok := nm.formIndex[key]
			if !ok {
				continue
			}
			inflected, ok := ref.term.Inflections[caseName]
			if !ok {
				continue
			}

			if isLeadingCapital(window[0]) {
				inflected = capitalize(inflected)
			}
			out = append(out, strings.Fields(inflected+trailing)...)
			i += n
			matched = true
			changed = true
			break
		}
		if !matched {
			out = append(out, words[i])
			i++
		}
	}

	if !changed {
		return text
	}
	return strings.Join(out, " ")
}

// fuzzyPresent reports whether any word of text is Jaro-Winkler-close to form.
func fuzzyPresent(lowerText, form string) bool {
	if len(form) <= 3 {
		return false
	}
	for _, w := range strings.Fields(lowerText) {
		core, _ := splitTrailingPunct(w)
		if len(core) > 3 && matchr.JaroWinkler(core, form, false) >= fuzzyThreshold {
			return true
		}
	}
	return false
}

// cacheKey derives the bounded-length cache key from input text.
func cacheKey(text string) string {
	if len(text) <= cacheKeyPrefixLen {
		return text
	}
	return text[:cacheKeyPrefixLen]
}

// splitTrailingPunct splits a token into its core and any trailing
// punctuation run ("группы," → "группы", ",").
func splitTrailingPunct(w string) (core, trailing string) {
	runes := []rune(w)
	i := len(runes)
	for i > 0 && (unicode.IsPunct(runes[i-1]) || unicode.IsSymbol(runes[i-1])) {
		i--
	}
	return string(runes[:i]), string(runes[i:])
}

// isAllCaps reports whether s contains at least one letter and every letter
// is upper case.
func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// isLeadingCapital reports whether the first letter of s is upper case.
func isLeadingCapital(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// capitalize upper-cases the first rune of s.
func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
