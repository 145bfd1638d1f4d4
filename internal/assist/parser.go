package assist

import "strings"

// Section tags emitted by the model. A section runs from its opening tag to
// the matching closing tag, or is implicitly closed by the next tag or the
// end of the stream. The parser is called on every growing prefix of the
// response, so unclosed content is expected and returned as-is.
const (
	TagInputTranslation = "INPUT_TRANSLATION"
	TagAnalysis         = "ANALYSIS"
	TagStrategy         = "STRATEGY"
	TagTranslation      = "TRANSLATION"
	TagAnswer           = "ANSWER"
)

var knownTags = []string{
	TagInputTranslation,
	TagAnalysis,
	TagStrategy,
	TagTranslation,
	TagAnswer,
}

// Sections holds the tagged fields extracted from a model response. Fields
// for tags not present in the response stay empty.
type Sections struct {
	InputTranslation string
	Analysis         string
	Strategy         string
	Translation      string
	Answer           string
}

// marker is one recognized [TAG] or [/TAG] occurrence.
type marker struct {
	start   int // index of '['
	end     int // index just past ']'
	tag     string
	closing bool
}

// ParseSections extracts tagged sections from a complete or partial model
// response. Text before the first tag is ignored.
func ParseSections(raw string) Sections {
	raw = trimPartialTag(raw)
	markers := findMarkers(raw)

	var s Sections
	for i, m := range markers {
		if m.closing {
			continue
		}
		contentEnd := len(raw)
		if i+1 < len(markers) {
			contentEnd = markers[i+1].start
		}
		content := strings.TrimSpace(raw[m.end:contentEnd])
		s.set(m.tag, content)
	}
	return s
}

func (s *Sections) set(tag, content string) {
	switch tag {
	case TagInputTranslation:
		s.InputTranslation = content
	case TagAnalysis:
		s.Analysis = content
	case TagStrategy:
		s.Strategy = content
	case TagTranslation:
		s.Translation = content
	case TagAnswer:
		s.Answer = content
	}
}

// findMarkers locates every known opening and closing tag in order.
func findMarkers(raw string) []marker {
	var out []marker
	for i := 0; i < len(raw); i++ {
		if raw[i] != '[' {
			continue
		}
		j := strings.IndexByte(raw[i:], ']')
		if j < 0 {
			break
		}
		token := raw[i+1 : i+j]
		closing := strings.HasPrefix(token, "/")
		name := strings.TrimPrefix(token, "/")
		if isKnownTag(name) {
			out = append(out, marker{start: i, end: i + j + 1, tag: name, closing: closing})
			i += j
		}
	}
	return out
}

func isKnownTag(name string) bool {
	for _, t := range knownTags {
		if name == t {
			return true
		}
	}
	return false
}

// trimPartialTag drops a trailing, not-yet-complete tag marker so that a
// stream cut mid-tag (e.g. "...text [TRANS") does not leak tag fragments
// into section content.
func trimPartialTag(raw string) string {
	i := strings.LastIndexByte(raw, '[')
	if i < 0 || strings.IndexByte(raw[i:], ']') >= 0 {
		return raw
	}
	candidate := strings.TrimPrefix(raw[i+1:], "/")
	for _, t := range knownTags {
		if strings.HasPrefix(t, candidate) {
			return raw[:i]
		}
	}
	return raw
}
