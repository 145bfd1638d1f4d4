// Package assist drives the cloud language-model calls of a session: the
// quality translation (with intent classification) and question answering.
// It assembles prompts from the accumulated speech, relevant reference
// context, and glossary terminology, and parses the model's tagged streaming
// response into partial field updates.
package assist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tolk-ai/tolk/internal/glossary"
	"github.com/tolk-ai/tolk/pkg/provider/llm"
)

const (
	// defaultMaxContextChars caps how much retrieved reference text is
	// injected into a prompt.
	defaultMaxContextChars = 1500

	// maxGlossaryHints caps the terminology lines appended to a prompt.
	maxGlossaryHints = 12

	qualityTemperature = 0.2
	answerTemperature  = 0.4
)

// ContextSource supplies reference text relevant to a query. Satisfied by
// the TF-IDF retriever.
type ContextSource interface {
	RelevantContext(query string, maxChars int) string
}

// QualityResult is the outcome of one quality-translation call.
type QualityResult struct {
	// Translation is the model's rendering of the accumulated text.
	Translation string

	// Intent is the classification parsed from the analysis section.
	Intent Intent

	// Sections holds the raw parsed sections, for logging.
	Sections Sections
}

// AnswerResult is the outcome of one answer-generation call.
type AnswerResult struct {
	// InputTranslation renders the question in the responder's language.
	InputTranslation string

	// Analysis is the model's reading of what is being asked.
	Analysis string

	// Strategy is the suggested approach for the response.
	Strategy string

	// Answer is the proposed response in the responder's language.
	Answer string

	// AnswerTranslation renders the answer back in the asker's language.
	AnswerTranslation string
}

// PartialFunc receives the parsed sections after every stream chunk, so the
// caller can render fields as they grow.
type PartialFunc func(Sections)

// Assist owns the prompts and stream parsing for one language pair.
// Assist is safe for concurrent use.
type Assist struct {
	provider llm.Provider
	context  ContextSource
	terms    []glossary.Term

	srcLang string
	tgtLang string

	maxContextChars int
	logger          *slog.Logger
}

// Option is a functional option for Assist.
type Option func(*Assist)

// WithContextSource enables reference-context injection into prompts.
func WithContextSource(cs ContextSource) Option {
	return func(a *Assist) { a.context = cs }
}

// WithGlossary enables terminology hints from the given glossary.
func WithGlossary(gf *glossary.File) Option {
	return func(a *Assist) { a.terms = gf.Terms }
}

// WithMaxContextChars overrides the reference-context budget.
func WithMaxContextChars(n int) Option {
	return func(a *Assist) { a.maxContextChars = n }
}

// WithLogger sets the logger. Default: slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assist) { a.logger = l }
}

// New creates an Assist translating srcLang speech into tgtLang.
func New(provider llm.Provider, srcLang, tgtLang string, opts ...Option) *Assist {
	a := &Assist{
		provider:        provider,
		srcLang:         srcLang,
		tgtLang:         tgtLang,
		maxContextChars: defaultMaxContextChars,
		logger:          slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "assist")
	return a
}

// QualityTranslate translates the accumulated text through the cloud model
// and classifies the speech. onPartial may be nil. Cancellation is returned
// as ctx.Err() so callers can distinguish it from failure.
func (a *Assist) QualityTranslate(ctx context.Context, text string, onPartial PartialFunc) (QualityResult, error) {
	prompt, err := a.buildQualityPrompt(ctx, text)
	if err != nil {
		return QualityResult{}, err
	}

	sections, err := a.stream(ctx, llm.CompletionRequest{
		SystemPrompt: a.qualitySystemPrompt(),
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  qualityTemperature,
	}, onPartial)
	if err != nil {
		return QualityResult{}, err
	}

	res := QualityResult{
		Translation: sections.Translation,
		Intent:      ParseIntent(sections.Analysis),
		Sections:    sections,
	}
	if res.Translation == "" {
		return res, fmt.Errorf("assist: quality response missing translation section")
	}
	return res, nil
}

// GenerateAnswer proposes a response to the question contained in the
// accumulated conversation. onPartial may be nil.
func (a *Assist) GenerateAnswer(ctx context.Context, conversation string, onPartial PartialFunc) (AnswerResult, error) {
	prompt, err := a.buildAnswerPrompt(ctx, conversation)
	if err != nil {
		return AnswerResult{}, err
	}

	sections, err := a.stream(ctx, llm.CompletionRequest{
		SystemPrompt: a.answerSystemPrompt(),
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  answerTemperature,
	}, onPartial)
	if err != nil {
		return AnswerResult{}, err
	}

	res := AnswerResult{
		InputTranslation:  sections.InputTranslation,
		Analysis:          sections.Analysis,
		Strategy:          sections.Strategy,
		Answer:            sections.Answer,
		AnswerTranslation: sections.Translation,
	}
	if res.Answer == "" {
		return res, fmt.Errorf("assist: answer response missing answer section")
	}
	return res, nil
}

// stream runs one streaming completion, reparsing the accumulated response
// after each chunk and reporting partial sections.
func (a *Assist) stream(ctx context.Context, req llm.CompletionRequest, onPartial PartialFunc) (Sections, error) {
	ch, err := a.provider.StreamCompletion(ctx, req)
	if err != nil {
		return Sections{}, fmt.Errorf("assist: start stream: %w", err)
	}

	var raw strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			return Sections{}, fmt.Errorf("assist: stream failed: %s", chunk.Text)
		}
		if chunk.Text == "" {
			continue
		}
		raw.WriteString(chunk.Text)
		if onPartial != nil {
			onPartial(ParseSections(raw.String()))
		}
	}
	if err := ctx.Err(); err != nil {
		return Sections{}, err
	}
	return ParseSections(raw.String()), nil
}

// buildQualityPrompt assembles the translation prompt. Reference context and
// terminology hints are gathered concurrently.
func (a *Assist) buildQualityPrompt(ctx context.Context, text string) (string, error) {
	refContext, hints, err := a.gatherContext(ctx, text)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Translate the transcript below. Respond with exactly these sections:\n")
	b.WriteString("[TRANSLATION] the full translation [/TRANSLATION]\n")
	b.WriteString("[ANALYSIS] type: one of QUESTION, INFO, STORY, SMALL_TALK. ")
	b.WriteString("question_confidence: 0-100, how certain you are the speaker is asking the listener something. [/ANALYSIS]\n")
	writeContextBlocks(&b, refContext, hints)
	b.WriteString("\nTranscript:\n")
	b.WriteString(text)
	return b.String(), nil
}

// buildAnswerPrompt assembles the answer-generation prompt over the whole
// accumulated conversation.
func (a *Assist) buildAnswerPrompt(ctx context.Context, conversation string) (string, error) {
	refContext, hints, err := a.gatherContext(ctx, conversation)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("The conversation below ends in a question directed at me. ")
	b.WriteString("Propose how I should answer. Respond with exactly these sections:\n")
	b.WriteString("[INPUT_TRANSLATION] the question, translated [/INPUT_TRANSLATION]\n")
	b.WriteString("[ANALYSIS] what is actually being asked [/ANALYSIS]\n")
	b.WriteString("[STRATEGY] how to approach the answer [/STRATEGY]\n")
	b.WriteString("[ANSWER] the proposed answer, in my language [/ANSWER]\n")
	b.WriteString("[TRANSLATION] the answer, translated for the asker [/TRANSLATION]\n")
	writeContextBlocks(&b, refContext, hints)
	b.WriteString("\nConversation:\n")
	b.WriteString(conversation)
	return b.String(), nil
}

// gatherContext fetches reference context and terminology hints in parallel.
// The retriever query is the tail of the text, where the current topic lives.
func (a *Assist) gatherContext(ctx context.Context, text string) (refContext string, hints []string, err error) {
	g, _ := errgroup.WithContext(ctx)

	if a.context != nil {
		g.Go(func() error {
			refContext = a.context.RelevantContext(lastWords(text, 40), a.maxContextChars)
			return nil
		})
	}
	g.Go(func() error {
		hints = a.glossaryHints(text)
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", nil, fmt.Errorf("assist: gather context: %w", err)
	}
	return refContext, hints, nil
}

func writeContextBlocks(b *strings.Builder, refContext string, hints []string) {
	if refContext != "" {
		b.WriteString("\nReference material (may be relevant, ignore if not):\n")
		b.WriteString(refContext)
		b.WriteString("\n")
	}
	if len(hints) > 0 {
		b.WriteString("\nFixed terminology, use these exact renderings:\n")
		for _, h := range hints {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}
}

// glossaryHints lists the canonical renderings of glossary terms that occur
// in the text.
func (a *Assist) glossaryHints(text string) []string {
	if len(a.terms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var hints []string
	for _, term := range a.terms {
		if !strings.Contains(lower, strings.ToLower(term.Source)) {
			continue
		}
		hints = append(hints, term.Source+" → "+term.Canonical)
		if len(hints) == maxGlossaryHints {
			break
		}
	}
	return hints
}

// lastWords returns the final n words of text.
func lastWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

func (a *Assist) qualitySystemPrompt() string {
	return fmt.Sprintf(
		"You are a professional interpreter. Translate spoken %s into natural %s, preserving meaning over literal wording. The input is a live transcript and may contain recognition errors; translate the most plausible reading.",
		languageName(a.srcLang), languageName(a.tgtLang))
}

func (a *Assist) answerSystemPrompt() string {
	return fmt.Sprintf(
		"You assist a %s speaker in a conversation held in %s. Be concise and practical; the speaker will read your suggestion while the conversation is ongoing.",
		languageName(a.tgtLang), languageName(a.srcLang))
}

// languageName expands common codes for prompt readability.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "nb", "no", "nn":
		return "Norwegian"
	case "en":
		return "English"
	case "ru":
		return "Russian"
	case "uk":
		return "Ukrainian"
	case "de":
		return "German"
	case "pl":
		return "Polish"
	default:
		return code
	}
}
